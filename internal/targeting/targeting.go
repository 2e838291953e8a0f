package targeting

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Entry is one targeting key with its value(s). Multi records whether the
// source carried a list, even a list of one.
type Entry struct {
	Key    string
	Values []string
	Multi  bool
}

// Map is an ordered targeting key/value mapping as produced by an RTC
// response. Key order follows the source document.
type Map struct {
	entries []Entry
	index   map[string]int
}

// NewMap returns an empty targeting map.
func NewMap() *Map {
	return &Map{index: make(map[string]int)}
}

// Set assigns a single value to key, replacing any previous value in place.
func (m *Map) Set(key, value string) {
	m.put(Entry{Key: key, Values: []string{value}})
}

// SetMulti assigns an ordered list of values to key.
func (m *Map) SetMulti(key string, values ...string) {
	m.put(Entry{Key: key, Values: append([]string(nil), values...), Multi: true})
}

func (m *Map) put(e Entry) {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[e.Key]; ok {
		m.entries[i] = e
		return
	}
	m.index[e.Key] = len(m.entries)
	m.entries = append(m.entries, e)
}

// Get returns the values stored under key.
func (m *Map) Get(key string) ([]string, bool) {
	if m == nil {
		return nil, false
	}
	i, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return m.entries[i].Values, true
}

// Entries returns the entries in enumeration order.
func (m *Map) Entries() []Entry {
	if m == nil {
		return nil
	}
	return m.entries
}

// Len reports the number of keys.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// UnmarshalJSON decodes a JSON object while keeping its key order. String
// values and arrays of strings map directly; any other JSON value is kept
// as its compact literal text.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("targeting: expected object, got %v", tok)
	}

	*m = Map{index: make(map[string]int)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("targeting: unexpected key %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("targeting: value for %q: %w", key, err)
		}
		m.put(decodeEntry(key, raw))
	}

	_, err = dec.Token()
	return err
}

func decodeEntry(key string, raw json.RawMessage) Entry {
	if isNull(raw) {
		return Entry{Key: key, Values: []string{"null"}}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return Entry{Key: key, Values: []string{s}}
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		values := make([]string, 0, len(list))
		for _, item := range list {
			values = append(values, literal(item))
		}
		return Entry{Key: key, Values: values, Multi: true}
	}

	return Entry{Key: key, Values: []string{literal(raw)}}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func literal(raw json.RawMessage) string {
	var s string
	if isNull(raw) {
		return "null"
	}
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// MarshalJSON encodes the map as a JSON object in enumeration order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m.Entries() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')

		var v []byte
		if e.Multi {
			v, err = json.Marshal(e.Values)
		} else {
			v, err = json.Marshal(e.Values[0])
		}
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Result is the settled outcome of one RTC callout.
type Result struct {
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
	Callout  string    `json:"callout,omitempty"`
	RtcTime  int       `json:"rtcTime,omitempty"`
}

// Response is the payload of a successful callout.
type Response struct {
	Targeting *Map `json:"targeting,omitempty"`
}
