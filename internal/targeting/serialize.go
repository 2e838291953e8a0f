package targeting

import (
	"fmt"
	"strings"

	"github.com/patrickwarner/rtcadserve/internal/urlbuilder"
)

// ScpParam is the query parameter carrying serialized targeting.
const ScpParam = "scp"

func serializeEntry(e Entry) string {
	values := make([]string, len(e.Values))
	for i, v := range e.Values {
		values[i] = urlbuilder.EncodeURIComponent(v)
	}
	return urlbuilder.EncodeURIComponent(e.Key) + "=" + strings.Join(values, ",")
}

// Serialize joins the targeting entries as key=v1,v2&key2=v. It returns nil
// when there is nothing to serialize.
func Serialize(t *Map) *string {
	entries := t.Entries()
	if len(entries) == 0 {
		return nil
	}
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = serializeEntry(e)
	}
	s := strings.Join(parts, "&")
	return &s
}

// Parse reverses Serialize. Keys with more than one value are returned as
// multi-value entries.
func Parse(scp string) (*Map, error) {
	m := NewMap()
	if scp == "" {
		return m, nil
	}
	for _, item := range strings.Split(scp, "&") {
		rawKey, rawValues, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("targeting: malformed item %q", item)
		}
		key, err := urlbuilder.DecodeURIComponent(rawKey)
		if err != nil {
			return nil, fmt.Errorf("targeting: key %q: %w", rawKey, err)
		}

		parts := strings.Split(rawValues, ",")
		values := make([]string, len(parts))
		for i, p := range parts {
			if values[i], err = urlbuilder.DecodeURIComponent(p); err != nil {
				return nil, fmt.Errorf("targeting: value for %q: %w", key, err)
			}
		}

		if len(values) > 1 {
			m.SetMulti(key, values...)
		} else {
			m.Set(key, values[0])
		}
	}
	return m, nil
}
