package models

import (
	"encoding/json"
	"strings"
)

// Slot represents an ad element declared on a publisher page. It carries the
// element's static attributes exactly as the page declared them, which is the
// only page-side state the RTC pipeline reads.
type Slot struct {
	// ID is the publisher-defined identifier of the ad element (e.g., "article-top-300x250").
	// It keys the lazily built macro table, so two elements never share one.
	ID string `json:"id"`
	// PublisherID ties the slot to the publisher that declared it.
	PublisherID int `json:"publisher_id"`
	// Attributes are the element's attributes keyed by lower-case name
	// (e.g., "width", "height", "data-slot", "json"). Values are raw strings.
	// The pipeline treats them as read-only.
	Attributes map[string]string `json:"attributes"`
}

// NewSlot builds a Slot, lower-casing attribute names.
func NewSlot(id string, publisherID int, attrs map[string]string) Slot {
	normalized := make(map[string]string, len(attrs))
	for k, v := range attrs {
		normalized[strings.ToLower(k)] = v
	}
	return Slot{ID: id, PublisherID: publisherID, Attributes: normalized}
}

// ElementID returns the slot identifier.
func (s Slot) ElementID() string {
	return s.ID
}

// Attribute returns the raw value of the named attribute. Names are matched
// case-insensitively.
func (s Slot) Attribute(name string) (string, bool) {
	v, ok := s.Attributes[strings.ToLower(name)]
	return v, ok
}

// JSONAttribute parses the named attribute as a JSON object. Missing or
// malformed values yield an empty object.
func (s Slot) JSONAttribute(name string) map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	raw, ok := s.Attribute(name)
	if !ok || raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]json.RawMessage{}
	}
	return out
}
