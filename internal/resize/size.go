package resize

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// CreativeSizeHeader carries the returned creative size as "WxH".
const CreativeSizeHeader = "X-CreativeSize"

// SlotSize is a width/height pair in CSS pixels.
type SlotSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s SlotSize) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize parses "WxH". Both dimensions must be non-negative integers.
func ParseSize(v string) (SlotSize, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(v)), "x")
	if !ok {
		return SlotSize{}, fmt.Errorf("size %q: missing separator", v)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width < 0 {
		return SlotSize{}, fmt.Errorf("size %q: invalid width", v)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height < 0 {
		return SlotSize{}, fmt.Errorf("size %q: invalid height", v)
	}
	return SlotSize{Width: width, Height: height}, nil
}

// ExtractSize reads the returned creative size from response headers.
func ExtractSize(h http.Header) (SlotSize, bool) {
	v := h.Get(CreativeSizeHeader)
	if v == "" {
		return SlotSize{}, false
	}
	size, err := ParseSize(v)
	if err != nil {
		return SlotSize{}, false
	}
	return size, true
}

// Attributes is the read-only element attribute view needed to find the
// declared slot size.
type Attributes interface {
	Attribute(name string) (string, bool)
}

// DeclaredSize reads the width and height attributes. Missing or
// non-numeric values count as 0.
func DeclaredSize(attrs Attributes) SlotSize {
	return SlotSize{
		Width:  numericAttr(attrs, "width"),
		Height: numericAttr(attrs, "height"),
	}
}

func numericAttr(attrs Attributes, name string) int {
	v, ok := attrs.Attribute(name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
