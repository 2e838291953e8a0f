package urlbuilder

import (
	"net/url"
	"strings"
)

// TruncParam is appended when a URL had to be shortened to fit maxLength.
const TruncParam = "trunc=1"

// Param is a single query parameter. A nil Value means the parameter is
// omitted from the built URL.
type Param struct {
	Key   string
	Value *string
}

// String returns a Param value pointer for s.
func String(s string) *string {
	return &s
}

// componentReplacer restores the characters that encodeURIComponent leaves
// untouched but url.QueryEscape escapes.
var componentReplacer = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// EncodeURIComponent percent-encodes s using the browser encodeURIComponent
// character set.
func EncodeURIComponent(s string) string {
	return componentReplacer.Replace(url.QueryEscape(s))
}

// DecodeURIComponent reverses EncodeURIComponent.
func DecodeURIComponent(s string) (string, error) {
	return url.PathUnescape(s)
}

// BuildURL appends params to base as a query string, skipping nil values.
// When a parameter would push the URL past maxLength its value is cut on an
// escape-safe boundary, TruncParam is appended and later params are dropped.
// A non-positive maxLength disables the bound.
func BuildURL(base string, params []Param, maxLength int) string {
	var b strings.Builder
	b.WriteString(base)

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}

	for _, p := range params {
		if p.Value == nil {
			continue
		}
		param := EncodeURIComponent(p.Key) + "=" + EncodeURIComponent(*p.Value)

		if maxLength > 0 && b.Len()+len(sep)+len(param) > maxLength {
			room := maxLength - b.Len() - len(sep) - len("&"+TruncParam)
			if room > len(p.Key)+1 {
				b.WriteString(sep)
				b.WriteString(cutEscaped(param, room))
				sep = "&"
			}
			if b.Len()+len(sep)+len(TruncParam) <= maxLength {
				b.WriteString(sep)
				b.WriteString(TruncParam)
			}
			break
		}

		b.WriteString(sep)
		b.WriteString(param)
		sep = "&"
	}

	return b.String()
}

// cutEscaped shortens s to at most n bytes without splitting a %XX escape.
func cutEscaped(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	if i := strings.LastIndexByte(s, '%'); i >= 0 && i > len(s)-3 {
		s = s[:i]
	}
	return s
}
