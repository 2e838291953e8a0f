package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/patrickwarner/rtcadserve/internal/resize"
	"github.com/patrickwarner/rtcadserve/internal/targeting"
)

// SizeKey is the targeting key carrying the winning creative size.
const SizeKey = "hb_size"

// DefaultSize is used when targeting carries no usable hb_size.
var DefaultSize = resize.SlotSize{Width: 300, Height: 250}

// Creative describes a placeholder ad served by the fake ad endpoint.
type Creative struct {
	Size      resize.SlotSize
	Targeting *targeting.Map
	Alt       string
}

// SizeFromTargeting picks the creative size from hb_size. The first value
// that parses as WxH wins; otherwise def is returned.
func SizeFromTargeting(t *targeting.Map, def resize.SlotSize) resize.SlotSize {
	if t == nil {
		return def
	}
	values, ok := t.Get(SizeKey)
	if !ok {
		return def
	}
	for _, v := range values {
		if size, err := resize.ParseSize(v); err == nil && size.Width > 0 && size.Height > 0 {
			return size
		}
	}
	return def
}

// ComposeCreativeHTML renders c as a fixed size box listing its targeting
// key-values.
func ComposeCreativeHTML(c Creative) string {
	alt := c.Alt
	if alt == "" {
		alt = "Advertisement"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<div class="creative" data-size="%s" style="width:%dpx;height:%dpx;overflow:hidden;" aria-label="%s">`,
		c.Size, c.Size.Width, c.Size.Height, html.EscapeString(alt))
	if c.Targeting != nil && c.Targeting.Len() > 0 {
		b.WriteString("<dl>")
		for _, e := range c.Targeting.Entries() {
			fmt.Fprintf(&b, "<dt>%s</dt><dd>%s</dd>",
				html.EscapeString(e.Key), html.EscapeString(strings.Join(e.Values, ",")))
		}
		b.WriteString("</dl>")
	}
	b.WriteString("</div>")
	return b.String()
}
