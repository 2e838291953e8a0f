package macros

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/patrickwarner/rtcadserve/internal/observability"
	"github.com/patrickwarner/rtcadserve/internal/urlbuilder"
)

// Expander substitutes macros in RTC request templates. A macro occurrence
// is its upper-case name optionally followed by a parenthesized argument
// list, e.g. PAGEVIEWID, ATTR(data-slot) or ADCID(500).
type Expander struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewExpander creates an Expander backed by d.
func NewExpander(d *Dispatcher, logger *zap.Logger) *Expander {
	return &Expander{dispatcher: d, logger: logger.Named("macro_expander")}
}

// pattern matches any macro name in t. Longer names are tried first so that
// one name being a prefix of another never shadows it.
func pattern(t Table) *regexp.Regexp {
	names := t.Names()
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	for i, n := range names {
		names[i] = regexp.QuoteMeta(n)
	}
	return regexp.MustCompile(`\b(` + strings.Join(names, "|") + `)\b(?:\(([^)]*)\))?`)
}

func parseCall(m []string) Call {
	call := Call{Name: m[1]}
	if strings.TrimSpace(m[2]) != "" {
		for _, a := range strings.Split(m[2], ",") {
			call.Args = append(call.Args, strings.TrimSpace(a))
		}
	}
	return call
}

// Expand resolves every macro occurrence in template concurrently and
// substitutes the URI-encoded values. Absent or failed macros expand to
// the empty string.
func (e *Expander) Expand(ctx context.Context, template string, t Table) string {
	if template == "" || len(t) == 0 {
		return template
	}

	re := pattern(t)
	matches := re.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return template
	}

	seen := make(map[string]int)
	var calls []Call
	for _, m := range matches {
		if _, ok := seen[m[0]]; ok {
			continue
		}
		seen[m[0]] = len(calls)
		calls = append(calls, parseCall(m))
	}

	outcomes := e.dispatcher.ResolveAll(ctx, t, calls)

	expanded := re.ReplaceAllStringFunc(template, func(occurrence string) string {
		out := outcomes[seen[occurrence]]
		if out.Err != nil || !out.OK {
			return ""
		}
		return urlbuilder.EncodeURIComponent(out.Value)
	})

	if observability.ShouldSample(observability.GetSamplingRate()) {
		e.logger.Debug("Expanded RTC template",
			zap.String("template", template),
			zap.Int("macros_found", len(calls)))
	}

	return expanded
}

// Unsupported lists macro-like tokens in template that t does not define.
// Tokens are upper-case words followed by a parenthesized argument list.
func Unsupported(template string, t Table) []string {
	var out []string
	for _, m := range callLike.FindAllStringSubmatch(template, -1) {
		if _, ok := t.Lookup(m[1]); !ok {
			out = append(out, m[1])
		}
	}
	return out
}

var callLike = regexp.MustCompile(`\b([A-Z][A-Z0-9_]*)\(`)
