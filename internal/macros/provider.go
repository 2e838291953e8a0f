package macros

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	// AdCIDScope namespaces ad client ids.
	AdCIDScope = "AMP_ECID_GOOGLE"
	// AdCIDCookie is the cookie the ad client id is stored under.
	AdCIDCookie = "_ga"

	// TargetingAttribute holds the element's JSON config blob read by TGT.
	TargetingAttribute = "json"
)

// allowedAttributes is the closed set of element attributes ATTR may read.
// It is deliberately not configurable so that RTC request templates cannot
// pull arbitrary page data into outbound requests.
var allowedAttributes = map[string]struct{}{
	"height":                     {},
	"width":                      {},
	"data-slot":                  {},
	"data-multi-size":            {},
	"data-multi-size-validation": {},
	"data-override-width":        {},
	"data-override-height":       {},
}

// AttributeAllowed reports whether ATTR may read the named attribute.
func AttributeAllowed(name string) bool {
	_, ok := allowedAttributes[strings.ToLower(name)]
	return ok
}

// PageInfo exposes page identity.
type PageInfo interface {
	GetPageViewID() string
	GetHref() string
	GetCanonicalURL() string
}

// ReferrerSource looks up the document referrer, possibly asynchronously.
type ReferrerSource interface {
	GetReferrer(ctx context.Context) (string, error)
}

// ClientIDSource looks up or creates a client id for a scope and cookie.
type ClientIDSource interface {
	GetOrCreate(ctx context.Context, scope, cookieName string) (string, error)
}

// Element is the ad element a macro table is built for.
type Element interface {
	ElementID() string
	Attribute(name string) (string, bool)
	JSONAttribute(name string) map[string]json.RawMessage
}

// Provider builds macro tables for the elements of one page. Tables are
// built lazily and reused for every template an element expands.
type Provider struct {
	page      PageInfo
	referrer  ReferrerSource
	clientIDs ClientIDSource
	logger    *zap.Logger

	mu     sync.Mutex
	tables map[string]Table
}

// NewProvider creates a Provider. clientIDs may be nil, in which case ADCID
// always resolves to absent.
func NewProvider(page PageInfo, referrer ReferrerSource, clientIDs ClientIDSource, logger *zap.Logger) *Provider {
	return &Provider{
		page:      page,
		referrer:  referrer,
		clientIDs: clientIDs,
		logger:    logger.Named("macro_provider"),
		tables:    make(map[string]Table),
	}
}

// Table returns the macro table for elem, building it on first use.
func (p *Provider) Table(elem Element) Table {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.tables[elem.ElementID()]; ok {
		return t
	}
	t := p.build(elem)
	p.tables[elem.ElementID()] = t
	return t
}

func (p *Provider) build(elem Element) Table {
	return Table{
		"PAGEVIEWID": Sync(func(...string) (string, bool) {
			return p.page.GetPageViewID(), true
		}),
		"HREF": Sync(func(...string) (string, bool) {
			return p.page.GetHref(), true
		}),
		"CANONICAL_URL": Sync(func(...string) (string, bool) {
			return p.page.GetCanonicalURL(), true
		}),
		"REFERRER": Async(func(ctx context.Context, _ ...string) (string, bool, error) {
			if p.referrer == nil {
				return "", false, nil
			}
			ref, err := p.referrer.GetReferrer(ctx)
			if err != nil {
				return "", false, err
			}
			return ref, true, nil
		}),
		"TGT": Sync(func(...string) (string, bool) {
			return p.targeting(elem), true
		}),
		"ADCID": Async(func(ctx context.Context, _ ...string) (string, bool, error) {
			if p.clientIDs == nil {
				return "", false, nil
			}
			cid, err := p.clientIDs.GetOrCreate(ctx, AdCIDScope, AdCIDCookie)
			if err != nil {
				return "", false, err
			}
			return cid, cid != "", nil
		}),
		"ATTR": Sync(func(args ...string) (string, bool) {
			return p.attribute(elem, args)
		}),
	}
}

// targeting re-serializes the targeting member of the element's JSON
// attribute. Malformed or missing data yields "{}".
func (p *Provider) targeting(elem Element) string {
	raw, ok := elem.JSONAttribute(TargetingAttribute)["targeting"]
	if !ok {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "{}"
	}
	return buf.String()
}

func (p *Provider) attribute(elem Element, args []string) (string, bool) {
	if len(args) == 0 {
		p.logger.Warn("ATTR macro called without an attribute name",
			zap.String("element", elem.ElementID()))
		return "", false
	}
	name := strings.ToLower(strings.TrimSpace(args[0]))
	if !AttributeAllowed(name) {
		p.logger.Warn("Invalid attribute for ATTR macro",
			zap.String("element", elem.ElementID()),
			zap.String("attribute", name))
		return "", false
	}
	return elem.Attribute(name)
}
