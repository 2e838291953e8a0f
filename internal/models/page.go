package models

import "context"

// Page is the page-level context an ad element lives in. The server builds it
// from the request so that page identity, location and referrer are stable for
// every macro resolved during one page view.
type Page struct {
	// PageViewID identifies one rendering of the page. All slots on the page share it.
	PageViewID string `json:"pageview_id"`
	// Href is the current page location.
	Href string `json:"href"`
	// CanonicalURL is the page's declared canonical URL.
	CanonicalURL string `json:"canonical_url"`
	// Referrer is the document referrer, already known to the caller.
	Referrer string `json:"referrer"`
}

// GetPageViewID returns the page view id.
func (p Page) GetPageViewID() string { return p.PageViewID }

// GetHref returns the page location.
func (p Page) GetHref() string { return p.Href }

// GetCanonicalURL returns the canonical URL.
func (p Page) GetCanonicalURL() string { return p.CanonicalURL }

// GetReferrer returns the referrer. It never blocks.
func (p Page) GetReferrer(ctx context.Context) (string, error) {
	return p.Referrer, nil
}
