package adrequest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxCreativeBytes bounds how much of an ad response body is read.
const maxCreativeBytes = 1 << 20

// Response is the part of an ad response the pipeline consumes.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Fetcher sends an ad request.
type Fetcher interface {
	Fetch(ctx context.Context, adURL string) (*Response, error)
}

// HTTPFetcher fetches ad responses over HTTP with tracing.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Fetch issues a GET for adURL and reads the body.
func (f *HTTPFetcher) Fetch(ctx context.Context, adURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, adURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build ad request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send ad request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCreativeBytes))
	if err != nil {
		return nil, fmt.Errorf("read ad response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}
