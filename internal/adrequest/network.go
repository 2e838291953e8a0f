package adrequest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/rtcadserve/internal/models"
	"github.com/patrickwarner/rtcadserve/internal/observability"
	"github.com/patrickwarner/rtcadserve/internal/resize"
	"github.com/patrickwarner/rtcadserve/internal/targeting"
)

var tracer = observability.Tracer("adrequest")

// TargetingResolver turns settled RTC results into an ad URL.
type TargetingResolver interface {
	ResolveAdURL(results []targeting.Result) string
}

// SizeReconciler reconciles a returned creative size with the slot.
type SizeReconciler interface {
	Reconcile(ctx context.Context, req resize.Request) <-chan resize.Outcome
}

// Attempt is one ad request for one slot. Its URL is settled exactly once.
type Attempt struct {
	ID   string
	Slot models.Slot
	URL  *Deferred[string]
}

// Network drives the fetch side of the ad lifecycle for a fake DFP style
// network: RTC results to URL, URL to response, response headers to resize.
type Network struct {
	resolver   TargetingResolver
	reconciler SizeReconciler
	fetcher    Fetcher
	logger     *zap.Logger

	mu       sync.Mutex
	attempts map[string]*Attempt
}

// NewNetwork wires the pipeline collaborators.
func NewNetwork(resolver TargetingResolver, reconciler SizeReconciler, fetcher Fetcher, logger *zap.Logger) *Network {
	return &Network{
		resolver:   resolver,
		reconciler: reconciler,
		fetcher:    fetcher,
		logger:     logger.Named("ad_network"),
		attempts:   make(map[string]*Attempt),
	}
}

// GetAdURL starts an attempt for slot. The attempt URL is settled once rtc
// delivers its results. A nil rtc channel counts as already settled with no
// results; a closed channel or a done ctx settles with no results too, so
// the URL is always delivered.
func (n *Network) GetAdURL(ctx context.Context, slot models.Slot, rtc <-chan []targeting.Result) *Attempt {
	a := &Attempt{ID: uuid.NewString(), Slot: slot, URL: NewDeferred[string]()}

	n.mu.Lock()
	n.attempts[a.ID] = a
	n.mu.Unlock()

	settle := func(results []targeting.Result) {
		if err := a.URL.Resolve(n.resolver.ResolveAdURL(results)); err != nil {
			n.logger.Error("Ad URL settled twice",
				zap.String("request_id", a.ID),
				zap.Error(err))
		}
	}

	if rtc == nil {
		settle(nil)
		return a
	}

	go func() {
		select {
		case results := <-rtc:
			settle(results)
		case <-ctx.Done():
			n.logger.Warn("RTC results not delivered before request ended",
				zap.String("request_id", a.ID),
				zap.Error(ctx.Err()))
			settle(nil)
		}
	}()
	return a
}

// Attempt returns an in-flight attempt by request id.
func (n *Network) Attempt(id string) (*Attempt, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.attempts[id]
	return a, ok
}

// Release forgets an attempt.
func (n *Network) Release(id string) {
	n.mu.Lock()
	delete(n.attempts, id)
	n.mu.Unlock()
}

// SendRequest waits for the attempt URL and fetches it.
func (n *Network) SendRequest(ctx context.Context, a *Attempt) (*Response, error) {
	adURL, err := a.URL.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for ad url: %w", err)
	}
	return n.fetcher.Fetch(ctx, adURL)
}

// ExtractSize reads the creative size from the response headers and, when
// present, hands it to the reconciler without waiting for the outcome.
func (n *Network) ExtractSize(ctx context.Context, a *Attempt, resp *Response) (resize.SlotSize, bool) {
	size, ok := resize.ExtractSize(resp.Header)
	if !ok {
		return size, false
	}
	n.reconciler.Reconcile(ctx, resize.Request{
		RequestID: a.ID,
		SlotID:    a.Slot.ID,
		Declared:  resize.DeclaredSize(a.Slot),
		Returned:  size,
	})
	return size, true
}

// Rendered is the outcome of a full Render call.
type Rendered struct {
	RequestID  string          `json:"request_id"`
	AdURL      string          `json:"ad_url"`
	StatusCode int             `json:"status"`
	Size       resize.SlotSize `json:"size"`
	SizeKnown  bool            `json:"size_known"`
	Creative   string          `json:"creative"`
}

// Render runs one attempt end to end for slot.
func (n *Network) Render(ctx context.Context, slot models.Slot, rtc <-chan []targeting.Result) (*Rendered, error) {
	ctx, span := tracer.Start(ctx, "Network.Render",
		trace.WithAttributes(attribute.String("slot_id", slot.ID)))
	defer span.End()

	a := n.GetAdURL(ctx, slot, rtc)
	defer n.Release(a.ID)
	span.SetAttributes(attribute.String("request_id", a.ID))

	resp, err := n.SendRequest(ctx, a)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	adURL, _ := a.URL.Wait(ctx)
	out := &Rendered{
		RequestID:  a.ID,
		AdURL:      adURL,
		StatusCode: resp.StatusCode,
		Creative:   string(resp.Body),
	}
	out.Size, out.SizeKnown = n.ExtractSize(ctx, a, resp)
	return out, nil
}
