package resize

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/patrickwarner/rtcadserve/internal/observability"
)

// ErrSizeChangeDenied is returned by a SizeChanger that refuses a change.
var ErrSizeChangeDenied = errors.New("size change denied")

// Outcome is the result of reconciling one ad response.
type Outcome string

const (
	// OutcomeUnchanged means the returned size matched the declared size.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeAccepted means the host applied the size change.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeDenied means the host refused or failed the size change.
	OutcomeDenied Outcome = "denied"
	// OutcomeDuplicate means the request id was already reconciled.
	OutcomeDuplicate Outcome = "duplicate"
)

// SizeChanger asks the host to resize a slot. A nil error means accepted.
type SizeChanger interface {
	RequestSizeChange(ctx context.Context, height, width int) error
}

// Recorder persists reconciliation outcomes.
type Recorder interface {
	RecordResize(ctx context.Context, req Request, outcome Outcome) error
}

// Request describes one ad response to reconcile.
type Request struct {
	RequestID string
	SlotID    string
	Declared  SlotSize
	Returned  SlotSize
}

// Reconciler compares returned creative sizes with declared slot sizes and
// requests a size change on mismatch. Each request id is reconciled at most
// once.
type Reconciler struct {
	changer  SizeChanger
	recorder Recorder
	logger   *zap.Logger
	metrics  observability.MetricsRegistry

	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRecorder records every outcome through r.
func WithRecorder(r Recorder) Option {
	return func(rc *Reconciler) { rc.recorder = r }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m observability.MetricsRegistry) Option {
	return func(rc *Reconciler) { rc.metrics = m }
}

// NewReconciler creates a Reconciler remembering up to 10000 request ids
// for an hour.
func NewReconciler(changer SizeChanger, logger *zap.Logger, opts ...Option) *Reconciler {
	rc := &Reconciler{
		changer: changer,
		logger:  logger.Named("resize"),
		metrics: observability.NewNoOpRegistry(),
		seen:    expirable.NewLRU[string, struct{}](10000, nil, time.Hour),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Reconcile checks req and, on mismatch, issues one size change request in
// the background. It never blocks; the returned channel yields the outcome
// once and may be ignored.
func (rc *Reconciler) Reconcile(ctx context.Context, req Request) <-chan Outcome {
	out := make(chan Outcome, 1)

	if req.RequestID != "" && !rc.markSeen(req.RequestID) {
		out <- OutcomeDuplicate
		close(out)
		return out
	}

	if req.Declared == req.Returned {
		rc.metrics.IncrementResize(string(OutcomeUnchanged))
		out <- OutcomeUnchanged
		close(out)
		return out
	}

	rc.logger.Info("Attempt to change size",
		zap.String("request_id", req.RequestID),
		zap.String("slot_id", req.SlotID),
		zap.Stringer("from", req.Declared),
		zap.Stringer("to", req.Returned))

	bg := context.WithoutCancel(ctx)
	go func() {
		defer close(out)
		outcome := rc.requestChange(bg, req)
		rc.metrics.IncrementResize(string(outcome))
		if rc.recorder != nil {
			if err := rc.recorder.RecordResize(bg, req, outcome); err != nil {
				rc.logger.Warn("Failed to record resize outcome",
					zap.String("request_id", req.RequestID),
					zap.Error(err))
			}
		}
		out <- outcome
	}()
	return out
}

// markSeen records id and reports whether it was new.
func (rc *Reconciler) markSeen(id string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.seen.Contains(id) {
		return false
	}
	rc.seen.Add(id, struct{}{})
	return true
}

func (rc *Reconciler) requestChange(ctx context.Context, req Request) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			rc.logger.Error("Size change request panicked",
				zap.String("request_id", req.RequestID),
				zap.Any("panic", r))
			outcome = OutcomeDenied
		}
	}()

	err := rc.changer.RequestSizeChange(ctx, req.Returned.Height, req.Returned.Width)
	switch {
	case err == nil:
		rc.logger.Info("Change size successful",
			zap.String("request_id", req.RequestID),
			zap.Stringer("size", req.Returned))
		return OutcomeAccepted
	case errors.Is(err, ErrSizeChangeDenied):
		rc.logger.Info("Change size denied",
			zap.String("request_id", req.RequestID),
			zap.Stringer("size", req.Returned))
	default:
		rc.logger.Warn("Change size denied",
			zap.String("request_id", req.RequestID),
			zap.Stringer("size", req.Returned),
			zap.Error(err))
	}
	return OutcomeDenied
}
