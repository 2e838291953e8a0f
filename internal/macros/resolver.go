package macros

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownMacro is returned when a macro name is not in the table.
var ErrUnknownMacro = errors.New("unknown macro")

// SyncFunc resolves a macro immediately. ok is false when the value is absent.
type SyncFunc func(args ...string) (value string, ok bool)

// AsyncFunc resolves a macro that may block on an external lookup. The
// context it receives is never cancelled by the dispatcher's timeout.
type AsyncFunc func(ctx context.Context, args ...string) (value string, ok bool, err error)

// Kind tags a Resolver variant.
type Kind int

const (
	KindSync Kind = iota
	KindAsync
)

func (k Kind) String() string {
	if k == KindAsync {
		return "async"
	}
	return "sync"
}

// Resolver is either a Sync or an Async macro resolver.
type Resolver struct {
	kind  Kind
	sync  SyncFunc
	async AsyncFunc
}

// Sync wraps fn as a synchronous resolver.
func Sync(fn SyncFunc) Resolver {
	return Resolver{kind: KindSync, sync: fn}
}

// Async wraps fn as an asynchronous resolver. Its optional timeout is taken
// from the first macro argument, in milliseconds.
func Async(fn AsyncFunc) Resolver {
	return Resolver{kind: KindAsync, async: fn}
}

// Kind reports the resolver variant.
func (r Resolver) Kind() Kind {
	return r.kind
}

// Table maps upper-case macro names to resolvers.
type Table map[string]Resolver

// Lookup finds a resolver by name, ignoring case.
func (t Table) Lookup(name string) (Resolver, bool) {
	r, ok := t[strings.ToUpper(name)]
	return r, ok
}

// Names returns the macro names in the table.
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	return names
}

// Call is one macro invocation, e.g. ATTR(width) is {Name: "ATTR", Args: ["width"]}.
type Call struct {
	Name string
	Args []string
}

func (c Call) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + "(" + strings.Join(c.Args, ",") + ")"
}

// Outcome is the resolved value of one Call.
type Outcome struct {
	Call  Call
	Value string
	OK    bool
	Err   error
}

// Dispatcher evaluates macro tables. Sync resolvers run inline; async
// resolvers are awaited up to their timeout.
type Dispatcher struct {
	logger         *zap.Logger
	defaultTimeout time.Duration

	resolutions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewDispatcher creates a Dispatcher registering its metrics on reg. A zero
// defaultTimeout waits on async macros until the context is done.
func NewDispatcher(logger *zap.Logger, reg prometheus.Registerer, defaultTimeout time.Duration) *Dispatcher {
	factory := promauto.With(reg)
	return &Dispatcher{
		logger:         logger.Named("macros"),
		defaultTimeout: defaultTimeout,
		resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "macro_resolutions_total",
				Help: "Total number of macro resolutions performed",
			},
			[]string{"macro", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "macro_resolution_duration_seconds",
				Help:    "Time taken to resolve a single macro",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}
}

// Resolve evaluates one macro from t. A timed out async macro resolves to
// absent; its lookup keeps running and the late value is discarded.
func (d *Dispatcher) Resolve(ctx context.Context, t Table, call Call) Outcome {
	out := Outcome{Call: call}
	name := strings.ToUpper(call.Name)

	r, ok := t.Lookup(name)
	if !ok {
		out.Err = fmt.Errorf("%w: %s", ErrUnknownMacro, call.Name)
		d.resolutions.WithLabelValues("unknown", "error").Inc()
		return out
	}

	start := time.Now()
	defer func() {
		d.duration.WithLabelValues(r.kind.String()).Observe(time.Since(start).Seconds())
	}()

	switch r.kind {
	case KindAsync:
		out.Value, out.OK, out.Err = d.await(ctx, r.async, call)
	default:
		out.Value, out.OK = r.sync(call.Args...)
	}

	switch {
	case out.Err != nil:
		d.resolutions.WithLabelValues(name, "error").Inc()
		d.logger.Warn("Failed to resolve macro",
			zap.String("macro", call.String()),
			zap.Error(out.Err))
	case !out.OK:
		d.resolutions.WithLabelValues(name, "absent").Inc()
	default:
		d.resolutions.WithLabelValues(name, "resolved").Inc()
	}
	return out
}

type asyncResult struct {
	value string
	ok    bool
	err   error
}

func (d *Dispatcher) await(ctx context.Context, fn AsyncFunc, call Call) (string, bool, error) {
	done := make(chan asyncResult, 1)
	lookupCtx := context.WithoutCancel(ctx)
	go func() {
		v, ok, err := fn(lookupCtx, call.Args...)
		done <- asyncResult{v, ok, err}
	}()

	var timeout <-chan time.Time
	if wait := d.timeoutFor(call); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-done:
		return res.value, res.ok, res.err
	case <-timeout:
		d.logger.Info("Macro resolution timed out",
			zap.String("macro", call.String()),
			zap.Duration("timeout", d.timeoutFor(call)))
		return "", false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// timeoutFor reads an optional millisecond timeout from the first argument.
// A missing, zero or non-numeric argument yields the default timeout.
func (d *Dispatcher) timeoutFor(call Call) time.Duration {
	if len(call.Args) > 0 {
		if ms, err := strconv.Atoi(strings.TrimSpace(call.Args[0])); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return d.defaultTimeout
}

// ResolveAll resolves calls concurrently. Failures are isolated per call and
// reported in the matching Outcome; the returned slice follows calls order.
func (d *Dispatcher) ResolveAll(ctx context.Context, t Table, calls []Call) []Outcome {
	outcomes := make([]Outcome, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = d.Resolve(ctx, t, call)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
