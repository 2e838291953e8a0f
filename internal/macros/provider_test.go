package macros

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/patrickwarner/rtcadserve/internal/models"
)

// fakeClientIDs blocks until release is closed when gate is set.
type fakeClientIDs struct {
	id   string
	err  error
	gate chan struct{}

	mu       sync.Mutex
	scope    string
	cookie   string
	finished chan struct{}
}

func (f *fakeClientIDs) GetOrCreate(ctx context.Context, scope, cookieName string) (string, error) {
	f.mu.Lock()
	f.scope, f.cookie = scope, cookieName
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	if f.finished != nil {
		defer close(f.finished)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return f.id, f.err
}

var testPage = models.Page{
	PageViewID:   "pv-123",
	Href:         "https://news.example.test/article?id=1",
	CanonicalURL: "https://news.example.test/article",
	Referrer:     "https://search.example.test/",
}

func testSlot() models.Slot {
	return models.NewSlot("slot-1", 1, map[string]string{
		"Width":       "300",
		"height":      "250",
		"data-slot":   "/1234/news",
		"data-secret": "s3cr3t",
		"json":        `{"targeting":{"sport":["rugby","cricket"],"tier":"gold"},"categoryExclusions":["health"]}`,
	})
}

func newTestDispatcher(t *testing.T, logger *zap.Logger) *Dispatcher {
	t.Helper()
	return NewDispatcher(logger, prometheus.NewRegistry(), time.Second)
}

func resolve(t *testing.T, d *Dispatcher, table Table, name string, args ...string) Outcome {
	t.Helper()
	return d.Resolve(context.Background(), table, Call{Name: name, Args: args})
}

func TestProvider_PageMacros(t *testing.T) {
	logger := zap.NewNop()
	d := newTestDispatcher(t, logger)
	table := NewProvider(testPage, testPage, nil, logger).Table(testSlot())

	tests := []struct {
		macro string
		want  string
	}{
		{"PAGEVIEWID", "pv-123"},
		{"HREF", testPage.Href},
		{"CANONICAL_URL", testPage.CanonicalURL},
		{"REFERRER", testPage.Referrer},
		{"pageviewid", "pv-123"},
	}
	for _, tt := range tests {
		t.Run(tt.macro, func(t *testing.T) {
			out := resolve(t, d, table, tt.macro)
			require.NoError(t, out.Err)
			assert.True(t, out.OK)
			assert.Equal(t, tt.want, out.Value)
		})
	}
}

func TestProvider_AttrAllowList(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	d := newTestDispatcher(t, logger)
	table := NewProvider(testPage, testPage, nil, logger).Table(testSlot())

	out := resolve(t, d, table, "ATTR", "width")
	assert.True(t, out.OK)
	assert.Equal(t, "300", out.Value)

	out = resolve(t, d, table, "ATTR", "Data-Slot")
	assert.True(t, out.OK)
	assert.Equal(t, "/1234/news", out.Value)

	out = resolve(t, d, table, "ATTR", "data-secret")
	assert.False(t, out.OK)
	assert.Empty(t, out.Value)
	assert.NoError(t, out.Err)

	warnings := logs.FilterMessage("Invalid attribute for ATTR macro").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zapcore.WarnLevel, warnings[0].Level)
	assert.Equal(t, "data-secret", warnings[0].ContextMap()["attribute"])
	for _, entry := range logs.All() {
		for _, v := range entry.ContextMap() {
			assert.NotEqual(t, "s3cr3t", v)
		}
	}

	// allow-listed but not declared on the element
	out = resolve(t, d, table, "ATTR", "data-override-width")
	assert.False(t, out.OK)
}

func TestProvider_TGT(t *testing.T) {
	logger := zap.NewNop()
	d := newTestDispatcher(t, logger)
	p := NewProvider(testPage, testPage, nil, logger)

	out := resolve(t, d, p.Table(testSlot()), "TGT")
	assert.True(t, out.OK)
	assert.Equal(t, `{"sport":["rugby","cricket"],"tier":"gold"}`, out.Value)

	malformed := models.NewSlot("slot-2", 1, map[string]string{"json": `{"targeting": {`})
	out = resolve(t, d, p.Table(malformed), "TGT")
	require.NoError(t, out.Err)
	assert.Equal(t, "{}", out.Value)

	missing := models.NewSlot("slot-3", 1, nil)
	out = resolve(t, d, p.Table(missing), "TGT")
	assert.Equal(t, "{}", out.Value)
}

func TestProvider_ADCID(t *testing.T) {
	logger := zap.NewNop()
	d := newTestDispatcher(t, logger)
	cids := &fakeClientIDs{id: "amp-abc"}
	table := NewProvider(testPage, testPage, cids, logger).Table(testSlot())

	out := resolve(t, d, table, "ADCID", "500")
	require.NoError(t, out.Err)
	assert.Equal(t, "amp-abc", out.Value)
	assert.Equal(t, AdCIDScope, cids.scope)
	assert.Equal(t, AdCIDCookie, cids.cookie)
}

func TestProvider_ADCIDTimeoutDoesNotCancelLookup(t *testing.T) {
	logger := zap.NewNop()
	d := newTestDispatcher(t, logger)
	cids := &fakeClientIDs{id: "late", gate: make(chan struct{}), finished: make(chan struct{})}
	table := NewProvider(testPage, testPage, cids, logger).Table(testSlot())

	start := time.Now()
	out := resolve(t, d, table, "ADCID", "20")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, out.OK)
	assert.NoError(t, out.Err)

	close(cids.gate)
	select {
	case <-cids.finished:
	case <-time.After(time.Second):
		t.Fatal("client id lookup did not complete after timeout")
	}
}

func TestProvider_ADCIDError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	d := newTestDispatcher(t, logger)
	table := NewProvider(testPage, testPage, &fakeClientIDs{err: errors.New("redis down")}, logger).Table(testSlot())

	out := resolve(t, d, table, "ADCID")
	assert.Error(t, out.Err)
	assert.False(t, out.OK)
	assert.Equal(t, 1, logs.FilterMessage("Failed to resolve macro").Len())
}

func TestProvider_TableBuiltOncePerElement(t *testing.T) {
	p := NewProvider(testPage, testPage, nil, zap.NewNop())

	first := p.Table(testSlot())
	second := p.Table(testSlot())
	other := p.Table(models.NewSlot("slot-9", 1, nil))

	assert.Equal(t, reflect.ValueOf(first).Pointer(), reflect.ValueOf(second).Pointer())
	assert.NotEqual(t, reflect.ValueOf(first).Pointer(), reflect.ValueOf(other).Pointer())
}

func TestAttributeAllowed(t *testing.T) {
	assert.True(t, AttributeAllowed("WIDTH"))
	assert.True(t, AttributeAllowed("data-multi-size-validation"))
	assert.False(t, AttributeAllowed("data-secret"))
	assert.False(t, AttributeAllowed("json"))
}
