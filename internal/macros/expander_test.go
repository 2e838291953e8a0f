package macros

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestExpander_Expand(t *testing.T) {
	logger := zaptest.NewLogger(t)
	d := newTestDispatcher(t, logger)
	e := NewExpander(d, logger)
	table := NewProvider(testPage, testPage, &fakeClientIDs{id: "cid 1"}, logger).Table(testSlot())

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{
			name:     "no macros",
			template: "https://rtc.example.test/openrtb2/amp",
			want:     "https://rtc.example.test/openrtb2/amp",
		},
		{
			name:     "page macros",
			template: "https://rtc.example.test/amp?pvid=PAGEVIEWID&curl=CANONICAL_URL",
			want:     "https://rtc.example.test/amp?pvid=pv-123&curl=https%3A%2F%2Fnews.example.test%2Farticle",
		},
		{
			name:     "attribute macros",
			template: "https://rtc.example.test/amp?w=ATTR(width)&h=ATTR(height)&slot=ATTR(data-slot)",
			want:     "https://rtc.example.test/amp?w=300&h=250&slot=%2F1234%2Fnews",
		},
		{
			name:     "disallowed attribute expands empty",
			template: "https://rtc.example.test/amp?s=ATTR(data-secret)",
			want:     "https://rtc.example.test/amp?s=",
		},
		{
			name:     "targeting and client id",
			template: "https://rtc.example.test/amp?tgt=TGT&cid=ADCID(200)",
			want:     "https://rtc.example.test/amp?tgt=%7B%22sport%22%3A%5B%22rugby%22%2C%22cricket%22%5D%2C%22tier%22%3A%22gold%22%7D&cid=cid%201",
		},
		{
			name:     "repeated macro",
			template: "a=PAGEVIEWID&b=PAGEVIEWID",
			want:     "a=pv-123&b=pv-123",
		},
		{
			name:     "macro inside a longer word is left alone",
			template: "x=PAGEVIEWID_64&y=MYHREF",
			want:     "x=PAGEVIEWID_64&y=MYHREF",
		},
		{
			name:     "empty template",
			template: "",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Expand(context.Background(), tt.template, table))
		})
	}
}

func TestDispatcher_UnknownMacro(t *testing.T) {
	d := newTestDispatcher(t, zap.NewNop())

	out := d.Resolve(context.Background(), Table{}, Call{Name: "NOPE"})
	assert.ErrorIs(t, out.Err, ErrUnknownMacro)
	assert.False(t, out.OK)
}

func TestDispatcher_ResolveAllIsolatesFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := NewDispatcher(zap.NewNop(), reg, time.Second)

	table := Table{
		"GOOD": Sync(func(...string) (string, bool) { return "ok", true }),
		"BAD": Async(func(context.Context, ...string) (string, bool, error) {
			return "", false, errors.New("lookup failed")
		}),
		"SLOW": Async(func(ctx context.Context, _ ...string) (string, bool, error) {
			time.Sleep(20 * time.Millisecond)
			return "slow", true, nil
		}),
	}

	outcomes := d.ResolveAll(context.Background(), table, []Call{
		{Name: "BAD"}, {Name: "GOOD"}, {Name: "SLOW", Args: []string{"1000"}},
	})

	require.Len(t, outcomes, 3)
	assert.Error(t, outcomes[0].Err)
	assert.Equal(t, "ok", outcomes[1].Value)
	assert.Equal(t, "slow", outcomes[2].Value)

	assert.Equal(t, 1.0, testutil.ToFloat64(d.resolutions.WithLabelValues("BAD", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.resolutions.WithLabelValues("GOOD", "resolved")))
}

func TestDispatcher_AsyncRunsConcurrently(t *testing.T) {
	d := newTestDispatcher(t, zap.NewNop())

	var running, peak int32
	slow := Async(func(ctx context.Context, _ ...string) (string, bool, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return "v", true, nil
	})

	d.ResolveAll(context.Background(), Table{"A": slow, "B": slow}, []Call{{Name: "A"}, {Name: "B"}})
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
}

func TestDispatcher_TimeoutArgument(t *testing.T) {
	d := NewDispatcher(zap.NewNop(), prometheus.NewRegistry(), 50*time.Millisecond)
	table := Table{"ADCID": Async(func(context.Context, ...string) (string, bool, error) {
		time.Sleep(300 * time.Millisecond)
		return "late", true, nil
	})}

	tests := []struct {
		name   string
		args   []string
		wantOK bool
	}{
		{name: "no argument uses default", args: nil},
		{name: "zero uses default", args: []string{"0"}},
		{name: "non-numeric uses default", args: []string{"soon"}},
		{name: "explicit short timeout", args: []string{"50"}},
		{name: "explicit long timeout", args: []string{"2000"}, wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			out := d.Resolve(context.Background(), table, Call{Name: "ADCID", Args: tt.args})
			require.NoError(t, out.Err)
			assert.Equal(t, tt.wantOK, out.OK)
			if !tt.wantOK {
				assert.Empty(t, out.Value)
				assert.Less(t, time.Since(start), 250*time.Millisecond)
			} else {
				assert.Equal(t, "late", out.Value)
			}
		})
	}
}

func TestDispatcher_ContextCancelled(t *testing.T) {
	d := NewDispatcher(zap.NewNop(), prometheus.NewRegistry(), 0)
	block := make(chan struct{})
	defer close(block)

	table := Table{"WAIT": Async(func(context.Context, ...string) (string, bool, error) {
		<-block
		return "never", true, nil
	})}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := d.Resolve(ctx, table, Call{Name: "WAIT"})
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	assert.False(t, out.OK)
}

func TestUnsupported(t *testing.T) {
	table := NewProvider(testPage, testPage, nil, zap.NewNop()).Table(testSlot())
	assert.Equal(t, []string{"FOO"}, Unsupported("a=ATTR(width)&b=FOO(1)&c=ADCID(5)", table))
}
