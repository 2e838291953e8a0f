package analytics

import (
	"context"
	"sync"

	"github.com/patrickwarner/rtcadserve/internal/resize"
)

var _ AnalyticsService = (*MockAnalytics)(nil)

// MockAnalytics records events in memory for tests.
type MockAnalytics struct {
	mu      sync.Mutex
	AdURLs  []AdURLEvent
	Resizes []resize.Outcome
}

// NewMockAnalytics creates a new mock analytics instance
func NewMockAnalytics() *MockAnalytics {
	return &MockAnalytics{}
}

// RecordAdURL stores ev.
func (m *MockAnalytics) RecordAdURL(ctx context.Context, ev AdURLEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AdURLs = append(m.AdURLs, ev)
	return nil
}

// RecordResize stores the outcome.
func (m *MockAnalytics) RecordResize(ctx context.Context, req resize.Request, outcome resize.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resizes = append(m.Resizes, outcome)
	return nil
}

// AdURLCount returns the number of recorded ad_url events.
func (m *MockAnalytics) AdURLCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.AdURLs)
}

// ResizeOutcomes returns a copy of the recorded resize outcomes.
func (m *MockAnalytics) ResizeOutcomes() []resize.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]resize.Outcome(nil), m.Resizes...)
}
