package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avct/uasurfer"
	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/rtcadserve/internal/observability"
	"github.com/patrickwarner/rtcadserve/internal/resize"
)

// Event types written to the events table.
const (
	EventAdURL  = "ad_url"
	EventResize = "resize"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// AnalyticsService defines the interface for analytics operations.
// Implementations should handle cases where underlying storage is unavailable
// by returning ErrUnavailable.
type AnalyticsService interface {
	// RecordAdURL records a built ad URL.
	RecordAdURL(ctx context.Context, ev AdURLEvent) error
	// RecordResize records the outcome of a size reconciliation.
	RecordResize(ctx context.Context, req resize.Request, outcome resize.Outcome) error
}

var (
	_ AnalyticsService = (*Analytics)(nil)
	_ resize.Recorder  = (*Analytics)(nil)
)

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry
}

// AdURLEvent describes one built ad URL.
type AdURLEvent struct {
	RequestID   string
	SlotID      string
	PublisherID int
	Targeted    bool
	Truncated   bool
	URLLength   int
	KeyValues   map[string]string
}

// EventRecord mirrors a row in the events table.
type EventRecord struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   string            `json:"event_type"`
	RequestID   string            `json:"request_id"`
	SlotID      string            `json:"slot_id"`
	PublisherID *int32            `json:"publisher_id"`
	Detail      string            `json:"detail"`
	DeviceType  *string           `json:"device_type"`
	KeyValues   map[string]string `json:"key_values,omitempty"`
}

const createEventsSQL = `CREATE TABLE IF NOT EXISTS events (
       timestamp    DateTime,
       event_type   String,
       request_id   String,
       slot_id      String,
       publisher_id Nullable(Int32),
       detail       String,
       device_type  Nullable(String),
       key_values   Map(String, String)
   ) ENGINE=MergeTree() ORDER BY (event_type, timestamp)`

// InitClickHouse connects to ClickHouse and ensures the events table exists.
func InitClickHouse(ctx context.Context, dsn string, metrics observability.MetricsRegistry) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(25)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, createEventsSQL); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: db, Metrics: metrics}, nil
}

type userAgentKey struct{}

// WithUserAgent attaches the client User-Agent so recorded events carry
// a device type.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, ua)
}

// DeviceType classifies a raw User-Agent string.
func DeviceType(ua string) string {
	switch uasurfer.Parse(ua).DeviceType {
	case uasurfer.DeviceComputer:
		return "desktop"
	case uasurfer.DevicePhone:
		return "mobile"
	case uasurfer.DeviceTablet:
		return "tablet"
	default:
		return "other"
	}
}

func deviceFromContext(ctx context.Context) sql.NullString {
	ua, _ := ctx.Value(userAgentKey{}).(string)
	if ua == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: DeviceType(ua), Valid: true}
}

func (a *Analytics) insert(ctx context.Context, eventType, requestID, slotID string, publisherID int, detail string, keyValues map[string]string) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	var pub sql.NullInt32
	if publisherID > 0 {
		pub.Int32 = int32(publisherID)
		pub.Valid = true
	}
	if keyValues == nil {
		keyValues = map[string]string{}
	}

	stmt := `INSERT INTO events (timestamp, event_type, request_id, slot_id, publisher_id, detail, device_type, key_values) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt, time.Now(), eventType, requestID, slotID, pub, detail, deviceFromContext(ctx), keyValues); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("event_type", eventType))
		return fmt.Errorf("insert %s event: %w", eventType, err)
	}
	if a.Metrics != nil {
		a.Metrics.IncrementEvent(eventType)
	}
	return nil
}

// RecordAdURL inserts an ad_url event. The detail column holds
// "targeted" or "untargeted", suffixed with ",truncated" when the URL hit
// the length limit.
func (a *Analytics) RecordAdURL(ctx context.Context, ev AdURLEvent) error {
	detail := "untargeted"
	if ev.Targeted {
		detail = "targeted"
	}
	if ev.Truncated {
		detail += ",truncated"
	}
	kv := make(map[string]string, len(ev.KeyValues)+1)
	for k, v := range ev.KeyValues {
		kv[k] = v
	}
	kv["url_length"] = fmt.Sprint(ev.URLLength)
	return a.insert(ctx, EventAdURL, ev.RequestID, ev.SlotID, ev.PublisherID, detail, kv)
}

// RecordResize inserts a resize event with the outcome as detail.
func (a *Analytics) RecordResize(ctx context.Context, req resize.Request, outcome resize.Outcome) error {
	kv := map[string]string{
		"declared": req.Declared.String(),
		"returned": req.Returned.String(),
	}
	return a.insert(ctx, EventResize, req.RequestID, req.SlotID, 0, string(outcome), kv)
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

// GetEventsByRequestID returns all events for a given request ID ordered by timestamp.
func (a *Analytics) GetEventsByRequestID(ctx context.Context, id string) ([]EventRecord, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT timestamp, event_type, request_id, slot_id, publisher_id, detail, device_type, key_values FROM events WHERE request_id=? ORDER BY timestamp`
	rows, err := a.DB.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.Timestamp, &ev.EventType, &ev.RequestID, &ev.SlotID, &ev.PublisherID, &ev.Detail, &ev.DeviceType, &ev.KeyValues); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}
