package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/rtcadserve/internal/models"
)

// ErrSlotNotFound is returned when a slot id is not registered.
var ErrSlotNotFound = errors.New("slot not found")

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the slot registry if it doesn't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS slots (
    id TEXT PRIMARY KEY,
    publisher_id INT NOT NULL,
    attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_slots_publisher_id ON slots (publisher_id);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(ctx context.Context, dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

func scanSlot(row interface{ Scan(...any) error }) (models.Slot, error) {
	var (
		id    string
		pubID int
		raw   []byte
	)
	if err := row.Scan(&id, &pubID, &raw); err != nil {
		return models.Slot{}, err
	}
	attrs := map[string]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &attrs); err != nil {
			return models.Slot{}, fmt.Errorf("slot %s attributes: %w", id, err)
		}
	}
	return models.NewSlot(id, pubID, attrs), nil
}

// LoadSlots retrieves every registered slot.
func (p *Postgres) LoadSlots(ctx context.Context) ([]models.Slot, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT id, publisher_id, attributes FROM slots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var slots []models.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// LoadSlotsByID retrieves the slots with the given ids. Unknown ids are
// skipped.
func (p *Postgres) LoadSlotsByID(ctx context.Context, ids []string) ([]models.Slot, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT id, publisher_id, attributes FROM slots WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query slots by id: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var slots []models.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// LoadSlot retrieves one slot. ErrSlotNotFound is returned for unknown ids.
func (p *Postgres) LoadSlot(ctx context.Context, id string) (models.Slot, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT id, publisher_id, attributes FROM slots WHERE id = $1`, id)
	s, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Slot{}, fmt.Errorf("%w: %s", ErrSlotNotFound, id)
	}
	if err != nil {
		return models.Slot{}, fmt.Errorf("load slot %s: %w", id, err)
	}
	return s, nil
}

// UpsertSlot inserts or replaces a slot definition.
func (p *Postgres) UpsertSlot(ctx context.Context, s models.Slot) error {
	attrs, err := json.Marshal(s.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	_, err = p.DB.ExecContext(ctx, `INSERT INTO slots (id, publisher_id, attributes, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (id) DO UPDATE SET publisher_id = EXCLUDED.publisher_id, attributes = EXCLUDED.attributes, updated_at = NOW()`,
		s.ID, s.PublisherID, attrs)
	if err != nil {
		return fmt.Errorf("upsert slot %s: %w", s.ID, err)
	}
	return nil
}
