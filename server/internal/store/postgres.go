package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/obsidianstack/analytics/pkg/types"
)

// schema creates the tables Postgres reads and writes. The seq column keeps
// insertion order for samples that share a timestamp.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
	device_id   TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS components (
	device_id   TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	id          TEXT NOT NULL,
	type        TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	parent_id   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (device_id, instance_id, id)
)`,
	`CREATE TABLE IF NOT EXISTS signal_definitions (
	device_id    TEXT NOT NULL,
	instance_id  TEXT NOT NULL,
	id           TEXT NOT NULL,
	type         TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	units        TEXT NOT NULL DEFAULT '',
	component_id TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (device_id, instance_id, id)
)`,
	`CREATE TABLE IF NOT EXISTS samples (
	seq       BIGSERIAL,
	device_id TEXT NOT NULL,
	signal_id TEXT NOT NULL,
	ts        TIMESTAMPTZ NOT NULL,
	value     TEXT NOT NULL DEFAULT '',
	condition TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS samples_device_signal_ts ON samples (device_id, signal_id, ts)`,
}

const sampleColumns = "device_id, signal_id, ts, value, condition"

// Postgres is a Store backed by PostgreSQL (or TimescaleDB) via lib/pq.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres opens a lib/pq connection pool for dsn.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	return NewPostgres(db), nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// Ping implements Store.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Migrate creates missing tables and indexes.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// ReadDevice implements Reader.
func (p *Postgres) ReadDevice(ctx context.Context, deviceID string) (types.Device, error) {
	var dev types.Device
	err := p.db.QueryRowContext(ctx,
		"SELECT device_id, instance_id FROM devices WHERE device_id = $1", deviceID,
	).Scan(&dev.ID, &dev.InstanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Device{}, fmt.Errorf("%w: device %q", ErrNotFound, deviceID)
	}
	if err != nil {
		return types.Device{}, fmt.Errorf("store: read device %q: %w", deviceID, err)
	}
	return dev, nil
}

// ReadComponents implements Reader.
func (p *Postgres) ReadComponents(ctx context.Context, dev types.Device) ([]types.Component, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT id, type, name, parent_id FROM components WHERE device_id = $1 AND instance_id = $2 ORDER BY id",
		dev.ID, dev.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("store: read components: %w", err)
	}
	defer rows.Close()

	var out []types.Component
	for rows.Next() {
		var c types.Component
		if err := rows.Scan(&c.ID, &c.Type, &c.Name, &c.ParentID); err != nil {
			return nil, fmt.Errorf("store: scan component: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReadSignals implements Reader.
func (p *Postgres) ReadSignals(ctx context.Context, dev types.Device) ([]types.SignalDefinition, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT id, type, category, units, component_id FROM signal_definitions WHERE device_id = $1 AND instance_id = $2 ORDER BY id",
		dev.ID, dev.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("store: read signals: %w", err)
	}
	defer rows.Close()

	var out []types.SignalDefinition
	for rows.Next() {
		var s types.SignalDefinition
		if err := rows.Scan(&s.ID, &s.Type, &s.Category, &s.Units, &s.ComponentID); err != nil {
			return nil, fmt.Errorf("store: scan signal: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadSamples implements Reader.
func (p *Postgres) ReadSamples(ctx context.Context, q SampleQuery) ([]types.Sample, error) {
	query, args := buildSampleQuery(q)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: read samples: %w", err)
	}
	defer rows.Close()

	var out []types.Sample
	for rows.Next() {
		var s types.Sample
		if err := rows.Scan(&s.DeviceID, &s.SignalID, &s.Timestamp, &s.Value, &s.Condition); err != nil {
			return nil, fmt.Errorf("store: scan sample: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// buildSampleQuery renders q as SQL with positional arguments.
func buildSampleQuery(q SampleQuery) (string, []any) {
	args := []any{q.DeviceID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	filter := "device_id = $1"
	if q.SignalIDs != nil {
		filter += " AND signal_id = ANY(" + arg(pq.Array(q.SignalIDs)) + ")"
	}

	seedAt := q.From
	if seedAt.IsZero() {
		seedAt = q.At
	}

	var b strings.Builder
	if !seedAt.IsZero() {
		at := arg(seedAt)
		b.WriteString("SELECT seq, " + sampleColumns + " FROM (")
		b.WriteString("SELECT DISTINCT ON (signal_id) seq, " + sampleColumns + " FROM samples WHERE " + filter + " AND ts <= " + at)
		b.WriteString(" ORDER BY signal_id, ts DESC, seq DESC) seed")
		if !q.From.IsZero() {
			b.WriteString(" UNION ALL SELECT seq, " + sampleColumns + " FROM samples WHERE " + filter + " AND ts > " + at)
			if !q.To.IsZero() {
				b.WriteString(" AND ts <= " + arg(q.To))
			}
		}
		return "SELECT " + sampleColumns + " FROM (" + b.String() + ") s ORDER BY ts, seq", args
	}

	// Recent mode: optionally capped to the newest Count rows.
	b.WriteString("SELECT seq, " + sampleColumns + " FROM samples WHERE " + filter)
	if !q.To.IsZero() {
		b.WriteString(" AND ts <= " + arg(q.To))
	}
	if q.Count > 0 {
		b.WriteString(" ORDER BY ts DESC, seq DESC LIMIT " + arg(q.Count))
	}
	return "SELECT " + sampleColumns + " FROM (" + b.String() + ") s ORDER BY ts, seq", args
}

// insertBatchRows caps the rows per INSERT. Each row binds 5 parameters and
// PostgreSQL accepts at most 65535 per statement.
const insertBatchRows = 1000

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// WriteSamples implements Writer with multi-row INSERTs of at most
// insertBatchRows rows. Batches that need more than one statement run in a
// transaction so they are stored entirely or not at all.
func (p *Postgres) WriteSamples(ctx context.Context, samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	if len(samples) <= insertBatchRows {
		return insertSamples(ctx, p.db, samples)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: write samples: begin: %w", err)
	}
	for start := 0; start < len(samples); start += insertBatchRows {
		end := min(start+insertBatchRows, len(samples))
		if err := insertSamples(ctx, tx, samples[start:end]); err != nil {
			tx.Rollback() //nolint:errcheck
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: write samples: commit: %w", err)
	}
	return nil
}

func insertSamples(ctx context.Context, ex execer, samples []types.Sample) error {
	var b strings.Builder
	b.WriteString("INSERT INTO samples (" + sampleColumns + ") VALUES ")

	args := make([]any, 0, len(samples)*5)
	for i, s := range samples {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5))
		args = append(args, s.DeviceID, s.SignalID, s.Timestamp, s.Value, s.Condition)
	}

	if _, err := ex.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("store: write samples: %w", err)
	}
	return nil
}
