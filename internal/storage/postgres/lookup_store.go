// Package postgres persists lookup history in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

const selectColumns = `id, address, normalized, status, error_text, parcel_id, source_url,
	snapshot_uri, content_hash, record, started_at, finished_at`

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "property_lookups"

// Config controls the Postgres connection pool used for lookup rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// LookupStore reads and writes lookup rows.
type LookupStore struct {
	pool  pool
	table string
}

// NewLookupStore connects to Postgres using cfg.
func NewLookupStore(ctx context.Context, cfg Config) (*LookupStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &LookupStore{pool: p, table: table}, nil
}

// NewLookupStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewLookupStoreWithPool(p pool, table string) (*LookupStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &LookupStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *LookupStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the lookup table when it does not exist.
func (s *LookupStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           TEXT PRIMARY KEY,
	address      TEXT NOT NULL,
	normalized   TEXT NOT NULL,
	status       TEXT NOT NULL,
	error_text   TEXT NOT NULL DEFAULT '',
	parcel_id    TEXT NOT NULL DEFAULT '',
	source_url   TEXT NOT NULL DEFAULT '',
	snapshot_uri TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	record       JSONB,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create lookup table: %w", err)
	}
	return nil
}

// SaveLookup upserts a lookup row.
func (s *LookupStore) SaveLookup(ctx context.Context, record property.LookupRecord) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	var recordJSON []byte
	if record.Record != nil {
		var err error
		if recordJSON, err = json.Marshal(record.Record); err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	address,
	normalized,
	status,
	error_text,
	parcel_id,
	source_url,
	snapshot_uri,
	content_hash,
	record,
	started_at,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	error_text = EXCLUDED.error_text,
	parcel_id = EXCLUDED.parcel_id,
	source_url = EXCLUDED.source_url,
	snapshot_uri = EXCLUDED.snapshot_uri,
	content_hash = EXCLUDED.content_hash,
	record = EXCLUDED.record,
	finished_at = EXCLUDED.finished_at`, s.table)

	args := []any{
		record.ID,
		record.Address,
		record.Normalized,
		string(record.Status),
		record.Error,
		record.ParcelID,
		record.SourceURL,
		record.SnapshotURI,
		record.ContentHash,
		recordJSON,
		record.Started,
		record.Finished,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert lookup: %w", err)
	}
	return nil
}

// GetLookup loads a lookup row by ID.
func (s *LookupStore) GetLookup(ctx context.Context, id string) (property.LookupRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, s.table)
	rec, err := scanLookup(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return property.LookupRecord{}, fmt.Errorf("lookup %s: %w", id, property.ErrLookupNotFound)
	}
	if err != nil {
		return property.LookupRecord{}, fmt.Errorf("select lookup: %w", err)
	}
	return rec, nil
}

// ListLookups returns rows matching filter, newest first.
func (s *LookupStore) ListLookups(ctx context.Context, filter property.LookupFilter) ([]property.LookupRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE ($1::text = '' OR status = $1)
ORDER BY started_at DESC, id DESC
LIMIT $2 OFFSET $3`, selectColumns, s.table)

	rows, err := s.pool.Query(ctx, query, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list lookups: %w", err)
	}
	defer rows.Close()

	out := make([]property.LookupRecord, 0, limit)
	for rows.Next() {
		rec, err := scanLookup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lookup: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lookups: %w", err)
	}
	return out, nil
}

// Ping checks database connectivity.
func (s *LookupStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func scanLookup(row pgx.Row) (property.LookupRecord, error) {
	var (
		rec        property.LookupRecord
		status     string
		recordJSON []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.Address,
		&rec.Normalized,
		&status,
		&rec.Error,
		&rec.ParcelID,
		&rec.SourceURL,
		&rec.SnapshotURI,
		&rec.ContentHash,
		&recordJSON,
		&rec.Started,
		&rec.Finished,
	)
	if err != nil {
		return property.LookupRecord{}, err //nolint:wrapcheck
	}
	rec.Status = property.LookupStatus(status)
	if len(recordJSON) > 0 {
		if err := json.Unmarshal(recordJSON, &rec.Record); err != nil {
			return property.LookupRecord{}, fmt.Errorf("unmarshal record: %w", err)
		}
	}
	return rec, nil
}
