// Package store persists extraction records in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/klyr/proxyurl/internal/logging"
)

const schema = `CREATE TABLE IF NOT EXISTS extractions (
	id BIGSERIAL PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	client_ip TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	url TEXT NOT NULL,
	gateway TEXT NOT NULL DEFAULT '',
	param_key TEXT NOT NULL DEFAULT '',
	target TEXT NOT NULL DEFAULT '',
	matched BOOLEAN NOT NULL,
	duration_us BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS extractions_ts_idx ON extractions (ts);
CREATE INDEX IF NOT EXISTS extractions_target_idx ON extractions (target) WHERE matched`

const insertRecord = `INSERT INTO extractions (ts, request_id, client_ip, source, url, gateway, param_key, target, matched, duration_us)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const selectRecent = `SELECT ts, request_id, client_ip, source, url, gateway, param_key, target, matched, duration_us
FROM extractions ORDER BY ts DESC LIMIT $1`

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and checks the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	return New(db), nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the extractions table and its indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	return nil
}

// Save inserts one record. Skipped records are not stored.
func (s *Store) Save(ctx context.Context, record logging.Record) error {
	if s == nil {
		return nil
	}
	if record.Skipped {
		return nil
	}
	if record.Timestamp.IsZero() {
		return errors.New("record timestamp is required")
	}
	_, err := s.db.ExecContext(ctx, insertRecord,
		record.Timestamp.UTC(),
		record.RequestID,
		record.ClientIP,
		record.Source,
		record.URL,
		record.Gateway,
		record.Key,
		record.Target,
		record.Matched,
		record.DurationUS,
	)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]logging.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []logging.Record
	for rows.Next() {
		var r logging.Record
		if err := rows.Scan(&r.Timestamp, &r.RequestID, &r.ClientIP, &r.Source, &r.URL, &r.Gateway, &r.Key, &r.Target, &r.Matched, &r.DurationUS); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return out, nil
}
