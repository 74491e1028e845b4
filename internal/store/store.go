// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store provides SQLite-backed persistence for the performance sample
// log and the spend ledger. Samples aged out of the live metrics window stay
// queryable for fingerprint replay until archived; spend records survive
// restarts so billing periods remain monotonic.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"
)

// Sample is one persisted performance observation.
type Sample struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	LatencyMs   int64     `json:"latency_ms"`
	Success     bool      `json:"success"`
	Fingerprint string    `json:"fingerprint"`
}

// PeriodRecord is one persisted billing period.
type PeriodRecord struct {
	Period     string             `json:"period"`
	TotalSpend float64            `json:"total_spend"`
	Breakdown  map[string]float64 `json:"breakdown"`
}

// Store persists samples and spend records. Writes are serialized by a
// single writer lock; these paths are not latency-critical.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	dir string
}

// Open creates (if needed) and opens the ledger database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "ledger.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	s := &Store{db: db, dir: dataDir}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing database handle. Used by tests.
func NewWithDB(db *sql.DB, dir string) *Store {
	return &Store{db: db, dir: dir}
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		source TEXT NOT NULL,
		latency_ms INTEGER NOT NULL,
		success INTEGER NOT NULL,
		fingerprint TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_samples_fingerprint ON samples(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_samples_ts ON samples(ts);
	CREATE TABLE IF NOT EXISTS periods (
		period TEXT PRIMARY KEY,
		total_spend REAL NOT NULL,
		breakdown TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendSample persists one performance sample.
func (s *Store) AppendSample(ctx context.Context, sample *Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	success := 0
	if sample.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO samples (ts, source, latency_ms, success, fingerprint) VALUES (?, ?, ?, ?, ?)`,
		sample.Timestamp.UnixMilli(), sample.Source, sample.LatencyMs, success, sample.Fingerprint)
	if err != nil {
		return fmt.Errorf("store: append sample: %w", err)
	}
	return nil
}

// LastSampleByFingerprint returns the most recent sample carrying the given
// fingerprint, or nil when none exists.
func (s *Store) LastSampleByFingerprint(ctx context.Context, fingerprint string) (*Sample, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ts, source, latency_ms, success, fingerprint FROM samples WHERE fingerprint = ? ORDER BY ts DESC LIMIT 1`,
		fingerprint)

	sample, err := scanSample(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: fingerprint lookup: %w", err)
	}
	return sample, nil
}

// UpsertPeriod persists the cumulative state of one billing period.
func (s *Store) UpsertPeriod(ctx context.Context, rec *PeriodRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	breakdown, err := json.Marshal(rec.Breakdown)
	if err != nil {
		return fmt.Errorf("store: encode breakdown: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO periods (period, total_spend, breakdown, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(period) DO UPDATE SET total_spend = excluded.total_spend, breakdown = excluded.breakdown, updated_at = excluded.updated_at`,
		rec.Period, rec.TotalSpend, string(breakdown), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: upsert period: %w", err)
	}
	return nil
}

// LoadPeriod returns the persisted state of one billing period, or nil when
// the period has no record yet.
func (s *Store) LoadPeriod(ctx context.Context, period string) (*PeriodRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT period, total_spend, breakdown FROM periods WHERE period = ?`, period)

	var rec PeriodRecord
	var breakdown string
	err := row.Scan(&rec.Period, &rec.TotalSpend, &breakdown)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load period: %w", err)
	}
	if err := json.Unmarshal([]byte(breakdown), &rec.Breakdown); err != nil {
		return nil, fmt.Errorf("store: decode breakdown: %w", err)
	}
	return &rec, nil
}

// ListPeriods returns all persisted billing periods, oldest first.
func (s *Store) ListPeriods(ctx context.Context) ([]*PeriodRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT period, total_spend, breakdown FROM periods ORDER BY period ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list periods: %w", err)
	}
	defer rows.Close()

	var records []*PeriodRecord
	for rows.Next() {
		var rec PeriodRecord
		var breakdown string
		if err := rows.Scan(&rec.Period, &rec.TotalSpend, &breakdown); err != nil {
			return nil, fmt.Errorf("store: scan period: %w", err)
		}
		if err := json.Unmarshal([]byte(breakdown), &rec.Breakdown); err != nil {
			return nil, fmt.Errorf("store: decode breakdown: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// ArchiveSamples moves samples older than cutoff into a gzip-compressed
// ndjson archive under <dataDir>/archive and deletes them from the live
// table. It returns the number of archived samples. This is the ledger flush
// task; a failed cycle leaves the rows in place for the next one.
func (s *Store) ArchiveSamples(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, source, latency_ms, success, fingerprint FROM samples WHERE ts < ? ORDER BY ts ASC`,
		cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: select archivable samples: %w", err)
	}

	var samples []*Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("store: scan sample: %w", err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	if len(samples) == 0 {
		return 0, nil
	}

	if err := s.writeArchive(samples); err != nil {
		return 0, err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM samples WHERE ts < ?`, cutoff.UnixMilli()); err != nil {
		return 0, fmt.Errorf("store: delete archived samples: %w", err)
	}

	log.Debugf("Archived %d performance samples older than %s", len(samples), cutoff.Format(time.RFC3339))
	return len(samples), nil
}

func (s *Store) writeArchive(samples []*Sample) error {
	archiveDir := filepath.Join(s.dir, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("store: create archive dir: %w", err)
	}

	name := fmt.Sprintf("samples-%s.ndjson.gz", time.Now().Format("20060102-150405"))
	f, err := os.Create(filepath.Join(archiveDir, name))
	if err != nil {
		return fmt.Errorf("store: create archive: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	enc := json.NewEncoder(gz)
	for _, sample := range samples {
		if err := enc.Encode(sample); err != nil {
			_ = gz.Close()
			return fmt.Errorf("store: encode archive sample: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("store: close archive: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(row rowScanner) (*Sample, error) {
	var sample Sample
	var ts int64
	var success int
	if err := row.Scan(&sample.ID, &ts, &sample.Source, &sample.LatencyMs, &success, &sample.Fingerprint); err != nil {
		return nil, err
	}
	sample.Timestamp = time.UnixMilli(ts)
	sample.Success = success == 1
	return &sample, nil
}
