// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"compress/gzip"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestAppendSample(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	s := NewWithDB(db, t.TempDir())

	ts := time.Now()
	mock.ExpectExec("INSERT INTO samples").
		WithArgs(ts.UnixMilli(), "vllm", int64(120), 1, "fp-1234").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = s.AppendSample(context.Background(), &Sample{
		Timestamp:   ts,
		Source:      "vllm",
		LatencyMs:   120,
		Success:     true,
		Fingerprint: "fp-1234",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestLastSampleByFingerprint(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := NewWithDB(db, t.TempDir())

	ts := time.Now()
	rows := sqlmock.NewRows([]string{"id", "ts", "source", "latency_ms", "success", "fingerprint"}).
		AddRow(7, ts.UnixMilli(), "claude-2", 310, 1, "fp-abc")
	mock.ExpectQuery("SELECT id, ts, source, latency_ms, success, fingerprint FROM samples WHERE fingerprint").
		WithArgs("fp-abc").
		WillReturnRows(rows)

	sample, err := s.LastSampleByFingerprint(context.Background(), "fp-abc")
	if err != nil {
		t.Fatal(err)
	}
	if sample == nil || sample.Source != "claude-2" || !sample.Success {
		t.Errorf("unexpected sample: %+v", sample)
	}
}

func TestLastSampleByFingerprintMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := NewWithDB(db, t.TempDir())
	mock.ExpectQuery("SELECT id, ts, source").
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	sample, err := s.LastSampleByFingerprint(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if sample != nil {
		t.Errorf("expected nil sample, got %+v", sample)
	}
}

func TestUpsertAndLoadPeriod(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := NewWithDB(db, t.TempDir())

	mock.ExpectExec("INSERT INTO periods").
		WithArgs("2026-08", 42.5, `{"vllm":42.5}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = s.UpsertPeriod(context.Background(), &PeriodRecord{
		Period:     "2026-08",
		TotalSpend: 42.5,
		Breakdown:  map[string]float64{"vllm": 42.5},
	})
	if err != nil {
		t.Fatal(err)
	}

	rows := sqlmock.NewRows([]string{"period", "total_spend", "breakdown"}).
		AddRow("2026-08", 42.5, `{"vllm":42.5}`)
	mock.ExpectQuery("SELECT period, total_spend, breakdown FROM periods WHERE period").
		WithArgs("2026-08").
		WillReturnRows(rows)

	rec, err := s.LoadPeriod(context.Background(), "2026-08")
	if err != nil {
		t.Fatal(err)
	}
	if rec.TotalSpend != 42.5 || rec.Breakdown["vllm"] != 42.5 {
		t.Errorf("unexpected period record: %+v", rec)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestArchiveSamplesWritesGzipAndDeletes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	dir := t.TempDir()
	s := NewWithDB(db, dir)

	cutoff := time.Now().Add(-24 * time.Hour)
	old := cutoff.Add(-time.Hour)
	rows := sqlmock.NewRows([]string{"id", "ts", "source", "latency_ms", "success", "fingerprint"}).
		AddRow(1, old.UnixMilli(), "llama2", 80, 1, "fp-1").
		AddRow(2, old.UnixMilli(), "llama2", 95, 0, "fp-2")
	mock.ExpectQuery("SELECT id, ts, source, latency_ms, success, fingerprint FROM samples WHERE ts").
		WithArgs(cutoff.UnixMilli()).
		WillReturnRows(rows)
	mock.ExpectExec("DELETE FROM samples WHERE ts").
		WithArgs(cutoff.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.ArchiveSamples(context.Background(), cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 archived samples, got %d", n)
	}

	archives, err := os.ReadDir(filepath.Join(dir, "archive"))
	if err != nil {
		t.Fatal(err)
	}
	if len(archives) != 1 {
		t.Fatalf("expected 1 archive file, got %d", len(archives))
	}

	f, err := os.Open(filepath.Join(dir, "archive", archives[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := gzip.NewReader(f); err != nil {
		t.Errorf("archive is not valid gzip: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestArchiveSamplesNothingToDo(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := NewWithDB(db, t.TempDir())
	cutoff := time.Now()
	mock.ExpectQuery("SELECT id, ts, source").
		WithArgs(cutoff.UnixMilli()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "ts", "source", "latency_ms", "success", "fingerprint"}))

	n, err := s.ArchiveSamples(context.Background(), cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected 0 archived samples, got %d", n)
	}
}
