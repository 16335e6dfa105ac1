// Copyright 2026 The osync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history keeps a local record of past benchmark runs in SQLite.
// The store is strictly best-effort bookkeeping: the results ledger is the
// source of truth, and callers treat history failures as warnings.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one recorded benchmark run with its per-variant rollups.
type Run struct {
	ID           string
	SuiteName    string
	ModelName    string
	StartedAt    time.Time
	FinishedAt   time.Time
	OsyncVersion string
	Variants     []VariantRun
}

// VariantRun is the per-variant summary row of a recorded run.
type VariantRun struct {
	Tag       string
	Quant     string
	SizeBytes int64
	Questions int
	AvgScore  float64
	PromptTPS float64
	EvalTPS   float64
	IsBase    bool
}

// Store manages the history database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path. ":memory:" gives an
// in-memory store for tests. The parent directory is created when missing.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		suite_name TEXT NOT NULL,
		model_name TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		osync_version TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_model_name ON runs(model_name);

	CREATE TABLE IF NOT EXISTS variant_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		quant TEXT,
		size_bytes INTEGER NOT NULL,
		questions INTEGER NOT NULL,
		avg_score REAL NOT NULL,
		prompt_tps REAL NOT NULL,
		eval_tps REAL NOT NULL,
		is_base BOOLEAN NOT NULL,

		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_variant_runs_run_id ON variant_runs(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordRun stores a run and its variant rollups. Recording the same run id
// again replaces the earlier record, so a resumed run leaves one row with its
// latest state.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, suite_name, model_name, started_at, finished_at, osync_version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			suite_name = excluded.suite_name,
			model_name = excluded.model_name,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			osync_version = excluded.osync_version
	`,
		run.ID,
		run.SuiteName,
		run.ModelName,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		run.OsyncVersion,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM variant_runs WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("clear variant rows: %w", err)
	}

	insertVariant := `
		INSERT INTO variant_runs (
			run_id, tag, quant, size_bytes, questions,
			avg_score, prompt_tps, eval_tps, is_base
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, v := range run.Variants {
		_, err := tx.ExecContext(ctx, insertVariant,
			run.ID,
			v.Tag,
			v.Quant,
			v.SizeBytes,
			v.Questions,
			v.AvgScore,
			v.PromptTPS,
			v.EvalTPS,
			v.IsBase,
		)
		if err != nil {
			return fmt.Errorf("insert variant row %s: %w", v.Tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history transaction: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first, each with its variant
// rollups in recorded order.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, suite_name, model_name, started_at, finished_at, osync_version
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.SuiteName, &r.ModelName, &r.StartedAt, &r.FinishedAt, &r.OsyncVersion); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		variants, err := s.runVariants(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Variants = variants
	}
	return runs, nil
}

func (s *Store) runVariants(ctx context.Context, runID string) ([]VariantRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag, quant, size_bytes, questions, avg_score, prompt_tps, eval_tps, is_base
		FROM variant_runs
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query variant rows: %w", err)
	}
	defer rows.Close()

	var variants []VariantRun
	for rows.Next() {
		var v VariantRun
		if err := rows.Scan(&v.Tag, &v.Quant, &v.SizeBytes, &v.Questions, &v.AvgScore, &v.PromptTPS, &v.EvalTPS, &v.IsBase); err != nil {
			return nil, fmt.Errorf("scan variant row: %w", err)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}
