// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package fitness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS fitness_rows (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	candidate         TEXT    NOT NULL,
	ts                REAL    NOT NULL,
	composite_fitness REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS fitness_rows_candidate ON fitness_rows (candidate, ts);

CREATE TABLE IF NOT EXISTS prod_outcomes (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	candidate TEXT    NOT NULL,
	ts        REAL    NOT NULL,
	ok        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS prod_outcomes_candidate ON prod_outcomes (candidate, ts);
`

// Outcome is one production request result.
type Outcome struct {
	Candidate string  `json:"candidate"`
	TS        float64 `json:"ts"`
	OK        bool    `json:"ok"`
}

// StoreConfig configures Open.
type StoreConfig struct {
	// Path is the SQLite file. Its directory must exist.
	Path string

	// PoolSize defaults to the sqlitepool default.
	PoolSize int

	Logger *slog.Logger
}

// Store is the append-only evidence log. Rows are never updated or
// deleted.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open opens (creating if needed) the evidence database.
func Open(cfg StoreConfig) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Schema:   schema,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("evidence store: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.pool.Close() }

// Append writes trial fitness rows in one transaction.
func (s *Store) Append(ctx context.Context, rows ...Row) (err error) {
	if len(rows) == 0 {
		return nil
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("evidence store: append: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("evidence store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, row := range rows {
		if row.Candidate == "" {
			return fmt.Errorf("evidence store: row without candidate")
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO fitness_rows (candidate, ts, composite_fitness) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{row.Candidate, row.TS, row.CompositeFitness}})
		if err != nil {
			return fmt.Errorf("evidence store: inserting row for %s: %w", row.Candidate, err)
		}
	}
	return nil
}

// Rows returns every trial row for candidate, oldest first.
func (s *Store) Rows(ctx context.Context, candidate string) ([]Row, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("evidence store: rows: %w", err)
	}
	defer s.pool.Put(conn)

	var rows []Row
	err = sqlitex.Execute(conn,
		`SELECT ts, composite_fitness FROM fitness_rows WHERE candidate = ? ORDER BY ts, id`,
		&sqlitex.ExecOptions{
			Args: []any{candidate},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rows = append(rows, Row{
					Candidate:        candidate,
					TS:               stmt.ColumnFloat(0),
					CompositeFitness: stmt.ColumnFloat(1),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("evidence store: reading rows for %s: %w", candidate, err)
	}
	return rows, nil
}

// AppendOutcomes writes production outcome rows in one transaction.
func (s *Store) AppendOutcomes(ctx context.Context, outcomes ...Outcome) (err error) {
	if len(outcomes) == 0 {
		return nil
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("evidence store: append outcomes: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("evidence store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, outcome := range outcomes {
		if outcome.Candidate == "" {
			return fmt.Errorf("evidence store: outcome without candidate")
		}
		ok := 0
		if outcome.OK {
			ok = 1
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO prod_outcomes (candidate, ts, ok) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{outcome.Candidate, outcome.TS, ok}})
		if err != nil {
			return fmt.Errorf("evidence store: inserting outcome for %s: %w", outcome.Candidate, err)
		}
	}
	return nil
}

// ProdStats counts candidate's production outcomes stamped at or after
// since. Outcomes beyond MaxFutureSkew of now are ignored.
func (s *Store) ProdStats(ctx context.Context, candidate string, since, now time.Time) (ProdStats, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return ProdStats{}, fmt.Errorf("evidence store: prod stats: %w", err)
	}
	defer s.pool.Put(conn)

	var stats ProdStats
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*), COALESCE(SUM(ok), 0) FROM prod_outcomes
		 WHERE candidate = ? AND ts >= ? AND ts <= ?`,
		&sqlitex.ExecOptions{
			Args: []any{candidate, clock.Epoch(since), clock.Epoch(now.Add(MaxFutureSkew))},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats.Total = int(stmt.ColumnInt64(0))
				stats.OK = int(stmt.ColumnInt64(1))
				return nil
			},
		})
	if err != nil {
		return ProdStats{}, fmt.Errorf("evidence store: reading prod stats for %s: %w", candidate, err)
	}
	return stats, nil
}

// Candidates lists every candidate with trial rows, with its row count.
func (s *Store) Candidates(ctx context.Context) (map[string]int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("evidence store: candidates: %w", err)
	}
	defer s.pool.Put(conn)

	counts := make(map[string]int)
	err = sqlitex.Execute(conn,
		`SELECT candidate, COUNT(*) FROM fitness_rows GROUP BY candidate`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				counts[stmt.ColumnText(0)] = int(stmt.ColumnInt64(1))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("evidence store: listing candidates: %w", err)
	}
	return counts, nil
}
