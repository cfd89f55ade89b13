// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open with empty Path succeeded")
	}
}

func TestSchemaAppliedAndWALEnabled(t *testing.T) {
	pool, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "evidence.db"),
		Schema: `CREATE TABLE IF NOT EXISTS rows (candidate TEXT NOT NULL);`,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.Execute(conn, `INSERT INTO rows (candidate) VALUES (?)`, &sqlitex.ExecOptions{
		Args: []any{"latency-1"},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var mode string
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			mode = stmt.ColumnText(0)
			return nil
		},
	}); err != nil {
		t.Fatalf("reading journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}
