// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite connection pools with the fleet's
// standard pragmas. It backs the fitness evidence log, which the trial
// harness appends to and the graduator reads while both run as
// separate processes.
//
// Every connection gets:
//
//   - journal_mode=WAL: the harness can append while a graduator tick
//     reads.
//   - synchronous=NORMAL: appends survive a process crash.
//   - busy_timeout=5000: concurrent writers wait for the write lock
//     instead of failing with SQLITE_BUSY.
//   - temp_store=MEMORY.
//
// The package exposes zombiezen types directly. Callers write SQL with
// sqlitex.Execute and manage transactions with
// sqlitex.ImmediateTransaction:
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{Path: path, Schema: schema})
//	conn, err := pool.Take(ctx)
//	defer pool.Put(conn)
package sqlitepool
