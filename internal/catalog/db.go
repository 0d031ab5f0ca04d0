// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo
)

// readerHeadroom is pool capacity reserved for the HTTP surface (media
// streamer, status and source endpoints) on top of the extractor
// workers. Writers are the download/refresh workers plus the
// scheduler's schedule stamps; with WAL they never block readers, and
// busy_timeout absorbs the rare writer-writer collision.
const readerHeadroom = 4

// busyTimeout is how long a connection waits on a locked database
// before giving up. Refresh bursts touch many media rows in sequence,
// so this is deliberately generous.
const busyTimeout = 5 * time.Second

// Open opens (creating if needed) the catalog database at path. workers
// is the extractor concurrency ceiling from configuration; the
// connection pool is sized to serve that many writing jobs plus the
// HTTP readers. The PRAGMAs ride in the DSN so they apply to every
// connection the pool ever opens.
func Open(path string, workers int) (*sql.DB, error) {
	if workers < 1 {
		workers = 1
	}

	pragmas := []string{
		"_pragma=journal_mode(WAL)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()),
		"_pragma=synchronous(NORMAL)",
		"_pragma=foreign_keys(ON)", // medias cascade-delete with their source
	}
	dsn := "file:" + path + "?" + strings.Join(pragmas, "&")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open database: %w", err)
	}

	pool := workers + readerHeadroom
	db.SetMaxOpenConns(pool)
	db.SetMaxIdleConns(pool)
	// Connections are to a local file; there is nothing to gain from
	// recycling them on a timer.
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: ping database: %w", err)
	}

	return db, nil
}

// CheckIntegrity runs sqlite's self-check against the open catalog and
// returns the problems it reports, empty when the database is healthy.
// The quick variant skips index-content verification and is cheap
// enough to run at every daemon start; full is for the checkdb
// maintenance command.
func CheckIntegrity(ctx context.Context, db *sql.DB, full bool) ([]string, error) {
	pragma := "PRAGMA quick_check"
	if full {
		pragma = "PRAGMA integrity_check"
	}

	rows, err := db.QueryContext(ctx, pragma)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", pragma, err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("catalog: scan %s result: %w", pragma, err)
		}
		problems = append(problems, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// A healthy database reports exactly one row: "ok".
	if len(problems) == 1 && strings.EqualFold(problems[0], "ok") {
		return nil, nil
	}
	if len(problems) == 0 {
		return nil, fmt.Errorf("catalog: %s returned no rows", pragma)
	}
	return problems, nil
}
