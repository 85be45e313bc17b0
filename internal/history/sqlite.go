// SPDX-License-Identifier: AGPL-3.0-only
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"upi/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS checks (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	at      TEXT NOT NULL,
	url     TEXT NOT NULL,
	changed INTEGER NOT NULL,
	value   TEXT,
	err     TEXT,
	took_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checks_url_at ON checks(url, at);
`

type sqliteRecorder struct {
	db  *sql.DB
	log logging.Logger
}

func openSQLite(cfg Config, log logging.Logger) (Recorder, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history.path is required for the sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	return &sqliteRecorder{db: db, log: log}, nil
}

func (r *sqliteRecorder) Append(ctx context.Context, e Entry) error {
	if r == nil || r.db == nil {
		return errors.New("history database closed")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO checks(at, url, changed, value, err, took_ms) VALUES(?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.URL, boolInt(e.Changed),
		nullStr(e.Value), nullStr(e.Error), e.TookMS,
	)
	return err
}

func (r *sqliteRecorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
