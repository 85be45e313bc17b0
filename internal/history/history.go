// SPDX-License-Identifier: AGPL-3.0-only

// Package history optionally records one entry per completed tick, so an
// operator can answer "when did this URL last change and what did the checks
// cost" without scraping logs.
//
// Drivers:
//   - "file": append-only JSON Lines
//   - "sqlite": SQLite database file
//
// An empty or "none" driver disables recording.
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"upi/internal/logging"
	"upi/internal/model"
)

// Config selects and configures the recorder backend.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry is one recorded tick outcome. Keep it compact and schema-stable.
type Entry struct {
	At      time.Time `json:"at"`
	URL     string    `json:"url"`
	Changed bool      `json:"changed"`
	Value   string    `json:"value,omitempty"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}

// FromOutcome converts a tick outcome to its history entry.
func FromOutcome(o model.Outcome) Entry {
	e := Entry{
		At:      o.Started,
		URL:     o.URL,
		Changed: o.Changed,
		Value:   o.Value,
		TookMS:  o.Duration().Milliseconds(),
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	return e
}

// Recorder is the minimal persistence API for tick history.
type Recorder interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}

// Open initializes the configured recorder.
// It returns (nil, nil) if history recording is disabled.
func Open(cfg Config, log logging.Logger) (Recorder, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}
