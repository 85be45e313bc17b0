// SPDX-License-Identifier: AGPL-3.0-only
package history

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"upi/internal/logging"
)

// fileRecorder appends entries as JSON Lines to a single file.
type fileRecorder struct {
	log logging.Logger

	mu sync.Mutex
	f  *os.File
}

func openFile(cfg Config, log logging.Logger) (Recorder, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history.path is required for the file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileRecorder{log: log, f: f}, nil
}

func (r *fileRecorder) Append(ctx context.Context, e Entry) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return errors.New("history file closed")
	}
	return json.NewEncoder(r.f).Encode(e)
}

func (r *fileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
