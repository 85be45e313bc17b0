// SPDX-License-Identifier: AGPL-3.0-only
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"upi/internal/apperr"
)

// Event signals that the state file changed on disk. It carries no payload;
// receivers reload.
type Event struct{}

// stateFile is the wire form of the state file:
// {"results": {"<url>": "<last extracted text>"}}.
type stateFile struct {
	Results Results `json:"results"`
}

// FileStore persists Results to a single JSON file and can watch it for
// external edits.
type FileStore struct {
	path    string
	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewFileStore creates a store backed by the given file path.
func NewFileStore(path string) (*FileStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: abs}, nil
}

// Path returns the absolute state file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the state file. A missing file yields an empty map and no error.
// A malformed file also yields an empty map, plus an error the caller can log;
// corrupt state must never be fatal.
func (s *FileStore) Load(ctx context.Context) (Results, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Results{}, nil
		}
		return Results{}, fmt.Errorf("read state file: %w", err)
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return Results{}, fmt.Errorf("decode state file: %w", err)
	}
	if sf.Results == nil {
		sf.Results = Results{}
	}
	return sf.Results, nil
}

// Save writes the full map as pretty-printed JSON. The write goes to a temp
// file which is fsynced and renamed over the target, so a crash mid-write
// leaves the previous state intact.
func (s *FileStore) Save(ctx context.Context, r Results) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.Persist(s.path, fmt.Errorf("open temp file: %w", err))
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stateFile{Results: r}); err != nil {
		f.Close()
		return apperr.Persist(s.path, fmt.Errorf("encode state: %w", err))
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return apperr.Persist(s.path, fmt.Errorf("sync temp file: %w", err))
	}
	if err := f.Close(); err != nil {
		return apperr.Persist(s.path, fmt.Errorf("close temp file: %w", err))
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return apperr.Persist(s.path, err)
	}
	return nil
}

// Watch emits an Event when the state file is modified on disk. Events are
// debounced so the save's own create+rename sequence collapses into one
// notification. The returned channel closes when ctx is done.
func (s *FileStore) Watch(ctx context.Context) (<-chan Event, error) {
	dir := filepath.Dir(s.path)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir state dir: %w", err)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch dir: %w", err)
	}

	ch := make(chan Event)

	go func() {
		defer close(ch)
		defer w.Close()

		const debounce = 200 * time.Millisecond
		var timer *time.Timer
		var timerC <-chan time.Time
		var pending bool

		stopTimer := func() {
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer = nil
				timerC = nil
			}
		}

		startTimer := func() {
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
		}

		for {
			select {
			case <-ctx.Done():
				stopTimer()
				return
			case evt, ok := <-w.Events:
				if !ok {
					stopTimer()
					return
				}
				if filepath.Clean(evt.Name) != s.path {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					pending = true
					startTimer()
				}
			case <-timerC:
				if pending {
					select {
					case ch <- Event{}:
					case <-ctx.Done():
						stopTimer()
						return
					}
					pending = false
				}
				stopTimer()
			case _, ok := <-w.Errors:
				if !ok {
					stopTimer()
					return
				}
			}
		}
	}()

	return ch, nil
}

// Close releases the watcher, if started.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
