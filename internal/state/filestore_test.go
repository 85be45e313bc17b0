// SPDX-License-Identifier: AGPL-3.0-only
package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upi-state.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	in := Results{
		"http://x/a": "v1",
		"http://x/b": "hello world",
	}
	if err := store.Save(context.Background(), in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 2 || out["http://x/a"] != "v1" || out["http://x/b"] != "hello world" {
		t.Fatalf("round trip mismatch: %v", out)
	}
}

func TestFileStore_WireFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upi-state.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	if err := store.Save(context.Background(), Results{"http://x/a": "v1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var raw map[string]map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if raw["results"]["http://x/a"] != "v1" {
		t.Fatalf(`expected {"results":{"http://x/a":"v1"}}, got %s`, data)
	}
	// Pretty-printed, so the payload spans multiple lines.
	if !strings.Contains(string(data), "\n") {
		t.Fatalf("expected indented JSON, got %s", data)
	}
}

func TestFileStore_MissingFileStartsEmpty(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	r, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("missing file must not error, got %v", err)
	}
	if len(r) != 0 {
		t.Fatalf("expected empty results, got %v", r)
	}
}

func TestFileStore_MalformedFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upi-state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	r, err := store.Load(context.Background())
	if err == nil {
		t.Fatal("expected a decode error the caller can log")
	}
	if len(r) != 0 {
		t.Fatalf("malformed file must yield empty results, got %v", r)
	}
}

func TestFileStore_SaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upi-state.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	if err := store.Save(context.Background(), Results{"a": "1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestFileStore_WatchEmitsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upi-state.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	content := []byte(`{"results": {"http://x/a": "v1"}}`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case <-ch:
		// ok
	case <-time.After(2 * time.Second):
		t.Fatal("expected watch event after file write")
	}
}
