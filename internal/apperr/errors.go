// SPDX-License-Identifier: AGPL-3.0-only

// Package apperr defines the error taxonomy for the poller. Errors are typed
// so callers can branch on the failure class with errors.As, and carry enough
// context (url, status, stderr) for the log line to stand on its own.
package apperr

import (
	"fmt"
)

// FetchError reports a failed HTTP fetch. Exactly one of Status or Transport
// is meaningful: a non-2xx response sets Status, a transport-level failure
// (DNS, connect, timeout) sets Transport.
type FetchError struct {
	URL       string
	Status    int
	Transport error
}

func (e *FetchError) Error() string {
	if e.Transport != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Transport)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Transport }

// FetchStatus creates a FetchError for a non-2xx response.
func FetchStatus(url string, status int) error {
	return &FetchError{URL: url, Status: status}
}

// FetchTransport creates a FetchError for a transport failure.
func FetchTransport(url string, err error) error {
	return &FetchError{URL: url, Transport: err}
}

// ExtractError reports a parse program that exited non-zero. Stderr holds the
// program's trimmed standard error output.
type ExtractError struct {
	Program string
	Stderr  string
	Err     error
}

func (e *ExtractError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("parse command failed: %s", e.Stderr)
	}
	return fmt.Sprintf("parse command failed: %v", e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// Extract creates an ExtractError.
func Extract(program, stderr string, err error) error {
	return &ExtractError{Program: program, Stderr: stderr, Err: err}
}

// ActionWarning reports an action program that exited non-zero. It is never
// fatal: the state update that preceded the action is retained regardless.
type ActionWarning struct {
	Program  string
	ExitCode int
}

func (e *ActionWarning) Error() string {
	return fmt.Sprintf("action command exited with code %d", e.ExitCode)
}

// Action creates an ActionWarning.
func Action(program string, exitCode int) error {
	return &ActionWarning{Program: program, ExitCode: exitCode}
}

// PersistError reports a failed state-file write. The in-memory store stays
// authoritative; a later save will still carry the latest state.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist state to %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Persist creates a PersistError.
func Persist(path string, err error) error {
	return &PersistError{Path: path, Err: err}
}

// ConfigError reports an unusable configuration. It is fatal at startup and
// can never occur once scheduling has begun.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %v", e.Err) }

func (e *ConfigError) Unwrap() error { return e.Err }

// Config creates a ConfigError wrapping err.
func Config(err error) error {
	return &ConfigError{Err: err}
}

// Configf creates a ConfigError from a format string.
func Configf(format string, args ...any) error {
	return &ConfigError{Err: fmt.Errorf(format, args...)}
}
