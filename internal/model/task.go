// SPDX-License-Identifier: AGPL-3.0-only
package model

import (
	"context"
	"time"
)

// Task is one configured unit of work: fetch a URL, reduce the body through
// the parse program, and run the command program when the result changes.
// Tasks are immutable once loaded from configuration; the URL is the task's
// identity and its key in the state file.
type Task struct {
	URL        string `yaml:"url" json:"url"`
	Parse      string `yaml:"parse" json:"parse"`
	Command    string `yaml:"command" json:"command"`
	CheckEvery int    `yaml:"check-every" json:"check-every"`
}

// Interval returns the task's check interval.
func (t *Task) Interval() time.Duration {
	return time.Duration(t.CheckEvery) * time.Second
}

// Outcome is the ephemeral result of one tick for one task. It is produced by
// the task runner, consumed by the scheduler, and never persisted.
type Outcome struct {
	URL      string
	Value    string
	Changed  bool
	Err      error
	Started  time.Time
	Finished time.Time
}

// Duration returns how long the tick took.
func (o Outcome) Duration() time.Duration {
	return o.Finished.Sub(o.Started)
}

// Fetcher retrieves the raw body for a task's URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor reduces a raw body to the task's observed value by running the
// parse program with the body on its stdin.
type Extractor interface {
	Extract(ctx context.Context, program string, input []byte) (string, error)
}

// ActionRunner runs the task's command program with the newly extracted value
// exposed through the environment.
type ActionRunner interface {
	RunAction(ctx context.Context, program, value string) error
}
