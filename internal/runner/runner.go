// SPDX-License-Identifier: AGPL-3.0-only

// Package runner performs one full check for one task:
// fetch, extract, compare, and (when the value changed) act.
package runner

import (
	"context"
	"time"

	"upi/internal/logging"
	"upi/internal/model"
	"upi/internal/state"
)

// Runner drives a single tick. It owns no state of its own: the results map
// is passed in by the scheduler, which holds the store lock for the duration
// of the call.
type Runner struct {
	fetcher   model.Fetcher
	extractor model.Extractor
	action    model.ActionRunner
	log       logging.Logger
}

// New wires a Runner from its collaborators.
func New(f model.Fetcher, e model.Extractor, a model.ActionRunner, log logging.Logger) *Runner {
	return &Runner{fetcher: f, extractor: e, action: a, log: log}
}

// Run executes one tick for task against results. On a detected change it
// records the new value in results and runs the action program.
//
// Failure policy: a fetch or extract error aborts the tick before any
// mutation and before the action; it is reported in Outcome.Err. An action
// failure is logged as a warning and never rolls back the mutation already
// applied.
func (r *Runner) Run(ctx context.Context, task *model.Task, results state.Results) model.Outcome {
	out := model.Outcome{URL: task.URL, Started: time.Now()}
	r.log.Debug("checking url", logging.String("url", task.URL))

	body, err := r.fetcher.Fetch(ctx, task.URL)
	if err != nil {
		out.Err = err
		out.Finished = time.Now()
		return out
	}

	value, err := r.extractor.Extract(ctx, task.Parse, body)
	if err != nil {
		out.Err = err
		out.Finished = time.Now()
		return out
	}
	out.Value = value

	out.Changed = state.Changed(results, task.URL, value)
	if !out.Changed {
		r.log.Debug("no change", logging.String("url", task.URL))
		out.Finished = time.Now()
		return out
	}

	r.log.Info("change detected",
		logging.String("url", task.URL),
		logging.String("command", task.Command))
	results[task.URL] = value

	if err := r.action.RunAction(ctx, task.Command, value); err != nil {
		// Non-fatal: the baseline update above stands whatever the action did.
		r.log.Warn("action command failed",
			logging.String("url", task.URL),
			logging.Err(err))
	}

	out.Finished = time.Now()
	return out
}
