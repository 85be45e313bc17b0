// SPDX-License-Identifier: AGPL-3.0-only

// Package scheduler owns the per-task timers, the optional global sweep, and
// the result store they share.
//
// Concurrency model: one cron entry per task plus one for the sweep, all
// firing independently. A single mutex serializes every tick and every state
// save, so at most one task runner executes at a time regardless of how many
// timers are ready; ordering between a per-task timer and the sweep is
// whoever takes the lock first. Persistence happens synchronously under the
// same lock, only after a tick that reported a change.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"upi/internal/history"
	"upi/internal/logging"
	"upi/internal/metrics"
	"upi/internal/model"
	"upi/internal/runner"
	"upi/internal/state"
)

// Config controls the scheduler.
type Config struct {
	// GlobalEvery enables the global sweep when > 0: every GlobalEvery all
	// tasks are re-checked under one lock acquisition with a single save at
	// the end if anything changed.
	GlobalEvery time.Duration
	// WatchState reloads baselines when the state file is edited externally.
	WatchState bool
}

// Scheduler drives the task runner on each timer fire and coordinates
// persistence. It exclusively owns the in-memory results map.
type Scheduler struct {
	cfg    Config
	cron   *cron.Cron
	tasks  []*model.Task
	runner *runner.Runner
	store  *state.FileStore
	mets   *metrics.Metrics
	hist   history.Recorder
	log    logging.Logger

	// mu is the store lock: it guards results and serializes every tick,
	// including the save that follows a change.
	mu      sync.Mutex
	results state.Results

	// baseCtx is what ticks run on. It is deliberately not derived from the
	// context passed to Start: cancelling that context requests shutdown, and
	// shutdown drains in-flight ticks instead of killing their subprocesses.
	// baseCtx is cancelled only after the drain completes.
	baseCtx     context.Context
	cancelBase  context.CancelFunc
	cancelWatch context.CancelFunc
	launchWG    sync.WaitGroup
	stopOnce    sync.Once
}

// New creates a scheduler for a fixed task set. mets and hist may be nil.
func New(cfg Config, tasks []*model.Task, r *runner.Runner, store *state.FileStore,
	hist history.Recorder, mets *metrics.Metrics, log logging.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger{log: log}))),
		tasks:   tasks,
		runner:  r,
		store:   store,
		mets:    mets,
		hist:    hist,
		log:     log,
		results: state.Results{},
	}
}

// Start loads persisted state, registers all timers, and begins scheduling.
// The task set is fixed for the scheduler's lifetime.
func (s *Scheduler) Start(ctx context.Context) error {
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	results, err := s.store.Load(ctx)
	if err != nil {
		// Corrupt or unreadable state is never fatal: start from empty and
		// let the first ticks rebuild the baselines.
		s.log.Warn("state file unreadable, starting empty",
			logging.String("path", s.store.Path()), logging.Err(err))
	}
	s.results = results
	s.mets.SetTaskCount(len(s.tasks))

	for _, task := range s.tasks {
		task := task
		spec := fmt.Sprintf("@every %s", task.Interval())
		if _, err := s.cron.AddFunc(spec, func() { s.CheckOne(s.baseCtx, task) }); err != nil {
			return fmt.Errorf("schedule task %s: %w", task.URL, err)
		}
	}
	if s.cfg.GlobalEvery > 0 {
		spec := fmt.Sprintf("@every %s", s.cfg.GlobalEvery)
		if _, err := s.cron.AddFunc(spec, func() { s.CheckAll(s.baseCtx) }); err != nil {
			return fmt.Errorf("schedule global sweep: %w", err)
		}
	}

	s.cron.Start()
	if s.cfg.WatchState {
		s.startWatch(ctx)
	}

	// The first round of checks runs at launch; cron @every entries fire
	// only after a full interval has elapsed.
	s.launchWG.Add(1)
	go func() {
		defer s.launchWG.Done()
		s.CheckAll(s.baseCtx)
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.log.Info("scheduler started",
		logging.Int("tasks", len(s.tasks)),
		logging.Bool("global_sweep", s.cfg.GlobalEvery > 0))
	return nil
}

// Stop halts the timers and waits for any in-flight tick to finish before
// releasing resources. In-flight subprocesses are never killed mid-tick.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		s.launchWG.Wait()
		if s.cancelBase != nil {
			s.cancelBase()
		}
		if s.cancelWatch != nil {
			s.cancelWatch()
		}
		_ = s.store.Close()
		if s.hist != nil {
			_ = s.hist.Close()
		}
		s.log.Info("scheduler stopped")
	})
}

// CheckOne runs one tick for a single task: it takes the store lock, runs the
// task runner, and persists before releasing the lock if the value changed.
func (s *Scheduler) CheckOne(ctx context.Context, task *model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.runner.Run(ctx, task, s.results)
	s.afterTickLocked(ctx, out)
	if out.Err != nil {
		s.log.Error("check failed", logging.String("url", task.URL), logging.Err(out.Err))
		return
	}
	if out.Changed {
		s.persistLocked(ctx)
	}
}

// CheckAll is the global sweep: every task is re-checked sequentially under a
// single lock acquisition, with one save at the end if any task changed.
func (s *Scheduler) CheckAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Debug("global check triggered")
	anyChanged := false
	for _, task := range s.tasks {
		out := s.runner.Run(ctx, task, s.results)
		s.afterTickLocked(ctx, out)
		if out.Err != nil {
			s.log.Error("check failed", logging.String("url", task.URL), logging.Err(out.Err))
			continue
		}
		if out.Changed {
			anyChanged = true
		}
	}
	if anyChanged {
		s.persistLocked(ctx)
	}
}

// Results returns a snapshot of the in-memory store.
func (s *Scheduler) Results() state.Results {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results.Clone()
}

// persistLocked writes the store synchronously. Callers hold s.mu, so the
// file can never see two concurrent writers. A failed save is reported but
// not fatal: memory stays authoritative and the next save carries it.
func (s *Scheduler) persistLocked(ctx context.Context) {
	if err := s.store.Save(ctx, s.results); err != nil {
		s.mets.ObservePersistFailure()
		s.log.Error("saving state failed", logging.Err(err))
	}
}

func (s *Scheduler) afterTickLocked(ctx context.Context, out model.Outcome) {
	s.mets.ObserveOutcome(out)
	if s.hist != nil {
		if err := s.hist.Append(ctx, history.FromOutcome(out)); err != nil {
			s.log.Debug("history append failed", logging.Err(err))
		}
	}
}

// startWatch reloads baselines from disk when the state file changes
// externally. The swap happens under the store lock, so a reload never
// interleaves with a tick.
func (s *Scheduler) startWatch(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancelWatch = cancel

	ch, err := s.store.Watch(ctx)
	if err != nil {
		s.log.Warn("state watcher failed to start", logging.Err(err))
		return
	}
	go func() {
		for range ch {
			results, err := s.store.Load(ctx)
			if err != nil {
				s.log.Warn("state reload failed", logging.Err(err))
				continue
			}
			s.mu.Lock()
			s.results = results
			s.mu.Unlock()
			s.log.Info("state reloaded from disk", logging.Int("entries", len(results)))
		}
	}()
}

// cronLogger adapts our logger for the cron recovery chain.
type cronLogger struct {
	log logging.Logger
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug(msg, logging.Any("cron", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error(msg, logging.Err(err), logging.Any("cron", kv))
}
