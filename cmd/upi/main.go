// SPDX-License-Identifier: AGPL-3.0-only
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"upi/internal/config"
	"upi/internal/fetch"
	"upi/internal/history"
	"upi/internal/logging"
	"upi/internal/metrics"
	"upi/internal/model"
	"upi/internal/runner"
	"upi/internal/scheduler"
	"upi/internal/shellcmd"
	"upi/internal/state"
)

var (
	// buildVersion is set at build time via -ldflags "-X main.buildVersion=<version>"
	buildVersion = "dev"

	configPath       = flag.String("config", "", "Path to the YAML configuration file")
	globalCheckEvery = flag.Int("global-check-every", 0, "Global check interval in seconds (overrides the config file)")
	stateFile        = flag.String("state-file", "", `State file path (default "upi-state.json")`)
	stateWatch       = flag.Bool("state-watch", false, "Reload baselines when the state file is edited externally")
	metricsAddr      = flag.String("metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9190)")
	logLevel         = flag.String("log-level", "", "Logging level: trace, debug, info, warn, error")
	logFile          = flag.String("log-file", "", "Also write JSON logs to this file")
	showVersion      = flag.Bool("version", false, "Show version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("upi version %s\n", buildVersion)
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Options{Level: cfg.Logging.Level, FilePath: cfg.Logging.File})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	defer log.Close()

	if len(cfg.Tasks) == 0 {
		log.Info("no tasks defined in config, exiting")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := createApp(cfg, log)
	if err != nil {
		log.Error("failed to create application", logging.Err(err))
		os.Exit(1)
	}

	if err := app.Start(ctx); err != nil {
		log.Error("failed to start application", logging.Err(err))
		os.Exit(1)
	}
	log.Info("upi started",
		logging.String("version", buildVersion),
		logging.Int("tasks", len(cfg.Tasks)),
		logging.String("state_file", cfg.StateFile))

	waitForSignal(cancel, app, log)
}

// loadConfig layers defaults, the config file, UPI_* environment variables,
// and command-line flags, then validates the result.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.FromEnv(cfg)
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags overlays explicitly supplied command-line flags onto cfg.
func applyFlags(cfg *config.Config) {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// Explicit detection matters for --global-check-every: passing 0 must be
	// able to disable a sweep the config file enabled.
	if set["global-check-every"] {
		cfg.GlobalCheckEvery = *globalCheckEvery
	}
	if set["state-file"] {
		cfg.StateFile = *stateFile
	}
	if set["state-watch"] {
		cfg.StateWatch = *stateWatch
	}
	if set["metrics-addr"] {
		cfg.Metrics.Addr = *metricsAddr
	}
	if set["log-level"] {
		cfg.Logging.Level = *logLevel
	}
	if set["log-file"] {
		cfg.Logging.File = *logFile
	}
}

// Application bundles the running pieces for startup and shutdown.
type Application struct {
	scheduler  *scheduler.Scheduler
	metricsSrv *http.Server
	log        logging.Logger
}

// createApp wires the fetcher, shell runner, stores, and scheduler from cfg.
func createApp(cfg *config.Config, log logging.Logger) (*Application, error) {
	store, err := state.NewFileStore(cfg.StateFile)
	if err != nil {
		return nil, err
	}

	recorder, err := history.Open(history.Config{
		Driver:      cfg.History.Driver,
		Path:        cfg.History.Path,
		BusyTimeout: time.Duration(cfg.History.BusyTimeoutMS) * time.Millisecond,
	}, log)
	if err != nil {
		return nil, err
	}

	var mets *metrics.Metrics
	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mets = metrics.New()
		mux := http.NewServeMux()
		mux.Handle("/metrics", mets.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	}

	fetcher := fetch.New(fetch.Options{
		UserAgent:  "upi/" + buildVersion,
		Timeout:    cfg.Fetch.Timeout(),
		RatePerSec: cfg.Fetch.RatePerSec,
	})
	shell := shellcmd.New("")
	run := runner.New(fetcher, shell, shell, log)

	tasks := make([]*model.Task, 0, len(cfg.Tasks))
	for i := range cfg.Tasks {
		tasks = append(tasks, &cfg.Tasks[i])
	}

	sched := scheduler.New(scheduler.Config{
		GlobalEvery: time.Duration(cfg.GlobalCheckEvery) * time.Second,
		WatchState:  cfg.StateWatch,
	}, tasks, run, store, recorder, mets, log)

	return &Application{scheduler: sched, metricsSrv: metricsSrv, log: log}, nil
}

// Start starts the scheduler and, when configured, the metrics listener.
func (a *Application) Start(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	if a.metricsSrv != nil {
		go func() {
			a.log.Info("metrics listening", logging.String("addr", a.metricsSrv.Addr))
			if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server failed", logging.Err(err))
			}
		}()
	}
	return nil
}

// Stop drains in-flight ticks and shuts everything down.
func (a *Application) Stop() {
	a.scheduler.Stop()
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.metricsSrv.Shutdown(shutdownCtx)
	}
}

// waitForSignal blocks until SIGINT/SIGTERM, then shuts down with a bounded
// wait so a stuck action cannot hold the process open forever.
func waitForSignal(cancel context.CancelFunc, app *Application, log logging.Logger) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	<-signalCh
	log.Info("received termination signal, shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		app.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-shutdownCtx.Done():
		log.Warn("shutdown timed out")
	}
}
