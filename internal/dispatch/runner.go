package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/quench-dns/quench/internal/config"
	"github.com/quench-dns/quench/internal/history"
	"github.com/quench-dns/quench/internal/pending"
	"github.com/quench-dns/quench/internal/querysvc"
	"github.com/quench-dns/quench/internal/refresh"
	"github.com/quench-dns/quench/internal/stats"
)

// Exit codes documented for the CLI.
const (
	ExitOK          = 0
	ExitBindFailure = 1
	ExitSeedFailure = 2
	ExitWorkerPanic = 3
)

// ExitError carries the process exit code alongside the cause.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error from Runner.Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// Runner assembles the forwarder and supervises its tasks: the dispatcher
// workers, the refresher, and the stats reporter. It exits when any of
// them fails or the context is cancelled, allowing in-flight work the
// dispatcher's grace window.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a runner with the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Run builds and supervises the forwarder until ctx is cancelled. Errors
// are wrapped with the exit code the CLI should use.
func (r *Runner) Run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dbDir := cfg.Blocklist.DBDir
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return &ExitError{Code: ExitSeedFailure, Err: fmt.Errorf("create db dir: %w", err)}
	}

	hist := r.openHistory(ctx, dbDir)
	if hist != nil {
		defer hist.Close()
	}

	svc, refresher, err := r.buildQueryService(ctx, cfg, hist)
	if err != nil {
		return &ExitError{Code: ExitSeedFailure, Err: err}
	}

	counters := stats.NewCounters()
	pend := pending.New(pending.DefaultTTL, pending.DefaultCapacity)

	disp, err := New(svc, pend, counters, r.logger, Config{
		ListenAddr:  net.JoinHostPort("::", strconv.Itoa(cfg.Server.Port)),
		Upstream:    cfg.Upstream.Addr,
		Workers:     cfg.Server.Workers,
		MaxInFlight: int64(cfg.Server.MaxInFlight),
	})
	if err != nil {
		return &ExitError{Code: ExitBindFailure, Err: err}
	}

	reporter := stats.NewReporter(counters, 0, r.logger, func() []slog.Attr {
		return []slog.Attr{
			slog.Int("blocklist_entries", svc.BlockedCount()),
			slog.Int("pending_entries", pend.Len()),
		}
	})

	errCh := make(chan error, 2)
	go func() { errCh <- disp.Run(ctx) }()
	go func() { errCh <- reporter.Run(ctx) }()

	var cause error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown requested")
	case err := <-errCh:
		cause = err
		if err != nil {
			r.logger.Error("critical task exited", "err", err)
		}
	case err := <-refresher.Done():
		cause = err
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("refresher exited", "err", err)
		}
	}
	cancel()

	// Let the dispatcher's drain run before the process exits.
	drainTimer := time.NewTimer(DefaultGrace + time.Second)
	defer drainTimer.Stop()
	for range 2 {
		select {
		case <-errCh:
		case <-drainTimer.C:
		}
	}

	return exitErrorFor(cause)
}

func exitErrorFor(cause error) error {
	switch {
	case cause == nil, errors.Is(cause, context.Canceled):
		return nil
	case errors.Is(cause, ErrBind):
		return &ExitError{Code: ExitBindFailure, Err: cause}
	case errors.Is(cause, ErrWorkerPanic):
		return &ExitError{Code: ExitWorkerPanic, Err: cause}
	default:
		return &ExitError{Code: 1, Err: cause}
	}
}

// openHistory opens the refresh bookkeeping database. History is an
// optional aid; a failure to open it degrades to log-only operation.
func (r *Runner) openHistory(ctx context.Context, dbDir string) *history.DB {
	hist, err := history.Open(filepath.Join(dbDir, "quench.db"))
	if err != nil {
		r.logger.Warn("refresh history disabled", "err", err)
		return nil
	}
	if last, ok, err := hist.LastSuccess(ctx); err == nil && ok {
		r.logger.Info("last successful block-list refresh",
			"at", last.FinishedAt, "entries", last.EntryCount)
	}
	return hist
}

// buildQueryService walks the lifecycle: load the seed, spawn the
// refresher, and seal the service. A seed that cannot be loaded aborts
// startup.
func (r *Runner) buildQueryService(
	ctx context.Context,
	cfg *config.Config,
	hist *history.DB,
) (*querysvc.Service, *querysvc.RefresherHandle, error) {
	seedPath := cfg.Blocklist.SeedFile
	if !filepath.IsAbs(seedPath) {
		seedPath = filepath.Join(cfg.Blocklist.DBDir, seedPath)
	}

	builder := querysvc.New(querysvc.Config{
		SeedPath:  seedPath,
		AnswerTTL: uint32(cfg.Blocklist.AnswerTTL),
		NXDomain:  cfg.NXDomain(),
		Logger:    r.logger,
	})

	indexed, err := builder.Index()
	if err != nil {
		return nil, nil, err
	}

	scheduled, err := indexed.Schedule(ctx, refresh.Options{
		URL:      cfg.Blocklist.URL,
		Interval: cfg.RefreshInterval(),
		DBDir:    cfg.Blocklist.DBDir,
		History:  hist,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, nil, err
	}

	svc, handle, err := scheduled.Ready()
	if err != nil {
		return nil, nil, err
	}

	action := "sinkhole"
	if cfg.NXDomain() {
		action = "nxdomain"
	}
	r.logger.Info("query service ready",
		"seed", seedPath,
		"blocked_entries", svc.BlockedCount(),
		"refresh_interval", cfg.RefreshInterval(),
		"block_action", action,
	)
	return svc, handle, nil
}
