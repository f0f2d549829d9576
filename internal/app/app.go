package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mimic/internal/config"
	"mimic/internal/logger"
	"mimic/internal/orchestrator"
	"mimic/internal/scheduler"
	"mimic/internal/store"
	statushttp "mimic/internal/transport/http/status"
	"mimic/internal/watchlist"

	"golang.org/x/sync/errgroup"
)

// App wires configuration to the daily job, the scheduler and the status API.
type App struct {
	cfg       *config.Config
	loc       *time.Location
	store     store.Store
	paper     bool
	watchlist *watchlist.Registry
	orch      *orchestrator.Orchestrator
	status    *statushttp.Server
	cleanup   func()
	Summary   *StartupSummary
}

// NewApp builds every dependency without starting anything. Close releases them.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	a, cleanup, err := buildAppWithWire(cfg)
	if err != nil {
		return nil, err
	}
	a.cleanup = cleanup
	return a, nil
}

func (a *App) Close() {
	if a == nil || a.cleanup == nil {
		return
	}
	a.cleanup()
	a.cleanup = nil
}

// Store exposes persistence for read-only commands.
func (a *App) Store() store.Store {
	if a == nil {
		return nil
	}
	return a.store
}

// RunOnce executes the daily job a single time and logs its summary.
func (a *App) RunOnce(ctx context.Context, opts orchestrator.Options) (orchestrator.Summary, error) {
	if a == nil || a.orch == nil {
		return orchestrator.Summary{}, fmt.Errorf("app not initialized")
	}
	return a.orch.Run(ctx, opts)
}

// Serve runs the status API, the daily trigger and the watch list reloader
// until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.watchlist != nil {
		if err := a.watchlist.Watch(); err != nil {
			return err
		}
		a.watchlist.OnChange(func(s watchlist.Snapshot) {
			logger.Infof("watch list now has %d parties (version %d)", len(s.Parties), s.Version)
		})
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.status != nil {
		group.Go(func() error {
			if err := a.status.Start(ctx); err != nil {
				return fmt.Errorf("status http server error: %w", err)
			}
			return nil
		})
	}
	if a.cfg.Schedule.Enabled {
		sched, err := scheduler.NewDailyScheduler(ctx, a.cfg.Schedule.RunAt, a.loc)
		if err != nil {
			return err
		}
		sched.Name = "daily_trade"
		group.Go(func() error {
			sched.Start(a.scheduledRun)
			return nil
		})
	} else {
		logger.Warnf("schedule disabled; trigger runs with `mimic run`")
	}
	return group.Wait()
}

func (a *App) scheduledRun(ctx context.Context) {
	sum, err := a.orch.Run(ctx, orchestrator.Options{})
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		logger.Warnf("scheduled run interrupted: %v", err)
	case err != nil:
		logger.Errorf("scheduled run failed: %v", err)
	case sum.HasFailures():
		logger.Warnf("scheduled run for %s finished with failures", sum.TradingDate)
	}
}
