package app

import (
	"fmt"
	"strings"
	"time"

	"mimic/internal/broker"
	"mimic/internal/calendar"
	"mimic/internal/config"
	"mimic/internal/execution"
	"mimic/internal/feed"
	"mimic/internal/guardrail"
	"mimic/internal/logger"
	"mimic/internal/orchestrator"
	"mimic/internal/reconcile"
	"mimic/internal/store"
	"mimic/internal/store/gormstore"
	statushttp "mimic/internal/transport/http/status"
	"mimic/internal/watchlist"
)

func provideLocation(cfg *config.Config) (*time.Location, error) {
	loc, err := cfg.Calendar.Location()
	if err != nil {
		return nil, fmt.Errorf("calendar.timezone: %w", err)
	}
	return loc, nil
}

func provideStore(cfg *config.Config) (store.Store, func(), error) {
	st, err := gormstore.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	cleanup := func() {
		if err := st.Close(); err != nil {
			logger.Warnf("close database: %v", err)
		}
	}
	return st, cleanup, nil
}

func provideBroker(cfg *config.Config) (*broker.Client, error) {
	c, err := broker.NewClient(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("init broker client: %w", err)
	}
	return c, nil
}

func provideFeed(cfg *config.Config) (*feed.Client, error) {
	c, err := feed.NewClient(cfg.Feed)
	if err != nil {
		return nil, fmt.Errorf("init feed client: %w", err)
	}
	return c, nil
}

// provideWatchlist returns nil when no list is configured.
func provideWatchlist(cfg *config.Config) (*watchlist.Registry, error) {
	path := strings.TrimSpace(cfg.Watchlist.Path)
	if path == "" {
		return nil, nil
	}
	return watchlist.Load(path)
}

func provideEngine(b *broker.Client, st store.Store) *execution.Engine {
	return execution.NewEngine(b, st.Trades())
}

func providePoller(cfg *config.Config, b *broker.Client, st store.Store) *reconcile.Poller {
	return reconcile.NewPoller(b, st.Trades(), reconcile.ConfigFrom(cfg.Poller))
}

func provideOrchestrator(
	cfg *config.Config,
	loc *time.Location,
	b *broker.Client,
	f *feed.Client,
	engine *execution.Engine,
	poller *reconcile.Poller,
	st store.Store,
	wl *watchlist.Registry,
) (*orchestrator.Orchestrator, error) {
	deps := orchestrator.Deps{
		Market: b,
		Feed:   f,
		Engine: engine,
		Poller: poller,
		Store:  st,
		Clock:  calendar.SystemClock(),
	}
	if wl != nil {
		deps.Watch = wl
	}
	return orchestrator.New(orchestrator.Config{
		Guardrails:   guardrail.FromConfig(cfg.Trading),
		Location:     loc,
		LookbackDays: cfg.Calendar.LookbackDays,
		StaleAfter:   cfg.Job.StaleAfter(),
		Concurrency:  cfg.Trading.Concurrency,
		PaperVenue:   b.Paper(),
	}, deps)
}

func provideStatusServer(cfg *config.Config, st store.Store, wl *watchlist.Registry, b *broker.Client) (*statushttp.Server, error) {
	sc := statushttp.ServerConfig{Addr: cfg.App.HTTPAddr, Store: st, Positions: b}
	if wl != nil {
		sc.Watchlist = wl
	}
	srv, err := statushttp.NewServer(sc)
	if err != nil {
		return nil, fmt.Errorf("init status http: %w", err)
	}
	return srv, nil
}

func newApp(
	cfg *config.Config,
	loc *time.Location,
	st store.Store,
	b *broker.Client,
	wl *watchlist.Registry,
	orch *orchestrator.Orchestrator,
	status *statushttp.Server,
) *App {
	return &App{
		cfg:       cfg,
		loc:       loc,
		store:     st,
		paper:     b.Paper(),
		watchlist: wl,
		orch:      orch,
		status:    status,
		Summary:   newStartupSummary(cfg, b.Paper(), wl),
	}
}
