package main

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/thc1006/nephoran-sol003-driver/internal/api"
	"github.com/thc1006/nephoran-sol003-driver/internal/audit"
	"github.com/thc1006/nephoran-sol003-driver/internal/authclient"
	"github.com/thc1006/nephoran-sol003-driver/internal/bus"
	"github.com/thc1006/nephoran-sol003-driver/internal/execution"
	"github.com/thc1006/nephoran-sol003-driver/internal/grant"
	"github.com/thc1006/nephoran-sol003-driver/internal/lcm"
	"github.com/thc1006/nephoran-sol003-driver/internal/packages"
	"github.com/thc1006/nephoran-sol003-driver/internal/reconcile"
	"github.com/thc1006/nephoran-sol003-driver/internal/templates"
	"github.com/thc1006/nephoran-sol003-driver/pkg/config"
)

// app holds the wired components and the resources they own.
type app struct {
	server  *api.Server
	loop    *reconcile.Loop
	bus     bus.Bus
	clients *authclient.Cache
	closers []func()
	log     logr.Logger
}

// newApp wires every component. Resources acquired before a failure are
// released before the error is returned.
func newApp(ctx context.Context, cfg *config.Config, log logr.Logger) (*app, error) {
	a := &app{log: log}
	if err := a.wire(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg *config.Config) error {
	log := a.log

	var (
		rdb *redis.Client
		err error
	)
	switch cfg.Bus.Type {
	case config.BusTypeRedis:
		rdb, err = bus.NewRedisClient(ctx, cfg.Bus.Redis)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { rdb.Close() })
		a.bus = bus.NewRedisBus(rdb, cfg.Bus.Redis, log)
	default:
		a.bus = bus.NewMemoryBus(log)
	}

	recorder := audit.NewLogRecorder(log)
	clientOpts := cfg.ClientOptions(log)

	a.clients = lcm.NewClientCache(clientOpts, recorder)
	driver := lcm.NewDriver(a.clients, log)

	engine, err := templates.NewEngine(cfg.Templates.Dir)
	if err != nil {
		return err
	}
	executor := execution.NewExecutor(driver, engine, a.bus, execution.Topics{
		Polling:  cfg.Reconcile.PollingTopic,
		Response: cfg.Reconcile.ResponseTopic,
	}, log)

	deps := api.Dependencies{Executor: executor}

	if cfg.GrantEnabled() {
		grants, err := grant.NewDriver(cfg.Grant, clientOpts, recorder, log)
		if err != nil {
			return fmt.Errorf("failed to configure grant provider: %w", err)
		}
		a.closers = append(a.closers, grants.Close)
		deps.Grants = grants
	}

	if cfg.PackagesEnabled() {
		var store packages.Store
		if rdb != nil {
			store = packages.NewRedisStore(rdb, cfg.Bus.Redis.KeyPrefix, cfg.Packages.CacheTTL)
		}
		repoOpts := clientOpts
		repoOpts.Middleware = append(repoOpts.Middleware, audit.Middleware(recorder))
		repo, err := packages.NewDriver(cfg.Packages.Config, repoOpts, store, log)
		if err != nil {
			return fmt.Errorf("failed to configure package repository: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		deps.Packages = repo
	}

	a.server, err = api.NewServer(cfg.API, deps, log)
	if err != nil {
		return err
	}
	a.loop = reconcile.NewLoop(cfg.Reconcile, driver, a.bus, log)
	return nil
}

// Run serves HTTP and consumes polling requests until ctx is cancelled or
// either stops with an error.
func (a *app) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Start(gCtx)
	})
	g.Go(func() error {
		err := a.loop.Run(gCtx, a.bus)
		if gCtx.Err() != nil {
			return nil
		}
		return err
	})
	return g.Wait()
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	if a == nil {
		return
	}
	if a.clients != nil {
		a.clients.Close()
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Error(err, "Failed to close message bus")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
