// Package app builds the profile subsystem from configuration and owns its
// shutdown: SIGINT and SIGTERM lead to a graceful Cleanup, a recovered panic
// to an EmergencyCleanup.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/profilekeeper/internal/autolock"
	"github.com/dmitrijs2005/profilekeeper/internal/config"
	"github.com/dmitrijs2005/profilekeeper/internal/idle"
	"github.com/dmitrijs2005/profilekeeper/internal/logging"
	"github.com/dmitrijs2005/profilekeeper/internal/metrics"
	"github.com/dmitrijs2005/profilekeeper/internal/profiles"
	"github.com/dmitrijs2005/profilekeeper/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	backend  *storage.Backend
	registry *prometheus.Registry

	Manager  *profiles.Manager
	AutoLock *autolock.Coordinator
	// Activity is where the host feeds input events.
	Activity *idle.Feed
}

// New opens storage and wires the manager, metrics and auto-lock. Logs go
// to w. Nothing is unlocked until Start.
func New(ctx context.Context, c *config.Config, w io.Writer, hooks autolock.Hooks) (*App, error) {
	logger, err := logging.New(c.Log.Level, c.Log.Format, w)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	backend, err := storage.Open(ctx, c.StorageConfig())
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("metrics init error: %w", err)
	}

	mgr, err := profiles.NewManager(backend.Metadata, backend.Entries, c.ManagerConfig(),
		profiles.WithLogger(logger.With("component", "profiles")),
		profiles.WithObserver(m),
	)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("profile manager init error: %w", err)
	}

	feed := idle.NewFeed()
	al := autolock.New(mgr, feed, c.AutoLockConfig(), hooks,
		autolock.WithRecorder(m),
		autolock.WithLogger(logger.With("component", "autolock")),
		autolock.WithPanicHandler(func(r any) { wipe(logger, mgr, r) }),
	)

	return &App{
		config:   c,
		logger:   logger,
		backend:  backend,
		registry: reg,
		Manager:  mgr,
		AutoLock: al,
		Activity: feed,
	}, nil
}

// Registry exposes the app's metrics for a host-provided exporter.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Start unlocks the profile index and begins following lifecycle events.
// The caller may wipe masterPassword once Start returns.
func (a *App) Start(ctx context.Context, masterPassword []byte) error {
	if err := a.Manager.Initialize(ctx, masterPassword); err != nil {
		return err
	}
	a.AutoLock.Attach(a.Manager)
	a.logger.Info(ctx, "profilekeeper started", "driver", a.backend.Driver)
	return nil
}

// Wait blocks until ctx is done or the process receives SIGINT or SIGTERM,
// then shuts down.
func (a *App) Wait(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	a.logger.Info(context.Background(), "shutting down")
	return a.Shutdown(context.Background())
}

// Shutdown locks the active profile, persists the index and closes storage.
func (a *App) Shutdown(ctx context.Context) error {
	a.AutoLock.Detach()
	err := a.Manager.Cleanup(ctx)
	if cerr := a.backend.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close storage: %w", cerr))
	}
	return err
}

// Guard is deferred by goroutines that may panic while a profile is
// unlocked. It wipes all key material and re-panics. The auto-lock timer
// goroutine is guarded already.
func (a *App) Guard() {
	if r := recover(); r != nil {
		wipe(a.logger, a.Manager, r)
		panic(r)
	}
}

func wipe(logger logging.Logger, mgr *profiles.Manager, r any) {
	logger.Error(context.Background(), "panic, wiping key material", "panic", r)
	mgr.EmergencyCleanup()
}
