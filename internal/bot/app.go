// Package bot wires the pieces together and owns the Telegram-facing
// command and submission surface.
package bot

import (
	"context"
	"fmt"
	"time"

	logx "chanpost/pkg/logx"

	"chanpost/internal/auth"
	"chanpost/internal/config"
	"chanpost/internal/dispatch"
	"chanpost/internal/schedule"
	"chanpost/internal/storage"
	"chanpost/internal/transport/telegram"
)

// App is the composition root.
type App struct {
	cfgMgr *config.ConfigManager
	logSvc *logx.Service
	log    logx.Logger

	store      storage.Store
	engine     *schedule.Engine
	dispatcher *dispatch.Dispatcher
	adapter    *telegram.Adapter
	admins     *auth.Registry

	loc *time.Location

	cancelWatch context.CancelFunc
}

func NewApp(cfgPath string) (*App, error) {
	mgr := config.NewConfigManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(func(ctx context.Context, c *config.Config) error {
		return c.Validate()
	})

	win, err := cfg.Window()
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		ChannelID:   cfg.Telegram.ChannelID,
		MainAdminID: cfg.Telegram.MainAdminID,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	clockTol, err := config.ParseDurationField("schedule.clock_tolerance", cfg.Schedule.ClockTolerance)
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}

	app := &App{
		cfgMgr:  mgr,
		logSvc:  logSvc,
		log:     log,
		store:   store,
		adapter: adapter,
		loc:     win.Loc,
	}

	app.engine = schedule.New(win, store, log.With(logx.String("comp", "engine")), schedule.Options{
		ClockTolerance: clockTol,
		OnPublishNow:   func() { app.dispatcher.Kick() },
	})

	tick, _ := config.ParseDurationOrDefault("dispatch.tick", cfg.Dispatch.Tick, 30*time.Second)
	app.dispatcher = dispatch.New(dispatch.Config{
		Tick:            tick,
		RatePerMin:      cfg.Dispatch.RatePerMin,
		FailNoticeAfter: cfg.Dispatch.FailNoticeAfter,
	}, app.engine, adapter, adapter, log.With(logx.String("comp", "dispatch")))

	app.admins = auth.NewRegistry(cfg.Telegram.MainAdminID, store, log.With(logx.String("comp", "auth")))

	app.registerHandlers()
	return app, nil
}

func (a *App) Start(ctx context.Context) error {
	if err := a.admins.Load(ctx); err != nil {
		return err
	}
	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := a.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	if err := a.adapter.Start(ctx); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	// Live re-apply of logging on config edits. Scheduling and transport
	// settings stay fixed for the process lifetime.
	wctx, cancel := context.WithCancel(ctx)
	a.cancelWatch = cancel
	sub := a.cfgMgr.Subscribe(1)
	go func() {
		defer a.cfgMgr.Unsubscribe(sub)
		for {
			select {
			case <-wctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.logSvc.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				a.log.Info("logging config re-applied")
			}
		}
	}()
	go func() { _ = a.cfgMgr.Watch(wctx) }()

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancelWatch != nil {
		a.cancelWatch()
	}
	// Stop intake first, then the loops, then storage.
	_ = a.adapter.Stop(ctx)
	_ = a.dispatcher.Stop(ctx)
	_ = a.engine.Stop(ctx)
	err := a.store.Close()
	a.log.Info("stopped")
	a.logSvc.Close()
	return err
}
