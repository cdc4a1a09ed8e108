package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/clist"
	"remindbot/internal/config"
	"remindbot/internal/discord"
	"remindbot/internal/eventbus"
	"remindbot/internal/remind"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/settings"
	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

// App wires the whole bot: config, logging, storage, the contest cache, the
// reminder engine and the Discord surface. One instance per process.
type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	cache  *clist.Cache
	guilds *settings.Store
	svc    *remind.Service

	adapter *discord.Adapter
	cmds    *discord.Commands

	cron *cron.Cron

	started atomic.Bool

	refreshPeriod time.Duration
	backupSpec    string
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// The contest cache and guild settings both live in storage, so the bot
	// always runs with a store. Empty config means the file driver.
	driver, path := cfg.Storage.Driver, cfg.Storage.Path
	if driver == "" {
		driver = "file"
	}
	if path == "" {
		path = "./data"
	}
	busyTimeout, _ := config.DurationOr("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	store, err := storage.Open(storage.Config{
		Driver:      driver,
		Path:        path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", driver), logx.String("path", path))

	lookback, _ := config.DurationOr("clist.lookback", cfg.Clist.Lookback, 48*time.Hour)
	cacheTTL, _ := config.DurationOr("clist.cache_ttl", cfg.Clist.CacheTTL, 12*time.Hour)
	client := clist.NewClient(clist.ClientConfig{
		BaseURL:    cfg.Clist.BaseURL,
		APIKey:     cfg.Clist.APIKey,
		Limit:      cfg.Clist.Limit,
		Lookback:   lookback,
		RatePerMin: cfg.Clist.RatePerMin,
	}, log.With(logx.String("comp", "clist")))
	cache := clist.NewCache(client, store, cacheTTL, log.With(logx.String("comp", "cache")))

	guilds := settings.NewStore(store, log.With(logx.String("comp", "settings")))

	adapter, err := discord.NewAdapter(discord.Config{
		Token:          cfg.Discord.Token,
		Presence:       cfg.Discord.Presence,
		SendRatePerSec: cfg.Discord.SendRatePerSec,
	}, log.With(logx.String("comp", "discord")))
	if err != nil {
		return nil, err
	}

	svc := remind.NewService(cache, guilds, adapter, bus,
		log.With(logx.String("comp", "remind")),
		remind.Options{FinishedLimit: cfg.Remind.FinishedLimit})

	cmds := discord.NewCommands(svc, adapter, log.With(logx.String("comp", "commands")))

	refreshPeriod, _ := config.DurationOr("remind.refresh_period", cfg.Remind.RefreshPeriod, 10*time.Minute)
	backupSpec := cfg.Remind.BackupSpec
	if backupSpec == "" {
		backupSpec = "@daily"
	}

	return &App{
		cfgm:          cfgm,
		log:           log,
		logs:          logSvc,
		bus:           bus,
		store:         store,
		cache:         cache,
		guilds:        guilds,
		svc:           svc,
		adapter:       adapter,
		cmds:          cmds,
		refreshPeriod: refreshPeriod,
		backupSpec:    backupSpec,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	// One-shot latch: a repeated start signal must not spawn a second set of
	// loops and cron jobs.
	if !a.started.CompareAndSwap(false, true) {
		return nil
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if err := a.guilds.Load(ctx); err != nil {
		return err
	}

	if err := a.adapter.Start(ctx); err != nil {
		return err
	}
	if err := a.cmds.Register(); err != nil {
		return err
	}

	// First cycle right away so reminders exist before the first tick.
	a.sup.Go0("cycle.initial", func(ctx context.Context) {
		_ = a.svc.RunCycle(ctx, false)
	})

	a.cron = cron.New()
	if _, err := a.cron.AddFunc("@every "+a.refreshPeriod.String(), func() {
		_ = a.svc.RunCycle(a.sup.Context(), false)
	}); err != nil {
		return fmt.Errorf("app: refresh schedule: %w", err)
	}
	if _, err := a.cron.AddFunc(a.backupSpec, func() {
		if _, err := a.guilds.Backup(a.sup.Context()); err != nil {
			a.log.Error("settings backup failed", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("app: backup schedule %q: %w", a.backupSpec, err)
	}
	a.cron.Start()

	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	cfgCh := a.cfgm.Subscribe(4)
	a.sup.Go0("config.apply", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(cfgCh)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-cfgCh:
				if !ok {
					return
				}
				a.applyReload(cfg)
			}
		}
	})

	events, unsub := a.bus.Subscribe(32)
	a.sup.Go0("bus.debug", func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	a.log.Info("started", logx.Duration("refresh_period", a.refreshPeriod))
	return nil
}

// applyReload handles validated config hot-reloads. Only logging settings
// take effect without a restart; anything else is noted and picked up on the
// next start.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.log.Info("config reloaded")
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded})
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	if a.cron != nil {
		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}

	a.cmds.Unregister()
	if err := a.adapter.Stop(); err != nil {
		a.log.Warn("gateway close failed", logx.Err(err))
	}

	if err := a.svc.Stop(ctx); err != nil {
		a.log.Warn("reminder tasks did not drain", logx.Err(err))
	}

	if a.sup != nil {
		a.sup.Cancel()
		if err := a.sup.Wait(ctx); err != nil {
			a.log.Warn("background loops did not drain", logx.Err(err))
		}
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	return a.logs.Close()
}

// validate rejects broken configs both at startup and before a hot-reload is
// committed.
func validate(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Discord.Token) == "" {
		return fmt.Errorf("discord.token is required")
	}
	if strings.TrimSpace(cfg.Clist.APIKey) == "" {
		return fmt.Errorf("clist.api_key is required")
	}
	if _, err := config.Duration("clist.lookback", cfg.Clist.Lookback); err != nil {
		return err
	}
	if _, err := config.Duration("clist.cache_ttl", cfg.Clist.CacheTTL); err != nil {
		return err
	}
	if _, err := config.Duration("remind.refresh_period", cfg.Remind.RefreshPeriod); err != nil {
		return err
	}
	if _, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if cfg.Discord.SendRatePerSec < 0 {
		return fmt.Errorf("discord.send_rate_per_sec must be >= 0")
	}
	if cfg.Clist.Limit < 0 {
		return fmt.Errorf("clist.limit must be >= 0")
	}
	if cfg.Clist.RatePerMin < 0 {
		return fmt.Errorf("clist.rate_per_min must be >= 0")
	}
	if cfg.Remind.FinishedLimit < 0 {
		return fmt.Errorf("remind.finished_limit must be >= 0")
	}
	switch cfg.Storage.Driver {
	case "", "file", "sqlite":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if spec := cfg.Remind.BackupSpec; spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("remind.backup_spec: %w", err)
		}
	}
	return nil
}
