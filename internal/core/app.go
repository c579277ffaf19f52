// Package core wires the service together and owns its lifecycle.
package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"automo/internal/config"
	"automo/internal/executor"
	"automo/internal/history"
	"automo/internal/notify"
	"automo/internal/scheduler"
	"automo/internal/server"
	"automo/internal/store"
	fbstore "automo/internal/store/firebase"
	"automo/internal/store/memory"
	"automo/internal/watcher"
	"automo/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	st      store.Store
	stClose func()

	hist   history.Store
	alerts *notify.Service
	exec   *executor.Service
	reg    *scheduler.Registry
	watch  *watcher.Watcher
	srv    *server.Server
}

// NewApp loads config and builds every component. A data-layer failure here
// is fatal by design: the service refuses to start without its store.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, logs: logs, log: log}

	if err := a.build(cfg); err != nil {
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	st, closeFn, err := openStore(cfg.Store, a.log.With(logx.String("comp", "store")))
	if err != nil {
		return fmt.Errorf("store init: %w", err)
	}
	a.st = st
	a.stClose = closeFn

	histCfg := history.Config{}
	if cfg.History != nil {
		busy, err := config.ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout)
		if err != nil {
			return err
		}
		histCfg = history.Config{
			Driver:      cfg.History.Driver,
			Path:        cfg.History.Path,
			KeepRecords: cfg.History.KeepRecords,
			BusyTimeout: busy,
		}
	}
	hist, err := history.Open(histCfg, a.log.With(logx.String("comp", "history")))
	if err != nil {
		return fmt.Errorf("history init: %w", err)
	}
	a.hist = hist

	alertCfg := notify.Config{}
	if cfg.Alerts != nil {
		alertCfg = notify.Config{
			Enabled:    cfg.Alerts.Enabled,
			Token:      cfg.Alerts.Token,
			ChatID:     cfg.Alerts.ChatID,
			RatePerSec: cfg.Alerts.RatePerSec,
			QueueSize:  cfg.Alerts.QueueSize,
		}
	}
	alerts, err := notify.New(alertCfg, a.log.With(logx.String("comp", "notify")))
	if err != nil {
		return fmt.Errorf("notify init: %w", err)
	}
	a.alerts = alerts

	pingTimeout, err := config.ParseDurationOrDefault("executor.ping_timeout", cfg.Executor.PingTimeout, 30*time.Second)
	if err != nil {
		return err
	}
	remoteOpTimeout, err := config.ParseDurationOrDefault("executor.remote_op_timeout", cfg.Executor.RemoteOpTimeout, 2*time.Minute)
	if err != nil {
		return err
	}
	exec := executor.New(executor.Config{
		PingTimeout:     pingTimeout,
		RemoteOpTimeout: remoteOpTimeout,
	}, st, executor.FirebaseTargets{}, a.log.With(logx.String("comp", "executor")))
	if hist != nil {
		exec.SetHistory(hist)
	}
	exec.SetAlerter(alerts)
	a.exec = exec

	a.reg = scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, st,
		func(ctx context.Context, tenantID string, t store.Task) {
			exec.Execute(ctx, tenantID, t)
		},
		a.log.With(logx.String("comp", "scheduler")))

	a.watch = watcher.New(st, a.reg, a.log.With(logx.String("comp", "watcher")))

	a.srv = server.New(server.Config{Address: cfg.Server.Address},
		st, a.reg, exec, hist, a.log.With(logx.String("comp", "http")))
	return nil
}

func openStore(cfg config.StoreConfig, log logx.Logger) (store.Store, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "memory":
		m := memory.New()
		return m, m.Close, nil
	case "", "firebase":
	default:
		return nil, nil, errors.New("unknown store driver: " + cfg.Driver)
	}

	sa, err := loadServiceAccount(cfg)
	if err != nil {
		return nil, nil, err
	}
	poll, err := config.ParseDurationOrDefault("store.poll_interval", cfg.PollInterval, 5*time.Second)
	if err != nil {
		return nil, nil, err
	}
	fs, err := fbstore.New(context.Background(), fbstore.Config{
		DatabaseURL:    cfg.DatabaseURL,
		ServiceAccount: sa,
		PollInterval:   poll,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	return fs, fs.Close, nil
}

func loadServiceAccount(cfg config.StoreConfig) ([]byte, error) {
	if f := strings.TrimSpace(cfg.ServiceAccountFile); f != "" {
		return os.ReadFile(f)
	}
	if env := os.Getenv("FIREBASE_SERVICE_ACCOUNT"); env != "" {
		return []byte(env), nil
	}
	return nil, errors.New("no service account: set store.service_account_file or FIREBASE_SERVICE_ACCOUNT")
}

func (a *App) Start(ctx context.Context) error {
	a.alerts.Start(ctx)
	a.reg.Start(ctx)
	if err := a.watch.Start(ctx); err != nil {
		return fmt.Errorf("watcher start: %w", err)
	}
	if err := a.srv.Start(ctx); err != nil {
		return fmt.Errorf("http start: %w", err)
	}

	// Follow the config file; only logging reacts to reloads for now.
	go func() {
		if err := a.cfgm.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go a.applyReloads(ctx)

	a.log.Info("automo started")
	return nil
}

func (a *App) applyReloads(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
			})
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.srv.Stop(ctx)
	a.watch.Stop()
	a.reg.Stop(ctx)
	a.alerts.Stop()
	if a.stClose != nil {
		a.stClose()
	}
	if a.hist != nil {
		_ = a.hist.Close()
	}
	a.log.Info("automo stopped")
	return a.logs.Close()
}
