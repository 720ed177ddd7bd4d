package cli

import (
	"context"

	"go.uber.org/zap"

	"github.com/kioku-app/kioku/internal/config"
	"github.com/kioku-app/kioku/internal/engine"
	"github.com/kioku-app/kioku/internal/logging"
	"github.com/kioku-app/kioku/internal/model"
	"github.com/kioku-app/kioku/internal/srs"
	"github.com/kioku-app/kioku/internal/store"
)

// app is the wired application: config, store, logger, engine. Every
// subcommand builds one, uses it, and closes it.
type app struct {
	cfg    config.Config
	store  *store.Store
	log    *zap.Logger
	engine *engine.Engine
}

// newApp loads config, applies flag overrides, and wires the engine.
func newApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Device != "" {
		cfg.DeviceID = opts.Device
	}
	if cfg.DeviceID == "" {
		return nil, NewExitError(ExitCommandError, "device ID required: set device_id in config or pass --device")
	}

	log, err := logging.New(cfg.LogMode, opts.Verbose)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	sched, err := srs.New(cfg.Scheduler)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "invalid scheduler config", err)
	}

	resume, err := st.LastLogicalForDevice(context.Background(), cfg.DeviceID)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read device clock watermark", err)
	}

	eng, err := engine.New(engine.Options{
		Store:     st,
		Scheduler: sched,
		Clock:     model.NewDeviceClock(cfg.DeviceID, resume),
		Limits:    cfg.Limits,
		Logger:    log,
	})
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build engine", err)
	}

	return &app{cfg: cfg, store: st, log: log, engine: eng}, nil
}

func (a *app) close() {
	_ = a.log.Sync()
	if err := a.store.Close(); err != nil {
		a.log.Error("closing database", zap.Error(err))
	}
}
