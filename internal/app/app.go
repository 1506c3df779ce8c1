package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aussiebroadwan/tabsession/pkg/authsdk"
	"github.com/aussiebroadwan/tabsession/pkg/cookiestore"
	"github.com/aussiebroadwan/tabsession/pkg/cookiestore/redisstore"
	"github.com/aussiebroadwan/tabsession/pkg/cookiestore/sqlite"
	"github.com/aussiebroadwan/tabsession/pkg/cryptox"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"

	sealInfo = "tabsession-cookies-v1"
)

// Application wires an authsdk.Client to the configured cookie storage.
type Application struct {
	cfg    Config
	logger *slog.Logger
	out    io.Writer

	client      *authsdk.Client
	backend     cookiestore.Backend
	housekeeper *cookiestore.Housekeeper
	closers     []func() error
}

// New opens the cookie storage and builds the session client. Command output
// goes to out and logs to logOut.
func New(cfg Config, out, logOut io.Writer) (*Application, error) {
	app := &Application{
		cfg: cfg,
		out: out,
		logger: slogx.New(slogx.Config{
			Service: "tabsession",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  logOut,
		}),
	}

	if err := app.initBackend(); err != nil {
		_ = app.Close()
		return nil, err
	}

	opts := []authsdk.Option{
		authsdk.WithBackend(app.backend),
		authsdk.WithLogger(app.logger),
	}
	sealer, err := app.initSealer()
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	if sealer != nil {
		opts = append(opts, authsdk.WithSealer(sealer))
	}

	client, err := authsdk.New(authsdk.Config{
		BaseURL:        cfg.BaseURL,
		CookieName:     cfg.CookieName,
		MaxRetries:     cfg.MaxRetries,
		MaxBackoff:     cfg.MaxBackoff,
		RequestTimeout: cfg.RequestTimeout,
	}, opts...)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.client = client

	if p, ok := app.backend.(cookiestore.Purger); ok && cfg.Backend != BackendMemory {
		app.housekeeper = cookiestore.NewHousekeeper(p, app.logger, cfg.HousekeepingInterval)
		app.housekeeper.Start()
	}

	return app, nil
}

func (app *Application) initBackend() error {
	switch app.cfg.Backend {
	case BackendMemory:
		app.backend = cookiestore.NewMemoryBackend()

	case BackendSQLite:
		store, err := sqlite.Open(app.cfg.DatabaseFile)
		if err != nil {
			return fmt.Errorf("failed to open cookie database: %w", err)
		}
		app.backend = store
		app.closers = append(app.closers, store.Close)

	case BackendRedis:
		opts, err := redis.ParseURL(app.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		app.closers = append(app.closers, rdb.Close)

		store := redisstore.New(rdb, app.cfg.RedisPrefix)
		if err := store.Ping(context.Background()); err != nil {
			return err
		}
		app.backend = store

	default:
		return fmt.Errorf("unknown backend %q", app.cfg.Backend)
	}

	app.logger.Debug("cookie storage ready", "backend", app.cfg.Backend)
	return nil
}

// initSealer returns nil when no key material is configured.
func (app *Application) initSealer() (cryptox.Sealer, error) {
	sealer, err := cryptox.NewSealerFromFile(app.cfg.SealKeyFile, SealKeyEnv, sealInfo)
	if errors.Is(err, cryptox.ErrNoKeyMaterial) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load seal key: %w", err)
	}
	return sealer, nil
}

// Client returns the session client.
func (app *Application) Client() *authsdk.Client { return app.client }

// Close stops housekeeping and releases the storage.
func (app *Application) Close() error {
	if app.housekeeper != nil {
		app.housekeeper.Stop()
	}

	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Error("error closing cookie storage", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
