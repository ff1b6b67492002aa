package main

import (
	"context"
	"os"
	"strconv"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/hostcloudpe/notihub/internal/transport/ws"
	"github.com/hostcloudpe/notihub/pkg/commands"
	"github.com/hostcloudpe/notihub/pkg/config"
	"github.com/hostcloudpe/notihub/pkg/hub"
	"github.com/hostcloudpe/notihub/pkg/interfaces/logger"
	"github.com/hostcloudpe/notihub/pkg/storage"
)

// App holds every assembled component of the hub service.
type App struct {
	Config    config.Config
	Logger    logger.Logger
	Providers storage.Providers
	Hub       *hub.Service
	Commands  *commands.Registry
	Sockets   *ws.Handler
}

// loadConfig layers environment variables over the defaults and validates
// the result.
func loadConfig() (config.Config, error) {
	cfg := config.Defaults()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "NOTIHUB_"}); err != nil {
		return config.Config{}, err
	}
	// Plain PORT keeps parity with the previous deployment environment.
	if raw := os.Getenv("PORT"); raw != "" {
		if port, err := parsePort(raw); err == nil {
			cfg.Server.Port = port
		}
	}
	return config.Load(cfg)
}

func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	lgr := newLogger()

	providers, err := storage.FromConfig(ctx, cfg.Persistence, lgr)
	if err != nil {
		return nil, err
	}

	hubSvc, err := hub.New(hub.Dependencies{
		Store:    providers.Store,
		Logger:   lgr.With(logger.F("component", "hub")),
		Locale:   cfg.Localization.Locale,
		Timezone: cfg.Localization.Timezone,
	})
	if err != nil {
		providers.Close()
		return nil, err
	}

	registry, err := commands.New(commands.Dependencies{
		Hub:    hubSvc.Internal(),
		Logger: lgr.With(logger.F("component", "commands")),
	})
	if err != nil {
		providers.Close()
		return nil, err
	}

	sockets, err := ws.NewHandler(hubSvc, ws.Config{
		PingInterval: cfg.Realtime.PingInterval,
		SendBuffer:   cfg.Realtime.SendBuffer,
	}, lgr.With(logger.F("component", "ws")))
	if err != nil {
		providers.Close()
		return nil, err
	}

	return &App{
		Config:    cfg,
		Logger:    lgr,
		Providers: providers,
		Hub:       hubSvc,
		Commands:  registry,
		Sockets:   sockets,
	}, nil
}

func (a *App) Close() error {
	return a.Providers.Close()
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return port, nil
}

func newLogger() logger.Logger {
	zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
	return logger.NewZerolog(zl)
}
