package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/Veraticus/pinflow/internal/config"
	"github.com/Veraticus/pinflow/internal/funnel"
	"github.com/Veraticus/pinflow/internal/gateway"
	"github.com/Veraticus/pinflow/internal/messages"
	"github.com/Veraticus/pinflow/internal/model"
	"github.com/Veraticus/pinflow/internal/service"
	"github.com/Veraticus/pinflow/internal/storage"
	"github.com/Veraticus/pinflow/internal/tracking"
)

// loadConfig reads the typed configuration from the global viper instance.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// initStorage opens the configured store and runs migrations.
func initStorage(ctx context.Context, cfg *config.Config) (service.Storage, error) {
	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.Target())
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// app bundles the collaborators of a live funnel.
type app struct {
	store    service.Storage
	tracking *tracking.Service
	manager  *funnel.Manager
}

// buildApp wires storage, gateway, tracking and the funnel manager.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	if err := cfg.ValidateServing(); err != nil {
		return nil, err
	}

	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.store, err = initStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gw, err := gateway.NewClient(cfg.Gateway, logger)
	if err != nil {
		return nil, err
	}

	backend, err := tracking.NewClient(cfg.Tracking.Config)
	if err != nil {
		return nil, err
	}
	opts := append(cfg.TrackingOptions(), tracking.WithLogger(logger))
	if cfg.Tracking.Kafka.Enabled() {
		sink, err := tracking.NewKafkaSink(cfg.Tracking.Kafka)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tracking.WithSinks(sink))
		logger.Info("Mirroring events to kafka", "topic", cfg.Tracking.Kafka.Topic)
	}
	a.tracking = tracking.NewService(backend, opts...)

	translator, err := messages.NewTranslator(cfg.Funnel.Language)
	if err != nil {
		return nil, err
	}
	normalizer, err := cfg.Normalizer()
	if err != nil {
		return nil, err
	}

	svc := a.tracking
	a.manager, err = funnel.NewManager(cfg.Funnel, funnel.Deps{
		Normalizer: normalizer,
		Gateway:    gw,
		Trackers: func(suid string, landing model.Landing, attribution model.Attribution, campaign *model.Campaign) funnel.SessionTracker {
			return svc.NewTracker(suid, landing, attribution, campaign)
		},
		Store:      a.store,
		Translator: translator,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close stops the manager before closing what it depends on.
func (a *app) Close() error {
	var errs []error
	if a.manager != nil {
		errs = append(errs, a.manager.Close())
	}
	if a.tracking != nil {
		errs = append(errs, a.tracking.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
