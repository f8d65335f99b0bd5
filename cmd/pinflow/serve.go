package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/pinflow/internal/api"
	"github.com/Veraticus/pinflow/internal/common"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the funnel HTTP API",
		Long: `Start the HTTP API that landing pages call to run the subscription funnel.

Funnel state is persisted, so a restarted server resumes every session
from its stored step. Changes to logging settings in the config file are
applied without a restart.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start funnel: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			common.LogError(logger, err, "Shutdown finished with errors", common.Fields{"addr": cfg.Server.Addr})
		}
	}()

	watchConfig(logger)

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(&api.Handler{
			Funnels:    a.manager,
			Logger:     logger,
			TrustProxy: cfg.Server.TrustProxy,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Serving funnel API", "addr", cfg.Server.Addr, "country", cfg.Funnel.Country)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down funnel API")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// watchConfig re-applies logging settings when the config file changes.
func watchConfig(logger *slog.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(reloadLogging(logger))
	viper.WatchConfig()
}

// reloadLogging reapplies logging.level and logging.format. Component loggers
// share the reloadable default handler, so they follow the change.
func reloadLogging(logger *slog.Logger) func(fsnotify.Event) {
	return func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := setupLogging(); err != nil {
			logger.Warn("Ignoring invalid logging settings", "file", e.Name, "error", err)
			return
		}
		common.LogInfo(logger, "Reloaded logging settings", common.Fields{
			"file":   e.Name,
			"level":  viper.GetString("logging.level"),
			"format": viper.GetString("logging.format"),
		})
	}
}
