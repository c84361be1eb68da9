package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"duesync/internal/asana"
	"duesync/internal/config"
	"duesync/internal/duedate"
	"duesync/internal/engine"
	"duesync/internal/server"
	"duesync/internal/tracking"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"srv"},
		Short:   "Run the webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg == nil {
				return fmt.Errorf("config not initialized")
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides listen_addr)")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	backend, err := openStateBackend(ctx, cfg, logger.With("component", "state"))
	if err != nil {
		return err
	}
	defer backend.Close()

	state, err := tracking.Restore(ctx, backend.persister, logger.With("component", "tracking"))
	if err != nil {
		return fmt.Errorf("restore tracking state: %w", err)
	}

	client := newAsanaClient(cfg, logger)
	eng := engine.New(client, state, engine.Config{
		TrackedSection:       cfg.Asana.TrackedSectionID,
		Priorities:           priorityMap(cfg),
		PriorityField:        cfg.Asana.PriorityFieldID,
		ExtendManualDueDates: cfg.Engine.ExtendManualDueDates,
	}, logger.With("component", "engine"))

	srv := server.New(eng, server.Options{
		Addr:             cfg.ListenAddr,
		HandlerTimeout:   cfg.Engine.HandlerTimeout,
		VerifySignatures: cfg.Webhook.VerifySignatures,
		AdminTokenHash:   cfg.Admin.TokenHash,
		Secrets:          backend.secrets,
		Logger:           logger.With("component", "server"),
	})

	logger.Info("duesync ready",
		"version", version,
		"tracked_section", cfg.Asana.TrackedSectionID,
		"state_backend", backend.name,
		"priority_options", len(priorityMap(cfg)),
	)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newAsanaClient(cfg *config.Config, logger *slog.Logger) *asana.Client {
	return asana.NewClient(asana.ClientConfig{
		BaseURL: cfg.Asana.APIURL,
		Token:   cfg.Asana.Token,
		Timeout: cfg.Asana.HTTPTimeout,
		Retry: asana.RetryPolicy{
			MaxRateLimitRetries: cfg.Retry.RateLimitRetries,
			MaxTransientRetries: cfg.Retry.TransientRetries,
			BaseBackoff:         cfg.Retry.BaseBackoff,
			DefaultRetryAfter:   cfg.Retry.DefaultRetryAfter,
		},
		Logger: logger.With("component", "asana"),
	})
}

func priorityMap(cfg *config.Config) duedate.PriorityMap {
	p := cfg.Asana.Priorities
	return duedate.NewPriorityMap(p.Low, p.Medium, p.High)
}
