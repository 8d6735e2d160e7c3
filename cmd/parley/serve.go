package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/alert"
	"github.com/parleyhq/parley/internal/completion"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/extract"
	"github.com/parleyhq/parley/internal/httpapi"
	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/retention"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/stream"
	"github.com/parleyhq/parley/internal/validate"
	"github.com/parleyhq/parley/internal/webhook"
)

const eventBusSize = 256

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Parley engine as a long-running service",
	Long:  `Starts the HTTP API, webhook delivery workers and the retention sweeper. Only one instance may serve a given database at a time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		lock := flock.New(cfg.Store.Path + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire store lock: %w", err)
		}
		if !locked {
			return fmt.Errorf("another instance is already serving %s", cfg.Store.Path)
		}
		defer lock.Unlock()

		repo, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer repo.Close()

		router, err := model.NewRouter(cfg.Models)
		if err != nil {
			return fmt.Errorf("init model router: %w", err)
		}

		llm := extract.NewLLMExtractor(router, cfg.Extraction.Model)
		patterns := extract.NewPatternExtractor()
		coordinator := extract.NewCoordinator(llm, patterns, cfg.Extraction)

		engine := validate.NewEngine(repo)
		tracker := completion.NewTracker(engine)
		bus := session.NewBus(eventBusSize)
		machine := session.NewMachine(repo, coordinator, engine, tracker, bus)
		controller := stream.NewController(router, machine, cfg.Models.Default)

		dispatcher, err := webhook.NewDispatcher(repo, repo, bus.Subscribe(), cfg.Webhook)
		if err != nil {
			return fmt.Errorf("init webhook dispatcher: %w", err)
		}
		dispatcher.SetNotifier(buildNotifier(cfg.Alerts))

		sweeper, err := retention.NewSweeper(repo, machine, cfg.Retention, cfg.Session)
		if err != nil {
			return fmt.Errorf("init retention sweeper: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := dispatcher.Start(ctx); err != nil {
			return fmt.Errorf("start webhook dispatcher: %w", err)
		}
		if err := sweeper.Start(ctx); err != nil {
			return fmt.Errorf("start retention sweeper: %w", err)
		}

		api := httpapi.NewServer(repo, machine, dispatcher, controller, tracker)

		readTimeout, _ := config.DurationOrDefault(cfg.Server.ReadTimeout, config.DefaultServerReadTimeout)
		idleTimeout, _ := config.DurationOrDefault(cfg.Server.IdleTimeout, config.DefaultServerIdleTimeout)
		shutdownTimeout, _ := config.DurationOrDefault(cfg.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)

		srv := &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:     api.Router(),
			ReadTimeout: readTimeout,
			// Streaming connections stay open indefinitely.
			WriteTimeout: 0,
			IdleTimeout:  idleTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("Parley engine listening", "port", cfg.Server.Port, "store", cfg.Store.Path)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return fmt.Errorf("http server failed: %w", err)
		case <-ctx.Done():
		}

		slog.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown incomplete", "error", err)
		}

		controller.Shutdown()

		if err := sweeper.Stop(shutdownCtx); err != nil {
			slog.Warn("Retention sweeper shutdown incomplete", "error", err)
		}

		bus.Close()
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			slog.Warn("Webhook dispatcher shutdown incomplete", "error", err)
		}

		slog.Info("Parley engine stopped")
		return nil
	},
}

func buildNotifier(alerts config.AlertsConfig) webhook.Notifier {
	sinks := []alert.Notifier{alert.Log{}}

	if alerts.Slack.Enabled {
		sinks = append(sinks, alert.NewSlackNotifier(alerts.Slack.BotToken, alerts.Slack.Channel))
	}
	if alerts.Telegram.Enabled {
		tg, err := alert.NewTelegramNotifier(alerts.Telegram.BotToken, alerts.Telegram.ChatID)
		if err != nil {
			slog.Warn("Telegram alerting disabled", "error", err)
		} else {
			sinks = append(sinks, tg)
		}
	}

	return alert.NewMulti(sinks...)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("webhook.workers", config.DefaultWebhookWorkers, "webhook delivery workers")
	serveCmd.Flags().String("session.idle_timeout", config.DefaultSessionIdleTimeout, "idle duration before a session is abandoned")
}
