package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"github.com/memoai/memopush/internal/chunkstore"
	"github.com/memoai/memopush/internal/config"
	"github.com/memoai/memopush/internal/conversation"
	"github.com/memoai/memopush/internal/llm"
	"github.com/memoai/memopush/internal/notes"
	"github.com/memoai/memopush/internal/pushstore"
	"github.com/memoai/memopush/internal/scheduler"
	"github.com/memoai/memopush/internal/vault"
	"github.com/memoai/memopush/internal/web"
)

func main() {
	// A local .env is optional.
	_ = godotenv.Load()

	flags := pflag.NewFlagSet("memopush", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "memopush.yaml", "Path to the YAML config file")
	flags.String("db", "memopush.db", "Path to the SQLite database file")
	flags.String("listen", ":8799", "HTTP listen address")
	flags.String("language", "en", "Language for generated questions")
	flags.String("refresh", "@every 1h", "Cron spec for the scheduler refresh")
	flags.String("vault.url", "", "Git URL of the notes vault")
	flags.String("vault.path", "vault", "Local checkout path of the notes vault")
	flags.Int("push.cap", config.DefaultActive, "Maximum concurrently open pushes")
	flags.Int("push.due", config.DefaultDueHours, "Hours before an open push expires")
	flags.Float64("push.threshold", 0, "Minimum chunk score eligible for a push")
	flags.Bool("push.debug", false, "Schedule chunks regardless of review state")
	verbose := flags.BoolP("verbose", "v", false, "Enable debug logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	chunks, err := chunkstore.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer chunks.Close()
	slog.Info("database opened", "path", cfg.DB)

	snap, err := pushstore.OpenSnapshot(cfg.DB)
	if err != nil {
		return err
	}
	defer snap.Close()

	pushes := pushstore.New(snap)
	dueWindow := time.Duration(cfg.Push.DueHours) * time.Hour
	if err := pushes.Load(dueWindow); err != nil {
		return err
	}
	pushes.Subscribe(func() {
		slog.Debug("push state changed", "open", pushes.OpenCount())
	})

	if err := vault.Sync(cfg.Vault.URL, cfg.Vault.Path); err != nil {
		slog.Warn("vault sync failed, continuing with stored chunks", "error", err)
	} else if _, err := notes.Reconcile(chunks, pushes, cfg.Vault.Path); err != nil {
		slog.Warn("vault reconciliation failed", "error", err)
	}

	client := llm.New(llm.Config{
		APIKey:         cfg.LLM.Key,
		BaseURL:        cfg.LLM.URL,
		Model:          cfg.LLM.Model,
		TimeoutSeconds: cfg.LLM.Timeout,
	})
	if !client.Configured() {
		slog.Warn("no reasoning-service key configured, pushes will not be scheduled")
	}

	sched := scheduler.New(pushes, chunks, scheduler.Config{
		MaxActive:      cfg.Push.Cap,
		DueHours:       cfg.Push.DueHours,
		ScoreThreshold: cfg.Push.Threshold,
		Configured:     client.Configured(),
	})
	engine := conversation.New(pushes, chunks, client, cfg.Language)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if stats, err := sched.Refresh(ctx); err != nil {
		slog.Warn("initial refresh failed", "error", err)
	} else {
		slog.Info("initial refresh", "created", stats.Created, "deleted", stats.Deleted, "kept", stats.Kept)
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Refresh, func() {
		if _, err := sched.Refresh(context.Background()); err != nil {
			slog.Error("scheduled refresh failed", "error", err)
		}
	}); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: web.NewServer(chunks, pushes, engine, sched),
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.Listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
