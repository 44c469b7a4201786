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
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/cyberbuddy/backend/internal/auth"
	"github.com/zhouzirui/cyberbuddy/backend/internal/config"
	"github.com/zhouzirui/cyberbuddy/backend/internal/handler"
	"github.com/zhouzirui/cyberbuddy/backend/internal/repository"
	"github.com/zhouzirui/cyberbuddy/backend/internal/service/ai"
	"github.com/zhouzirui/cyberbuddy/backend/internal/service/chat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.Log)
	slog.SetDefault(logger)
	defer closeLog()

	if envErr != nil {
		logger.Warn("failed to load .env file, continuing with system environment variables only", "error", envErr)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := repository.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("store ready", "driver", cfg.Store.Driver)

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		return err
	}
	logger.Info("auth verifier ready", "mode", cfg.Auth.Mode)

	if !cfg.AI.Enabled() {
		return fmt.Errorf("AI provider %q is missing credentials", cfg.AI.Provider)
	}
	provider, err := ai.NewProvider(ctx, cfg.AI)
	if err != nil {
		return err
	}
	logger.Info("AI provider initialized", "provider", cfg.AI.Provider, "model", cfg.AI.ModelName())

	gate := ai.NewGate(cfg.RateLimit.MaxConcurrent, cfg.RateLimit.MinInterval)
	retry := ai.NewRetryPolicy(ai.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}, nil).WithLogger(logger)

	chatSvc := chat.NewService(store, provider, gate, retry, chat.Options{
		HistoryWindow:    cfg.Chat.HistoryWindow,
		FallbackReply:    cfg.Chat.FallbackReply,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		AttemptTimeout:   cfg.AI.Timeout,
		SystemPrompt:     ai.SystemPrompt(cfg.AI.SystemPrompt),
		Logger:           logger,
	})

	router := handler.NewRouter(handler.Deps{
		Config:   cfg,
		Chat:     chatSvc,
		Verifier: verifier,
		Store:    store,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("CyberBuddy backend listening", "addr", cfg.Server.Addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
