package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"virtual-tryon/internal/config"
	"virtual-tryon/internal/gemini"
	"virtual-tryon/internal/httpclient"
	"virtual-tryon/internal/logging"
	"virtual-tryon/internal/session"
	"virtual-tryon/internal/tryon"
	"virtual-tryon/internal/web"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
		UserAgent:  "virtual-tryon",
	})

	model, err := gemini.NewModel(ctx, cfg.GeminiBackend == config.BackendSDK, gemini.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		Model:      cfg.GeminiModel,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("model init failed", "err", err)
		os.Exit(1)
	}

	gen := tryon.NewGenerator(tryon.GeneratorOptions{
		Model:       model,
		Concurrency: cfg.SceneConcurrency,
		Logger:      logger,
	})

	sessions := session.NewStore(session.Options{
		IdleTTL: cfg.SessionIdleTTL,
		Logger:  logger,
	})
	sessions.StartJanitor(ctx, time.Minute)

	s := web.New(web.Options{
		Store:          sessions,
		Generator:      gen,
		Hub:            web.NewHub(logger),
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("web started", "addr", cfg.WebAddr, "backend", cfg.GeminiBackend, "model", cfg.GeminiModel)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	logger.Info("shutting down")
}
