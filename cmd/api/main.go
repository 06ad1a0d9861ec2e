package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/checkpoint"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/pipeline"
	"server/internal/progress"
	"server/internal/providers/genai"
	"server/internal/retry"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init file store")
	}

	cache, err := checkpoint.New(checkpoint.Options{
		Dir:    cfg.CacheDir,
		TTL:    cfg.CacheTTL,
		Logger: &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init checkpoint cache")
	}

	gemini, err := genai.NewClient(genai.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		TextModel:  cfg.GeminiTextModel,
		ImageModel: cfg.GeminiImageModel,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init gemini client")
	}
	if cfg.GeminiAPIKey == "" {
		logger.Warn().Msg("GEMINI_API_KEY not set, serving synthetic assets")
	}

	pipe := pipeline.New(pipeline.Options{
		Text:    gemini,
		Images:  gemini,
		Cache:   cache,
		Fetcher: store,
		Retry:   retry.New(retry.Options{Logger: &logger}),
		Logger:  &logger,
	})
	analyzer := pipeline.NewAnalyzer(pipeline.AnalyzerOptions{
		Pipeline: pipe,
		Store:    store,
		Logger:   &logger,
	})
	registry := progress.NewRegistry()

	app := handlers.NewApp(cfg, logger, registry, analyzer, cache, store)
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
