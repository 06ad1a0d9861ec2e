package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/checkpoint"
	"server/internal/infra"
)

// sweeper removes expired checkpoint files so abandoned sessions do not
// accumulate on disk. The API tolerates running without it: expired records
// are also dropped lazily on read.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	cache, err := checkpoint.New(checkpoint.Options{
		Dir:    cfg.CacheDir,
		TTL:    cfg.CacheTTL,
		Logger: &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init checkpoint cache")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	logger.Info().Dur("interval", cfg.SweepInterval).Msg("sweeper started")
	for {
		removed := cache.SweepExpired()
		if removed > 0 {
			logger.Info().Int("removed", removed).Msg("swept expired checkpoints")
		}
		select {
		case <-stop:
			logger.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}
