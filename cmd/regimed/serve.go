package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tradesys/regime/internal/cache"
	"github.com/tradesys/regime/internal/httpapi"
	"github.com/tradesys/regime/internal/regime"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve regime classifications over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			factory := regime.NewFactory(cfg.Detector)
			if _, err := factory.Active(); err != nil {
				return err
			}

			var predCache *cache.PredictionCache
			if cfg.Cache.Enabled {
				client := redis.NewClient(&redis.Options{
					Addr:     cfg.Cache.Addr,
					Password: cfg.Cache.Password,
					DB:       cfg.Cache.DB,
				})
				predCache = cache.New(client, cfg.Cache.TTL())
				defer predCache.Close()
				log.Info().Str("addr", cfg.Cache.Addr).Dur("ttl", cfg.Cache.TTL()).Msg("prediction cache enabled")
			}

			server := httpapi.NewServer(cfg.Server, factory, predCache)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				log.Info().Msg("shutting down regime HTTP server")
				return server.Shutdown(shutdownCtx)
			}
		},
	}
}
