package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tradesys/regime/internal/config"
)

var configPath string

// Execute runs the regimed CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:   "regimed",
		Short: "Market regime detection: train, classify, and serve",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration document")

	root.AddCommand(trainCmd())
	root.AddCommand(predictCmd())
	root.AddCommand(decodeCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(infoCmd())

	return root.ExecuteContext(ctx)
}

// loadConfig reads the configured document, falling back to defaults when
// no --config flag was given.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg, err = config.Default()
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, err
	}

	setupLogging(cfg.Logging)
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
