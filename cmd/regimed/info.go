package main

import (
	"github.com/spf13/cobra"

	"github.com/tradesys/regime/internal/regime"
)

func infoCmd() *cobra.Command {
	var detectorType string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the active model's identity and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			factory := regime.NewFactory(cfg.Detector)
			detector, err := factory.Create(detectorType)
			if err != nil {
				return err
			}

			return printJSON(map[string]any{
				"model_id":  detector.ModelID(),
				"is_fitted": detector.IsFitted(),
				"features":  detector.RequiredFeatures(),
				"metrics":   detector.Metrics(),
			})
		},
	}

	cmd.Flags().StringVarP(&detectorType, "type", "t", "", "detector type override (hmm or rules)")
	return cmd
}
