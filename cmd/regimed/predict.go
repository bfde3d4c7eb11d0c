package main

import (
	"github.com/spf13/cobra"

	"github.com/tradesys/regime/internal/regime"
)

func predictCmd() *cobra.Command {
	var (
		featureSpec  string
		detectorType string
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Classify one feature vector with the configured detector",
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

			vector, err := parseFeatureFlags(featureSpec, detector.RequiredFeatures())
			if err != nil {
				return err
			}

			prediction, err := detector.Predict(vector)
			if err != nil {
				return err
			}
			return printJSON(prediction)
		},
	}

	cmd.Flags().StringVarP(&featureSpec, "features", "f", "", `feature values, e.g. "return_5d=0.03,volatility_20d=0.15,trend_strength_14d=28,volume_ratio=1.1"`)
	cmd.Flags().StringVarP(&detectorType, "type", "t", "", "detector type override (hmm or rules)")
	cmd.MarkFlagRequired("features")
	return cmd
}
