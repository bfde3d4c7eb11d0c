package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tradesys/regime/internal/regime"
)

func trainCmd() *cobra.Command {
	var (
		input  string
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit the statistical detector on a CSV feature history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = cfg.Detector.ModelDir
			}

			detector, err := regime.NewHMMDetector(cfg.Detector.HMM)
			if err != nil {
				return err
			}

			observations, err := readFeatureCSV(input, detector.RequiredFeatures())
			if err != nil {
				return err
			}

			log.Info().Int("samples", len(observations)).Str("input", input).Msg("training regime model")
			if err := detector.Fit(observations); err != nil {
				return err
			}

			artifactDir := filepath.Join(outDir, detector.DirectoryName())
			if err := detector.Save(artifactDir); err != nil {
				return err
			}
			log.Info().Str("artifact", artifactDir).Msg("model saved")

			return printJSON(detector.Metrics())
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "CSV feature history (required)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "artifact output directory (defaults to detector.model_dir)")
	cmd.MarkFlagRequired("input")
	return cmd
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
