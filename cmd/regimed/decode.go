package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tradesys/regime/internal/regime"
)

func decodeCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Viterbi-decode a CSV feature history into a label sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			factory := regime.NewFactory(cfg.Detector)
			detector, err := factory.Create(regime.TypeHMM)
			if err != nil {
				return err
			}
			hmm := detector.(*regime.HMMDetector)
			if !hmm.IsFitted() {
				return fmt.Errorf("no trained model under %s; run train first", cfg.Detector.ModelDir)
			}

			observations, err := readFeatureCSV(input, hmm.RequiredFeatures())
			if err != nil {
				return err
			}

			labels, err := hmm.DecodeSequence(observations)
			if err != nil {
				return err
			}
			for t, label := range labels {
				fmt.Fprintf(os.Stdout, "%d\t%s\n", t, label)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "CSV feature history (required)")
	cmd.MarkFlagRequired("input")
	return cmd
}
