package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-pitch/pipeline"
)

var (
	trainArtifact string
	trainJSON     bool
)

func init() {
	trainCmd.Flags().StringVarP(&trainArtifact, "out", "o", "", "artifact path (overrides store.artifact_path)")
	trainCmd.Flags().BoolVar(&trainJSON, "json", false, "print the full result as JSON")
	rootCmd.AddCommand(trainCmd)
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Trains a model and saves the tuned artifact",
	Long: `Trains on the configured captured directories plus simulated chords and
noise, tunes per-class thresholds on the validation split, prints the
validation report and saves the artifact.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if trainArtifact != "" {
			cfg.Store.ArtifactPath = trainArtifact
		}
		p, err := pipeline.New(cfg, nil)
		if err != nil {
			return err
		}
		res, err := p.Run(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if trainJSON {
			return writeJSON(out, res)
		}
		if err := res.Validation.Write(out); err != nil {
			return err
		}
		if res.Captured != nil {
			if err := res.Captured.Write(out); err != nil {
				return err
			}
		}
		if res.Baseline != nil {
			if err := res.Baseline.Write(out); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s saved to %s\n", res.RunID, res.ArtifactPath)
		return nil
	},
}
