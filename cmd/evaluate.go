package cmd

import (
	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-pitch/artifact"
	"github.com/RyanBlaney/sonido-pitch/dataset"
	"github.com/RyanBlaney/sonido-pitch/pipeline"
)

var (
	evalArtifact string
	evalJSON     bool
)

func init() {
	evaluateCmd.Flags().StringVarP(&evalArtifact, "artifact", "a", "", "artifact path (defaults to store.artifact_path)")
	evaluateCmd.Flags().BoolVar(&evalJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(evaluateCmd)
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <sample dir>...",
	Short: "Scores a saved artifact on sample directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := evalArtifact
		if path == "" {
			path = cfg.Store.ArtifactPath
		}
		art, err := artifact.Load(path)
		if err != nil {
			return err
		}

		var records []dataset.Record
		for _, dir := range args {
			recs, err := dataset.LoadDir(dir, dataset.Captured)
			if err != nil {
				return err
			}
			records = append(records, recs...)
		}

		p, err := pipeline.New(cfg, nil)
		if err != nil {
			return err
		}
		report, err := p.Evaluate(cmd.Context(), art, records)
		if err != nil {
			return err
		}
		report.Split = "evaluation"
		baseline, err := p.Baseline(records)
		if err != nil {
			return err
		}
		if evalJSON {
			return writeJSON(cmd.OutOrStdout(), map[string]any{"model": report, "baseline": baseline})
		}
		if err := report.Write(cmd.OutOrStdout()); err != nil {
			return err
		}
		return baseline.Write(cmd.OutOrStdout())
	},
}
