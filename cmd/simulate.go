package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-pitch/dataset"
)

var (
	simulateOut    string
	simulatePasses int
	simulateNoise  int
	simulateSeed   int64
)

func init() {
	f := simulateCmd.Flags()
	f.StringVarP(&simulateOut, "out", "o", "simulated", "directory for the sample files")
	f.IntVar(&simulatePasses, "passes", 1, "passes over every root and chord shape")
	f.IntVar(&simulateNoise, "noise", 0, "additional unlabelled noise samples")
	f.Int64Var(&simulateSeed, "seed", 0, "generator seed (defaults to train.seed)")
	rootCmd.AddCommand(simulateCmd)
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Writes simulated chord spectra as sample files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		seed := cfg.Train.Seed
		if cmd.Flags().Changed("seed") {
			seed = simulateSeed
		}
		sim := dataset.NewSimulator(cfg.Data, seed)
		records := append(sim.Chords(simulatePasses), sim.NoiseRecords(simulateNoise)...)

		for _, rec := range records {
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			if _, err := dataset.SaveRecord(simulateOut, "sim_", rec); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d samples to %s\n", len(records), simulateOut)
		return nil
	},
}
