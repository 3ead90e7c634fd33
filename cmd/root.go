// Package cmd is the sonido-pitch command line
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/logging"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded before any subcommand runs
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sonido-pitch",
	Short: "Multi-label pitch detection",
	Long: `sonido-pitch trains and runs a small attention network that detects the
pitches sounding in a segment of audio, from simulated and captured spectra.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		level := loaded.Log.Level
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		lvl, err := logging.ParseLevel(level)
		if err != nil {
			return err
		}
		logging.SetLevel(lvl)
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
}

// Execute runs the root command; an interrupt cancels the running command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.CheckErr(rootCmd.ExecuteContext(ctx))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
