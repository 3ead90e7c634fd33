package cmd

import (
	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-pitch/compute"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves gradient computation for remote trainers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := compute.NewServer(compute.NewLocal(cfg.Train.Workers))
		return srv.ListenAndServe(cmd.Context(), serveAddr)
	},
}
