package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-pitch/capture"
)

var (
	captureOut  string
	captureOpts = capture.DefaultOptions()
)

func init() {
	f := captureCmd.Flags()
	f.StringVarP(&captureOut, "out", "o", "samples", "directory for the sample files")
	f.Float64Var(&captureOpts.MinNoteFraction, "min-note-fraction", captureOpts.MinNoteFraction, "fraction of a measure a note must sound to be labelled")
	f.IntVar(&captureOpts.MinNotes, "min-notes", captureOpts.MinNotes, "label at least this many notes per measure")
	f.IntVar(&captureOpts.MaxNotes, "max-notes", captureOpts.MaxNotes, "label at most this many notes per measure")
	f.Float64Var(&captureOpts.MinDuration, "min-duration", captureOpts.MinDuration, "skip measures shorter than this many seconds")
	f.IntVar(&captureOpts.MaxSamples, "max-samples", captureOpts.MaxSamples, "stop after this many measures (0 for all)")
	rootCmd.AddCommand(captureCmd)
}

var captureCmd = &cobra.Command{
	Use:   "capture <midi file> <audio file>",
	Short: "Cuts a recording into labelled per-measure sample files",
	Long: `Reads a MIDI score and the matching recording, labels each measure with the
notes that sound through enough of it and writes one sample file per measure.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		segments, err := capture.NewProcessor(captureOpts, nil).ProcessFiles(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		song := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		paths, err := capture.Save(captureOut, song, segments)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d samples to %s\n", len(paths), captureOut)
		return nil
	},
}
