package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-pitch/artifact"
	"github.com/RyanBlaney/sonido-pitch/pipeline"
	"github.com/RyanBlaney/sonido-pitch/transcode"
)

var (
	detectArtifact string
	detectFFmpeg   string
	detectJSON     bool
)

func init() {
	detectCmd.Flags().StringVarP(&detectArtifact, "artifact", "a", "", "artifact path (defaults to store.artifact_path)")
	detectCmd.Flags().StringVar(&detectFFmpeg, "ffmpeg", "ffmpeg", "ffmpeg binary for non-WAV input")
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "print the full prediction as JSON")
	rootCmd.AddCommand(detectCmd)
}

var detectCmd = &cobra.Command{
	Use:   "detect <audio file>...",
	Short: "Detects the pitches sounding in audio files",
	Long: `Decodes each file, treats it as a single segment and prints the pitches the
model detects in it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := detectArtifact
		if path == "" {
			path = cfg.Store.ArtifactPath
		}
		art, err := artifact.Load(path)
		if err != nil {
			return err
		}
		d, err := pipeline.NewDetector(cfg, art)
		if err != nil {
			return err
		}

		dc := transcode.DefaultDecoderConfig()
		dc.FFmpegPath = detectFFmpeg
		decoder := transcode.NewDecoder(dc)

		for _, file := range args {
			audio, err := decoder.DecodeFile(cmd.Context(), file)
			if err != nil {
				return err
			}
			det, err := d.DetectPCM(audio.PCM, audio.SampleRate)
			if err != nil {
				return err
			}
			if detectJSON {
				if err := writeJSON(cmd.OutOrStdout(), map[string]any{"file": file, "detection": det}); err != nil {
					return err
				}
				continue
			}
			line := file + ": " + strings.Join(det.Names, " ")
			if det.BassName != "" {
				line += " (bass " + det.BassName + ")"
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}
