// Package transcode decodes audio files into mono float PCM. WAV is read
// natively; other formats go through ffmpeg when it is installed.
package transcode

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"

	"github.com/RyanBlaney/sonido-pitch/logging"
)

// AudioData is decoded mono audio
type AudioData struct {
	PCM        []float64     `json:"-"`
	SampleRate int           `json:"sample_rate"`
	Duration   time.Duration `json:"duration"`
	Source     string        `json:"source"`
}

// DecoderConfig holds decoder configuration
type DecoderConfig struct {
	// TargetSampleRate applies to ffmpeg decodes; WAV keeps its own rate
	TargetSampleRate int           `json:"target_sample_rate"`
	FFmpegPath       string        `json:"ffmpeg_path"`
	Timeout          time.Duration `json:"timeout"`
}

// DefaultDecoderConfig returns default decoder configuration
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		TargetSampleRate: 44100,
		FFmpegPath:       "ffmpeg",
		Timeout:          30 * time.Second,
	}
}

// Decoder turns audio files into AudioData
type Decoder struct {
	config *DecoderConfig
}

// NewDecoder creates a new audio decoder
func NewDecoder(config *DecoderConfig) *Decoder {
	if config == nil {
		config = DefaultDecoderConfig()
	}
	return &Decoder{config: config}
}

// DecodeFile picks the native WAV reader or ffmpeg by file extension
func (d *Decoder) DecodeFile(ctx context.Context, filename string) (*AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_decoder",
		"function":  "DecodeFile",
		"filename":  filename,
	})

	var (
		audio *AudioData
		err   error
	)
	if strings.EqualFold(filepath.Ext(filename), ".wav") {
		audio, err = d.decodeWAVFile(filename)
	} else {
		audio, err = d.decodeWithFFmpeg(ctx, filename)
	}
	if err != nil {
		logger.Error(err, "Failed to decode audio")
		return nil, err
	}

	logger.Debug("Decoded audio", logging.Fields{
		"samples":     len(audio.PCM),
		"sample_rate": audio.SampleRate,
		"duration":    audio.Duration.Seconds(),
	})
	return audio, nil
}

func (d *Decoder) decodeWAVFile(filename string) (*AudioData, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer f.Close()

	audio, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	audio.Source = filename
	return audio, nil
}

// DecodeWAV reads a whole WAV stream and mixes it down to mono
func DecodeWAV(r io.Reader) (*AudioData, error) {
	stream, format, err := wav.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode wav: %w", err)
	}
	defer stream.Close()

	pcm := readMono(stream)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("failed to read wav samples: %w", err)
	}
	if len(pcm) == 0 {
		return nil, errors.New("wav holds no samples")
	}

	rate := int(format.SampleRate)
	return &AudioData{
		PCM:        pcm,
		SampleRate: rate,
		Duration:   format.SampleRate.D(len(pcm)),
	}, nil
}

func readMono(s beep.Streamer) []float64 {
	var out []float64
	buf := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			out = append(out, (frame[0]+frame[1])/2)
		}
		if !ok {
			return out
		}
	}
}

func (d *Decoder) decodeWithFFmpeg(ctx context.Context, filename string) (*AudioData, error) {
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	args := []string{
		"-i", filename,
		"-f", "f64le",
		"-ac", "1",
		"-ar", strconv.Itoa(d.config.TargetSampleRate),
		"-loglevel", "error",
		"pipe:1",
	}
	output, err := exec.CommandContext(ctx, d.config.FFmpegPath, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("ffmpeg decode failed: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffmpeg decode failed: %w", err)
	}

	pcm := bytesToFloat64(output)
	if len(pcm) == 0 {
		return nil, errors.New("no audio samples decoded")
	}
	return &AudioData{
		PCM:        pcm,
		SampleRate: d.config.TargetSampleRate,
		Duration:   time.Duration(len(pcm)) * time.Second / time.Duration(d.config.TargetSampleRate),
		Source:     filename,
	}, nil
}

// bytesToFloat64 converts raw little-endian float64 bytes, dropping a
// trailing partial sample
func bytesToFloat64(data []byte) []float64 {
	samples := make([]float64, len(data)/8)
	for i := range samples {
		samples[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return samples
}
