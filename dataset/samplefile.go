package dataset

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/RyanBlaney/sonido-pitch/pitch"
	"github.com/RyanBlaney/sonido-pitch/spectrum"
)

// SampleExt is the extension of sample files
const SampleExt = ".bin"

// recordSize is spectrum.Size big-endian float32 values plus a 128-bit label
const recordSize = spectrum.Size*4 + 16

// WriteRecord writes the spectrum as big-endian float32 followed by the label
// mask as a big-endian 128-bit integer. Bit 0 is C0 (pitch 12), so pitches
// below C0 cannot be stored.
func WriteRecord(w io.Writer, s spectrum.Spectrum, label pitch.Set) error {
	if len(s) != spectrum.Size {
		return fmt.Errorf("%w: spectrum has %d bins, want %d", ErrMalformed, len(s), spectrum.Size)
	}
	if !label.Empty() && label.Bass() < pitch.C0 {
		return fmt.Errorf("%w: pitch %d is below C0", ErrMalformed, label.Bass())
	}
	buf := make([]byte, recordSize)
	for i, v := range s {
		binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
	}
	hi, lo := label.Shift(-pitch.C0).Words()
	binary.BigEndian.PutUint64(buf[spectrum.Size*4:], hi)
	binary.BigEndian.PutUint64(buf[spectrum.Size*4+8:], lo)

	_, err := w.Write(buf)
	return err
}

// ReadRecord reads one record written by WriteRecord
func ReadRecord(r io.Reader) (spectrum.Spectrum, pitch.Set, error) {
	buf := make([]byte, recordSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, pitch.Set{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	s := make(spectrum.Spectrum, spectrum.Size)
	for i := range s {
		s[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(buf[i*4:])))
	}
	hi := binary.BigEndian.Uint64(buf[spectrum.Size*4:])
	lo := binary.BigEndian.Uint64(buf[spectrum.Size*4+8:])
	return s, pitch.FromWords(hi, lo).Shift(pitch.C0), nil
}

// FileName names a record by its pitches and a content hash
func FileName(prefix string, s spectrum.Spectrum, label pitch.Set) (string, error) {
	var buf bytes.Buffer
	if err := WriteRecord(&buf, s, label); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return fmt.Sprintf("%s%s_%s%s", prefix, label.String(), hex.EncodeToString(sum[:8]), SampleExt), nil
}

// SaveRecord writes rec into dir and returns the file path
func SaveRecord(dir, prefix string, rec Record) (string, error) {
	name, err := FileName(prefix, rec.Spectrum, rec.Label)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := WriteRecord(w, rec.Spectrum, rec.Label); err != nil {
		f.Close()
		return "", err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// LoadFile reads a single sample file
func LoadFile(path string, provenance Provenance) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	s, label, err := ReadRecord(bufio.NewReader(f))
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := s.Check(); err != nil {
		return Record{}, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	return Record{Spectrum: s, Label: label, Provenance: provenance, Source: path}, nil
}

// LoadDir reads every sample file in dir in lexical order
func LoadDir(dir string, provenance Provenance) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), SampleExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	records := make([]Record, 0, len(names))
	for _, name := range names {
		rec, err := LoadFile(filepath.Join(dir, name), provenance)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
