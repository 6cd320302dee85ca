package audio

import (
	"fmt"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormat is the canonical on-disk format: 16 kHz mono 16-bit PCM.
var wavFormat = &gaudio.Format{NumChannels: Channels, SampleRate: SampleRate}

// WAVWriter streams canonical-format PCM samples into a WAV container.
// Close finalizes the header, so the file is valid even when capture
// ended early or produced no samples.
type WAVWriter struct {
	f   *os.File
	enc *wav.Encoder
}

// NewWAVWriter creates the file. The header is written with the first
// samples, or by Close when none arrived.
func NewWAVWriter(path string) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav file: %w", err)
	}
	return &WAVWriter{
		f:   f,
		enc: wav.NewEncoder(f, SampleRate, 16, Channels, 1),
	}, nil
}

// WriteSamples appends PCM samples to the container.
func (w *WAVWriter) WriteSamples(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &gaudio.IntBuffer{Format: wavFormat, Data: data, SourceBitDepth: 16}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	return nil
}

// Close finalizes the WAV header and closes the file.
func (w *WAVWriter) Close() error {
	var encErr error
	if w.enc.WrittenBytes == 0 {
		// The encoder only emits its header on the first write; an empty
		// buffer yields a header with an empty data chunk.
		encErr = w.enc.Write(&gaudio.IntBuffer{Format: wavFormat, SourceBitDepth: 16})
	}
	if encErr == nil {
		encErr = w.enc.Close()
	}
	closeErr := w.f.Close()
	if encErr != nil {
		return fmt.Errorf("finalize wav: %w", encErr)
	}
	return closeErr
}

// WriteWAV writes a complete canonical-format WAV file in one call.
// Used for per-segment slice files.
func WriteWAV(path string, samples []int16) error {
	w, err := NewWAVWriter(path)
	if err != nil {
		return err
	}
	if err := w.WriteSamples(samples); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// ReadWAV loads all samples of a canonical-format WAV file.
func ReadWAV(path string) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if err := validateFormat(dec); err != nil {
		return nil, err
	}

	out := make([]int16, 0, 64*1024)
	buf := &gaudio.IntBuffer{Format: wavFormat, Data: make([]int, 32*1024)}
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return nil, fmt.Errorf("decode wav: %w", err)
		}
		if n == 0 {
			break
		}
		for _, s := range buf.Data[:n] {
			out = append(out, int16(s))
		}
	}
	return out, nil
}

// ExtractWAVRange copies the startMs..endMs range of a canonical WAV file
// into a new WAV file, skipping startMs*16 samples and taking
// (endMs-startMs)*16. Ranges past the end of the source yield a shorter
// (possibly empty) slice file.
func ExtractWAVRange(srcPath, dstPath string, startMs, endMs uint64) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if err := validateFormat(dec); err != nil {
		return err
	}

	skip := int(startMs * samplesPerMs)
	var take int
	if endMs > startMs {
		take = int((endMs - startMs) * samplesPerMs)
	}

	out, err := NewWAVWriter(dstPath)
	if err != nil {
		return err
	}

	buf := &gaudio.IntBuffer{Format: wavFormat, Data: make([]int, 32*1024)}
	chunk := make([]int16, 0, 32*1024)
	for take > 0 {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			_ = out.Close()
			return fmt.Errorf("decode source wav: %w", err)
		}
		if n == 0 {
			break
		}
		data := buf.Data[:n]
		if skip > 0 {
			if skip >= n {
				skip -= n
				continue
			}
			data = data[skip:]
			skip = 0
		}
		if len(data) > take {
			data = data[:take]
		}
		chunk = chunk[:0]
		for _, s := range data {
			chunk = append(chunk, int16(s))
		}
		if err := out.WriteSamples(chunk); err != nil {
			_ = out.Close()
			return err
		}
		take -= len(data)
	}
	return out.Close()
}

func validateFormat(dec *wav.Decoder) error {
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return fmt.Errorf("not a valid wav file")
	}
	if dec.SampleRate != SampleRate || int(dec.NumChans) != Channels || dec.BitDepth != 16 {
		return fmt.Errorf("expected %dHz mono 16-bit, got %dHz %dch %dbit",
			SampleRate, dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	return nil
}
