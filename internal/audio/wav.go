package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth    = 16
	wavPCMFormat   = 1
	wavMonoChannel = 1
)

// TempWAV is a WAV file written for a single recognizer invocation. The
// owner must call Cleanup once the recognizer has consumed it.
type TempWAV struct {
	Path       string
	SampleRate int
	Samples    int
}

// Cleanup removes the file. It is safe to call more than once.
func (t *TempWAV) Cleanup() error {
	if t == nil || t.Path == "" {
		return nil
	}
	err := os.Remove(t.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// WriteTempWAV serializes samples as a mono 16-bit WAV at sampleRate into a
// uniquely named file under dir (os.TempDir when dir is empty).
func WriteTempWAV(dir string, samples []float32, sampleRate int) (*TempWAV, error) {
	file, err := os.CreateTemp(dir, "loqa_stt_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	tmp := &TempWAV{Path: file.Name(), SampleRate: sampleRate, Samples: len(samples)}

	if err := WriteWAV(file, samples, sampleRate); err != nil {
		file.Close()
		_ = tmp.Cleanup()
		return nil, err
	}
	if err := file.Close(); err != nil {
		_ = tmp.Cleanup()
		return nil, fmt.Errorf("close wav file: %w", err)
	}
	return tmp, nil
}

// WriteWAV encodes samples as a mono 16-bit WAV container.
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: wavMonoChannel, SampleRate: sampleRate},
		Data:           ToPCM16(samples),
		SourceBitDepth: wavBitDepth,
	}

	enc := wav.NewEncoder(w, sampleRate, wavBitDepth, wavMonoChannel, wavPCMFormat)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// Clip is PCM16 audio read from a WAV container.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// ReadWAV loads a 16-bit PCM WAV file. Multi-channel data is returned
// interleaved, as stored.
func ReadWAV(r io.ReadSeeker) (Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, errors.New("not a valid wav file")
	}
	if dec.BitDepth != wavBitDepth {
		return Clip{}, fmt.Errorf("unsupported bit depth %d, want %d", dec.BitDepth, wavBitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("read wav samples: %w", err)
	}
	return Clip{
		PCM:        EncodePCM16(buf.Data),
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}
