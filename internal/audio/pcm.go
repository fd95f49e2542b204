// Package audio converts between the PCM16 wire format, normalized float
// samples and the WAV container handed to recognition engines.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

const (
	// decodeScale maps int16 onto [-1, 1): -32768 becomes exactly -1.0.
	decodeScale = 32768.0
	// encodeScale is applied on the way back. It differs from decodeScale, so
	// a decode/encode round trip is not bit exact.
	encodeScale = 32767
)

// DecodeError reports a malformed base64 audio payload.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode audio payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeBase64 decodes a standard (padded) base64 PCM16 payload.
func DecodeBase64(payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return raw, nil
}

// NormalizePCM16 interprets raw as little-endian signed 16-bit samples and
// scales each by 1/32768. A trailing odd byte is ignored.
func NormalizePCM16(raw []byte) []float32 {
	count := len(raw) / 2
	samples := make([]float32, count)
	for i := 0; i < count; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		samples[i] = float32(v) / decodeScale
	}
	return samples
}

// Decode is DecodeBase64 followed by NormalizePCM16.
func Decode(payload string) ([]float32, error) {
	raw, err := DecodeBase64(payload)
	if err != nil {
		return nil, err
	}
	return NormalizePCM16(raw), nil
}

// ToPCM16 converts normalized samples back to integer PCM16 values by
// multiplying by 32767 and truncating toward zero.
func ToPCM16(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = int(int16(s * encodeScale))
	}
	return out
}

// EncodePCM16 packs integer samples as little-endian PCM16 bytes.
func EncodePCM16(samples []int) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}
