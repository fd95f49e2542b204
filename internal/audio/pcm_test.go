package audio

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestNormalizePCM16(t *testing.T) {
	raw := EncodePCM16([]int{0, 1, -1, 16384, 32767, -32768})
	samples := NormalizePCM16(raw)

	want := []float32{0, 1.0 / 32768.0, -1.0 / 32768.0, 0.5, 32767.0 / 32768.0, -1}
	if len(samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(samples))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("sample %d: expected %v, got %v", i, want[i], samples[i])
		}
	}
	if samples[4] >= 1 {
		t.Fatalf("expected max positive sample below 1.0, got %v", samples[4])
	}
}

func TestNormalizePCM16DropsTrailingByte(t *testing.T) {
	raw := append(EncodePCM16([]int{100, -200, 300}), 0x7f)
	samples := NormalizePCM16(raw)
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if samples[2] != float32(300)/32768.0 {
		t.Fatalf("unexpected last sample %v", samples[2])
	}
}

func TestNormalizePCM16Empty(t *testing.T) {
	if got := NormalizePCM16(nil); len(got) != 0 {
		t.Fatalf("expected no samples, got %d", len(got))
	}
	if got := NormalizePCM16([]byte{0x01}); len(got) != 0 {
		t.Fatalf("expected single byte to yield no samples, got %d", len(got))
	}
}

func TestDecode(t *testing.T) {
	raw := EncodePCM16([]int{-32768, 32767})
	samples, err := Decode(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 2 || samples[0] != -1 {
		t.Fatalf("unexpected samples %v", samples)
	}
}

func TestDecodeBase64Malformed(t *testing.T) {
	_, err := DecodeBase64("not*base64!")
	if err == nil {
		t.Fatal("expected error")
	}
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %T", err)
	}
}

func TestToPCM16Asymmetric(t *testing.T) {
	samples := NormalizePCM16(EncodePCM16([]int{-32768, 32767, 16384, -3}))
	got := ToPCM16(samples)

	// -1.0 * 32767 and 0.99997 * 32767 both truncate toward zero.
	want := []int{-32767, 32766, 16383, -2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}
