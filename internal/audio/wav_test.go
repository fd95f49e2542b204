package audio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteTempWAVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	samples := NormalizePCM16(EncodePCM16([]int{0, 1000, -1000, 32767, -32768}))

	tmp, err := WriteTempWAV(dir, samples, 22050)
	if err != nil {
		t.Fatalf("write temp wav: %v", err)
	}
	if filepath.Dir(tmp.Path) != dir {
		t.Fatalf("expected file under %s, got %s", dir, tmp.Path)
	}
	if tmp.Samples != len(samples) || tmp.SampleRate != 22050 {
		t.Fatalf("unexpected metadata %+v", tmp)
	}

	f, err := os.Open(tmp.Path)
	if err != nil {
		t.Fatalf("open wav: %v", err)
	}
	clip, err := ReadWAV(f)
	f.Close()
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if clip.SampleRate != 22050 || clip.Channels != 1 {
		t.Fatalf("unexpected format rate=%d channels=%d", clip.SampleRate, clip.Channels)
	}

	want := EncodePCM16([]int{0, 999, -999, 32766, -32767})
	if string(clip.PCM) != string(want) {
		t.Fatalf("unexpected pcm payload %v, want %v", clip.PCM, want)
	}

	if err := tmp.Cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(tmp.Path); !os.IsNotExist(err) {
		t.Fatalf("expected temp file removed, stat err=%v", err)
	}
	if err := tmp.Cleanup(); err != nil {
		t.Fatalf("second cleanup should be a no-op: %v", err)
	}
}

func TestWriteTempWAVUniqueNames(t *testing.T) {
	dir := t.TempDir()
	a, err := WriteTempWAV(dir, []float32{0}, 16000)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	defer a.Cleanup()
	b, err := WriteTempWAV(dir, []float32{0}, 16000)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	defer b.Cleanup()
	if a.Path == b.Path {
		t.Fatalf("expected distinct temp files, both %s", a.Path)
	}
}

func TestWriteTempWAVRejectsBadRate(t *testing.T) {
	dir := t.TempDir()
	if _, err := WriteTempWAV(dir, []float32{0}, 0); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected failed write to clean up, found %d files", len(entries))
	}
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(path, []byte("definitely not riff data"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := ReadWAV(f); err == nil {
		t.Fatal("expected error for invalid wav")
	}
}
