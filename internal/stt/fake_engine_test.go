package stt

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"sync"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeEngine records calls and returns canned segments.
type fakeEngine struct {
	mu       sync.Mutex
	calls    int
	segments []Segment
	err      error
	last     struct {
		samples    []float32
		sampleRate int
		params     Params
	}
	closed bool
}

func (f *fakeEngine) Transcribe(_ context.Context, samples []float32, sampleRate int, params Params) iter.Seq2[Segment, error] {
	f.mu.Lock()
	f.calls++
	f.last.samples = samples
	f.last.sampleRate = sampleRate
	f.last.params = params
	segs, err := f.segments, f.err
	f.mu.Unlock()
	return func(yield func(Segment, error) bool) {
		if err != nil {
			yield(Segment{}, err)
			return
		}
		for _, s := range segs {
			if !yield(s, nil) {
				return
			}
		}
	}
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func staticLoader(engine Engine) Loader {
	return func(context.Context) (Engine, error) { return engine, nil }
}
