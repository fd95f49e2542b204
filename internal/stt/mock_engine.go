package stt

import (
	"context"
	"fmt"
	"iter"
	"math"
)

// mockSilenceRMS is the energy below which the mock engine behaves like a
// VAD filter and emits nothing.
const mockSilenceRMS = 1e-3

type mockEngine struct{}

// NewMockEngine returns an engine that consumes samples directly and emits a
// single synthetic segment for non-silent audio.
func NewMockEngine() Engine {
	return &mockEngine{}
}

func (m *mockEngine) Transcribe(ctx context.Context, samples []float32, sampleRate int, params Params) iter.Seq2[Segment, error] {
	return func(yield func(Segment, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(Segment{}, err)
			return
		}
		if params.VADFilter && rms(samples) < mockSilenceRMS {
			return
		}
		yield(Segment{
			Text:       fmt.Sprintf(" [mock transcript samples=%d rate=%d lang=%s] ", len(samples), sampleRate, params.Language),
			AvgLogProb: -0.25,
		}, nil)
	}
}

func (m *mockEngine) Close() error { return nil }

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
