package stt

import (
	"context"
	"iter"
)

// Segment is one span of recognized text as emitted by an engine.
type Segment struct {
	Text       string
	AvgLogProb float64
}

// Params are the decoding parameters passed to every engine call.
type Params struct {
	BeamSize  int
	Language  string
	VADFilter bool
}

// DefaultParams returns the fixed decoding parameters used for all requests.
func DefaultParams() Params {
	return Params{
		BeamSize:  5,
		Language:  "en",
		VADFilter: true,
	}
}

// Engine abstracts recognition backends. Transcribe returns a lazy sequence:
// no work happens until it is ranged over, and it must be consumed at most
// once.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, params Params) iter.Seq2[Segment, error]
	Close() error
}

// Loader performs the expensive construction of an Engine.
type Loader func(ctx context.Context) (Engine, error)
