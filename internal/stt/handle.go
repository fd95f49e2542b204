package stt

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrEngineClosed is returned by a ModelHandle after Close.
var ErrEngineClosed = errors.New("recognition engine closed")

// ModelHandle owns the single process-wide recognition engine. The engine is
// loaded on first use; concurrent first callers wait for one load. A failed
// load is not cached, so the next caller retries.
type ModelHandle struct {
	load   Loader
	logger *slog.Logger

	mu     sync.Mutex
	engine Engine
	closed bool
	ready  atomic.Bool

	loadCount    metric.Int64Counter
	loadDuration metric.Float64Histogram
}

// NewModelHandle returns a handle that loads its engine with load on first use.
func NewModelHandle(load Loader, logger *slog.Logger) *ModelHandle {
	h := &ModelHandle{
		load:   load,
		logger: logger.With(slog.String("component", "model-handle")),
	}
	meter := otel.Meter("github.com/loqalabs/loqa-stt/stt")
	var err error
	if h.loadCount, err = meter.Int64Counter("loqa_stt.model.loads",
		metric.WithDescription("Recognition engine load attempts")); err != nil {
		h.logger.Warn("failed to create load counter", slogError(err))
	}
	if h.loadDuration, err = meter.Float64Histogram("loqa_stt.model.load_duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent loading the recognition engine")); err != nil {
		h.logger.Warn("failed to create load histogram", slogError(err))
	}
	return h
}

// Get returns the engine, loading it if none is loaded. Concurrent callers
// wait for a single load.
func (h *ModelHandle) Get(ctx context.Context) (Engine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrEngineClosed
	}
	if h.engine != nil {
		return h.engine, nil
	}

	h.logger.Info("loading recognition engine")
	start := time.Now()
	engine, err := h.load(ctx)
	elapsed := time.Since(start)
	h.recordLoad(ctx, elapsed, err)
	if err != nil {
		h.logger.Error("recognition engine load failed", slogError(err), slog.Duration("elapsed", elapsed))
		return nil, fmt.Errorf("load recognition engine: %w", err)
	}
	h.engine = engine
	h.ready.Store(true)
	h.logger.Info("recognition engine loaded", slog.Duration("elapsed", elapsed))
	return engine, nil
}

// Transcribe runs the engine with the fixed decoding parameters.
func (h *ModelHandle) Transcribe(ctx context.Context, samples []float32, sampleRate int) (iter.Seq2[Segment, error], error) {
	engine, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	segments := engine.Transcribe(ctx, samples, sampleRate, DefaultParams())
	return func(yield func(Segment, error) bool) {
		failed := false
		defer func() {
			if failed {
				h.dropIfDead(engine)
			}
		}()
		for seg, err := range segments {
			if err != nil {
				failed = true
			}
			if !yield(seg, err) {
				return
			}
		}
	}, nil
}

// liveEngine is implemented by engines that can become unusable after a
// successful load, such as a subprocess that exited.
type liveEngine interface {
	Alive() bool
}

// dropIfDead forgets engine when it reports itself unusable so the next Get
// loads a fresh one.
func (h *ModelHandle) dropIfDead(engine Engine) {
	live, ok := engine.(liveEngine)
	if !ok || live.Alive() {
		return
	}
	h.mu.Lock()
	if h.closed || h.engine != engine {
		h.mu.Unlock()
		return
	}
	h.engine = nil
	h.ready.Store(false)
	h.mu.Unlock()

	h.logger.Warn("recognition engine is no longer usable; it will be reloaded on next use")
	if err := engine.Close(); err != nil {
		h.logger.Warn("failed to close dead recognition engine", slogError(err))
	}
}

// Ready reports whether an engine is currently loaded.
func (h *ModelHandle) Ready() bool {
	return h.ready.Load()
}

// Close releases the engine. Subsequent Get calls fail with ErrEngineClosed.
func (h *ModelHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.ready.Store(false)
	if h.engine == nil {
		return nil
	}
	return h.engine.Close()
}

func (h *ModelHandle) recordLoad(ctx context.Context, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if h.loadCount != nil {
		h.loadCount.Add(ctx, 1, attrs)
	}
	if h.loadDuration != nil {
		h.loadDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
