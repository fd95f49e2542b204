package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/bus"
	"github.com/loqalabs/loqa-stt/internal/eventstore"
	"github.com/loqalabs/loqa-stt/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultSampleRate applies when a request omits sampleRateHz.
	DefaultSampleRate = 16000
	// MinAudioBytes is the decoded payload floor (50ms of 16kHz mono PCM16)
	// below which the engine is not invoked.
	MinAudioBytes = 1600
)

// Request is a transport-independent transcription request.
type Request struct {
	RequestID    string
	Transport    string
	AudioBase64  string
	SampleRateHz int
	Channels     int
}

// Service applies the request rules and drives decode, engine and
// aggregation. It is shared by the HTTP and bus transports.
type Service struct {
	handle *ModelHandle
	store  *eventstore.Store
	bus    *bus.Client
	logger *slog.Logger
	tracer trace.Tracer

	requests metric.Int64Counter
	latency  metric.Float64Histogram

	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
	wg     sync.WaitGroup
}

// NewService wires the core. store and busClient may be nil.
func NewService(parent context.Context, handle *ModelHandle, store *eventstore.Store, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		handle: handle,
		store:  store,
		bus:    busClient,
		logger: logger.With(slog.String("component", "stt-service")),
		tracer: otel.Tracer("github.com/loqalabs/loqa-stt/stt"),
		ctx:    ctx,
		cancel: cancel,
	}
	meter := otel.Meter("github.com/loqalabs/loqa-stt/stt")
	var err error
	if s.requests, err = meter.Int64Counter("loqa_stt.requests",
		metric.WithDescription("Transcription requests by outcome")); err != nil {
		s.logger.Warn("failed to create request counter", slogError(err))
	}
	if s.latency, err = meter.Float64Histogram("loqa_stt.request_duration",
		metric.WithUnit("s"),
		metric.WithDescription("End-to-end transcription latency")); err != nil {
		s.logger.Warn("failed to create latency histogram", slogError(err))
	}
	return s
}

// Handle exposes the model handle for readiness checks and preloading.
func (s *Service) Handle() *ModelHandle {
	return s.handle
}

// Transcribe processes one request. Empty or too-short audio is a successful
// empty Result. A malformed payload returns *audio.DecodeError; engine
// failures are returned wrapped and are not retried.
func (s *Service) Transcribe(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	sampleRate := req.SampleRateHz
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	ctx, span := s.tracer.Start(ctx, "stt.transcribe", trace.WithAttributes(
		attribute.String("stt.request_id", req.RequestID),
		attribute.String("stt.transport", req.Transport),
		attribute.Int("stt.sample_rate", sampleRate),
		attribute.Int("stt.channels", req.Channels),
	))
	defer span.End()

	rec := eventstore.Transcription{
		RequestID:  req.RequestID,
		Transport:  req.Transport,
		SampleRate: sampleRate,
	}

	if req.AudioBase64 == "" {
		rec.Outcome = eventstore.OutcomeEmptyAudio
		s.finish(ctx, span, rec, start, nil)
		return Result{}, nil
	}

	raw, err := audio.DecodeBase64(req.AudioBase64)
	if err != nil {
		rec.Outcome = eventstore.OutcomeInvalidAudio
		s.finish(ctx, span, rec, start, err)
		return Result{}, err
	}
	rec.AudioBytes = len(raw)
	span.SetAttributes(attribute.Int("stt.audio_bytes", len(raw)))
	if len(raw) < MinAudioBytes {
		rec.Outcome = eventstore.OutcomeTooShort
		s.finish(ctx, span, rec, start, nil)
		return Result{}, nil
	}

	samples := audio.NormalizePCM16(raw)
	segments, err := s.handle.Transcribe(ctx, samples, sampleRate)
	if err == nil {
		var result Result
		result, err = Aggregate(segments)
		if err == nil {
			rec.Outcome = eventstore.OutcomeTranscribed
			rec.Text = result.Text
			rec.Confidence = result.Confidence
			rec.Segments = result.Segments
			s.finish(ctx, span, rec, start, nil)
			s.publish(rec, result)
			return result, nil
		}
	}
	err = fmt.Errorf("transcribe: %w", err)
	rec.Outcome = eventstore.OutcomeEngineError
	s.finish(ctx, span, rec, start, err)
	return Result{}, err
}

func (s *Service) finish(ctx context.Context, span trace.Span, rec eventstore.Transcription, start time.Time, err error) {
	elapsed := time.Since(start)
	rec.LatencyMS = elapsed.Milliseconds()
	attrs := []slog.Attr{
		slog.String("request_id", rec.RequestID),
		slog.String("transport", rec.Transport),
		slog.String("outcome", string(rec.Outcome)),
		slog.Int("audio_bytes", rec.AudioBytes),
		slog.Duration("latency", elapsed),
	}
	span.SetAttributes(attribute.String("stt.outcome", string(rec.Outcome)))
	if err != nil {
		rec.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.LogAttrs(ctx, slog.LevelWarn, "transcription failed", append(attrs, slogError(err))...)
	} else {
		attrs = append(attrs, slog.Int("segments", rec.Segments), slog.Float64("confidence", rec.Confidence))
		s.logger.LogAttrs(ctx, slog.LevelInfo, "transcription complete", attrs...)
	}

	metricAttrs := metric.WithAttributes(
		attribute.String("outcome", string(rec.Outcome)),
		attribute.String("transport", rec.Transport),
	)
	if s.requests != nil {
		s.requests.Add(ctx, 1, metricAttrs)
	}
	if s.latency != nil {
		s.latency.Record(ctx, elapsed.Seconds(), metricAttrs)
	}

	if err := s.store.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("failed to record transcription", slogError(err))
	}
}

func (s *Service) publish(rec eventstore.Transcription, result Result) {
	if s.bus == nil || result.Text == "" {
		return
	}
	msg := protocol.Transcript{
		RequestID:  rec.RequestID,
		Transport:  rec.Transport,
		Text:       result.Text,
		Confidence: result.Confidence,
		Segments:   result.Segments,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectTranscriptFinal, msg); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
}

// Start subscribes to bus transcription requests. It is a no-op without a
// bus client.
func (s *Service) Start() error {
	if s.bus == nil {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTranscribeRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe transcribe requests: %w", err)
	}
	s.sub = sub
	return nil
}

// Close stops the bus subscription and waits for in-flight bus requests.
func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TranscribeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode transcribe request", slogError(err))
		s.reply(msg, protocol.BusReply{Error: "malformed request body"})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result, err := s.Transcribe(s.ctx, Request{
			Transport:    "bus",
			AudioBase64:  req.AudioBase64,
			SampleRateHz: req.SampleRateHz,
			Channels:     req.Channels,
		})
		if err != nil {
			var decodeErr *audio.DecodeError
			if errors.As(err, &decodeErr) {
				s.reply(msg, protocol.BusReply{Error: decodeErr.Error()})
				return
			}
			s.reply(msg, protocol.BusReply{Error: "transcription failed"})
			return
		}
		s.reply(msg, protocol.BusReply{Text: result.Text, Confidence: result.Confidence})
	}()
}

func (s *Service) reply(msg *nats.Msg, reply protocol.BusReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal bus reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send bus reply", slogError(err))
	}
}
