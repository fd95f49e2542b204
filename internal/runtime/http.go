package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/eventstore"
	"github.com/loqalabs/loqa-stt/internal/protocol"
	"github.com/loqalabs/loqa-stt/internal/stt"
)

const defaultListLimit = 50

// API serves the HTTP surface of the transcription service.
type API struct {
	svc          *stt.Service
	store        *eventstore.Store
	metrics      http.Handler
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewAPI builds the HTTP API. store and metrics may be nil.
func NewAPI(svc *stt.Service, store *eventstore.Store, metrics http.Handler, maxBodyBytes int64, logger *slog.Logger) *API {
	return &API{
		svc:          svc,
		store:        store,
		metrics:      metrics,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With(slog.String("component", "http")),
	}
}

// Routes returns the chi router serving the API.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(a.logRequests)
	r.Use(chimiddleware.Recoverer)

	r.Post("/transcribe", a.handleTranscribe)
	r.Get("/health", a.handleHealth)
	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)
	r.Get("/transcriptions", a.handleTranscriptions)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}
	return r
}

func (a *API) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var body protocol.TranscribeRequest
	if err := json.Unmarshal(data, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	// A transcription runs to completion even if the client goes away.
	ctx := context.WithoutCancel(r.Context())
	result, err := a.svc.Transcribe(ctx, stt.Request{
		RequestID:    chimiddleware.GetReqID(r.Context()),
		Transport:    "http",
		AudioBase64:  body.AudioBase64,
		SampleRateHz: body.SampleRateHz,
		Channels:     body.Channels,
	})
	if err != nil {
		var decodeErr *audio.DecodeError
		if errors.As(err, &decodeErr) {
			writeError(w, http.StatusBadRequest, decodeErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.TranscribeResponse{
		Text:       result.Text,
		Confidence: result.Confidence,
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, protocol.HealthResponse{Status: "ok"})
}

func (a *API) handleReady(w http.ResponseWriter, _ *http.Request) {
	if a.svc.Handle().Ready() {
		writeJSON(w, http.StatusOK, protocol.HealthResponse{Status: "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, protocol.HealthResponse{Status: "loading"})
}

func (a *API) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	items, err := a.store.ListRecent(r.Context(), limit)
	if err != nil {
		a.logger.Error("list transcriptions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list transcriptions")
		return
	}
	if items == nil {
		items = []eventstore.Transcription{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.LogAttrs(r.Context(), slog.LevelDebug, "http request",
			slog.String("request_id", chimiddleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}
