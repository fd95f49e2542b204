package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/loqalabs/loqa-stt/internal/protocol"
)

func TestTranscribeEmptyChunkSkipsRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	got, err := New(Options{Endpoint: srv.URL}).Transcribe(context.Background(), Chunk{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (Transcript{}) {
		t.Fatalf("expected empty transcript, got %+v", got)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no request, got %d", hits.Load())
	}
}

func TestTranscribeSendsRequestBody(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transcribe" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		var body protocol.TranscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Model != "small" || body.SampleRateHz != 22050 || body.Channels != 1 {
			t.Errorf("unexpected body %+v", body)
		}
		if body.AudioBase64 != base64.StdEncoding.EncodeToString(pcm) {
			t.Errorf("unexpected audio %q", body.AudioBase64)
		}
		_ = json.NewEncoder(w).Encode(protocol.TranscribeResponse{Text: "hi there", Confidence: -0.3127})
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL + "/", Model: "small"})
	got, err := c.Transcribe(context.Background(), Chunk{PCM16: pcm, SampleRateHz: 22050, Channels: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "hi there" || got.Confidence != -0.3127 {
		t.Fatalf("unexpected transcript %+v", got)
	}
}

func TestTranscribeNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "engine crashed"})
	}))
	defer srv.Close()

	_, err := New(Options{Endpoint: srv.URL}).Transcribe(context.Background(), Chunk{PCM16: []byte{0, 0}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "engine crashed") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(protocol.HealthResponse{Status: "ok"})
	}))
	defer srv.Close()

	status, err := New(Options{Endpoint: srv.URL}).Health(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "ok" {
		t.Fatalf("expected ok, got %q", status)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	c := New(Options{})
	if c.opts.Endpoint != DefaultEndpoint || c.opts.Timeout != DefaultTimeout {
		t.Fatalf("unexpected defaults %+v", c.opts)
	}
}
