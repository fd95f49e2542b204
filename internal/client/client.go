// Package client talks to a running loqa-stt server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-stt/internal/protocol"
)

const (
	DefaultEndpoint = "http://127.0.0.1:8765"
	DefaultTimeout  = 30 * time.Second
)

// Options configures a Client. Endpoint is the server base URL.
type Options struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// Chunk is one buffer of little-endian PCM16 audio.
type Chunk struct {
	PCM16        []byte
	SampleRateHz int
	Channels     int
}

type Transcript struct {
	Text       string
	Confidence float64
}

type Client struct {
	opts       Options
	httpClient *http.Client
}

// New creates a Client with defaults applied.
func New(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
}

// Transcribe sends chunk to the server. An empty chunk yields an empty
// transcript without contacting the server.
func (c *Client) Transcribe(ctx context.Context, chunk Chunk) (Transcript, error) {
	if len(chunk.PCM16) == 0 {
		return Transcript{}, nil
	}

	payload, err := json.Marshal(protocol.TranscribeRequest{
		Model:        c.opts.Model,
		AudioBase64:  base64.StdEncoding.EncodeToString(chunk.PCM16),
		SampleRateHz: chunk.SampleRateHz,
		Channels:     chunk.Channels,
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint+"/transcribe", bytes.NewReader(payload))
	if err != nil {
		return Transcript{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out protocol.TranscribeResponse
	if err := c.do(req, &out); err != nil {
		return Transcript{}, fmt.Errorf("local stt failed: %w", err)
	}
	return Transcript{Text: out.Text, Confidence: out.Confidence}, nil
}

// Health returns the server liveness status.
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.Endpoint+"/health", nil)
	if err != nil {
		return "", err
	}
	var out protocol.HealthResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("health check failed: %w", err)
	}
	return out.Status, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr protocol.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
