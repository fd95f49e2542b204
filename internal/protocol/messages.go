package protocol

import (
	"encoding/json"
	"time"
)

// TranscribeRequest is the body of POST /transcribe and of bus requests on
// SubjectTranscribeRequest.
type TranscribeRequest struct {
	Model        string `json:"model,omitempty"`
	AudioBase64  string `json:"audioBase64"`
	SampleRateHz int    `json:"sampleRateHz,omitempty"`
	Channels     int    `json:"channels,omitempty"`
}

// UnmarshalJSON accepts any JSON number for sampleRateHz and channels and
// truncates it toward zero, so 16000.0 decodes as 16000.
func (r *TranscribeRequest) UnmarshalJSON(data []byte) error {
	var wire struct {
		Model        string  `json:"model"`
		AudioBase64  string  `json:"audioBase64"`
		SampleRateHz float64 `json:"sampleRateHz"`
		Channels     float64 `json:"channels"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = TranscribeRequest{
		Model:        wire.Model,
		AudioBase64:  wire.AudioBase64,
		SampleRateHz: int(wire.SampleRateHz),
		Channels:     int(wire.Channels),
	}
	return nil
}

// TranscribeResponse is the successful transcription result.
type TranscribeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ErrorResponse is returned for rejected or failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// BusReply answers a bus transcription request. Error is set instead of the
// result fields on failure.
type BusReply struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// HealthResponse is the liveness probe body.
type HealthResponse struct {
	Status string `json:"status"`
}

// Transcript is broadcast on the bus for every non-empty result.
type Transcript struct {
	RequestID  string    `json:"request_id"`
	Transport  string    `json:"transport"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Segments   int       `json:"segments"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectTranscribeRequest = "stt.transcribe"
	SubjectTranscriptFinal   = "stt.text.final"
)
