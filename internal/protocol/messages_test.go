package protocol

import (
	"encoding/json"
	"testing"
)

func TestTranscribeRequestNumericFields(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		rate     int
		channels int
	}{
		{"integers", `{"audioBase64":"AAA=","sampleRateHz":16000,"channels":1}`, 16000, 1},
		{"floats", `{"audioBase64":"AAA=","sampleRateHz":22050.0,"channels":2.0}`, 22050, 2},
		{"fraction truncates", `{"audioBase64":"AAA=","sampleRateHz":8000.9}`, 8000, 0},
		{"absent", `{"audioBase64":"AAA="}`, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var req TranscribeRequest
			if err := json.Unmarshal([]byte(tc.body), &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if req.AudioBase64 != "AAA=" || req.SampleRateHz != tc.rate || req.Channels != tc.channels {
				t.Fatalf("unexpected request %+v", req)
			}
		})
	}
}

func TestTranscribeRequestRejectsInvalidJSON(t *testing.T) {
	for _, body := range []string{`{"audioBase64":""} xyz`, `{"sampleRateHz":"16000"}`} {
		var req TranscribeRequest
		if err := json.Unmarshal([]byte(body), &req); err == nil {
			t.Fatalf("expected error for %s", body)
		}
	}
}
