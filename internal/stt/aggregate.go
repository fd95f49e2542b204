package stt

import (
	"iter"
	"math"
	"strings"
)

// Result is the final output of one transcription.
type Result struct {
	Text       string
	Confidence float64
	Segments   int
}

// Aggregate consumes segments exactly once. Confidence is the mean of the
// per-segment average log-probabilities rounded to 4 decimals; it is a log
// value and is typically negative. No segments yields an empty Result.
func Aggregate(segments iter.Seq2[Segment, error]) (Result, error) {
	var (
		texts []string
		total float64
		count int
	)
	for seg, err := range segments {
		if err != nil {
			return Result{}, err
		}
		texts = append(texts, strings.TrimSpace(seg.Text))
		total += seg.AvgLogProb
		count++
	}
	if count == 0 {
		return Result{}, nil
	}
	return Result{
		Text:       strings.TrimSpace(strings.Join(texts, " ")),
		Confidence: round4(total / float64(count)),
		Segments:   count,
	}, nil
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
