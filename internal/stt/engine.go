package stt

import (
	"context"
	"strings"
	"time"
)

// Word is one token of transcription output with timing and confidence.
type Word struct {
	Text        string
	Start       time.Duration
	End         time.Duration
	Probability float64
}

// Engine abstracts the speech inference backend. Implementations must
// tolerate repeated invocations over overlapping windows; the streaming
// driver only ever calls Transcribe from one goroutine per session.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, language string) ([]Word, error)
	Close() error
}

// Tokens flattens engine output into bare text tokens for the agreement
// policy, dropping empty entries.
func Tokens(words []Word) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if t := strings.TrimSpace(w.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}
