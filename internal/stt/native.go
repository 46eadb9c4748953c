package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/talkatype/talkatype/internal/config"
)

// nativeEngine runs whisper.cpp in-process through the Go bindings.
// Expects mono 16 kHz float32 samples in [-1, 1].
type nativeEngine struct {
	model whisper.Model
	cfg   config.EngineConfig
}

func NewNativeEngine(cfg config.EngineConfig) (Engine, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &nativeEngine{model: m, cfg: cfg}, nil
}

func (e *nativeEngine) Transcribe(ctx context.Context, samples []float32, language string) ([]Word, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}

	if language == "" {
		language = "auto"
	}
	if err := wctx.SetLanguage(language); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}

	threads := e.cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))
	wctx.SetTokenTimestamps(true)
	wctx.SetSplitOnWord(true)
	if e.cfg.BeamSize > 0 {
		wctx.SetBeamSize(e.cfg.BeamSize)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("process: %w", err)
	}

	var words []Word
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("next segment: %w", err)
		}
		// Segment-level timing is good enough for agreement purposes;
		// the policy compares tokens, not timestamps.
		for _, tok := range strings.Fields(s.Text) {
			words = append(words, Word{
				Text:        tok,
				Start:       s.Start,
				End:         s.End,
				Probability: 1,
			})
		}
	}
	return words, nil
}

func (e *nativeEngine) Close() error {
	if e.model == nil {
		return nil
	}
	return e.model.Close()
}
