package stt

import (
	"context"
	"sync"
)

// MockEngine replays a scripted sequence of passes, one per Transcribe
// call, repeating the last entry once exhausted. With a nil script it
// returns no words. Used in tests and for wiring checks without a model.
type MockEngine struct {
	mu     sync.Mutex
	script [][]Word
	calls  int
}

func NewMockEngine(script [][]Word) *MockEngine {
	return &MockEngine{script: script}
}

// ScriptTokens is a convenience for building a script from bare tokens.
func ScriptTokens(passes ...[]string) [][]Word {
	script := make([][]Word, len(passes))
	for i, pass := range passes {
		words := make([]Word, len(pass))
		for j, tok := range pass {
			words[j] = Word{Text: tok, Probability: 1}
		}
		script[i] = words
	}
	return script
}

func (m *MockEngine) Transcribe(_ context.Context, _ []float32, _ string) ([]Word, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.script) == 0 {
		return nil, nil
	}
	idx := m.calls
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	m.calls++
	return append([]Word(nil), m.script[idx]...), nil
}

// Calls reports how many passes have run.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockEngine) Close() error { return nil }
