package streaming

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/talkatype/talkatype/internal/stt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fastConfig() TranscriberConfig {
	return TranscriberConfig{
		ChunkInterval:      5 * time.Millisecond,
		BufferDuration:     time.Second,
		MinAudio:           time.Millisecond,
		AgreementThreshold: 2,
		SampleRate:         16000,
	}
}

// funcEngine lets a test script per-call behavior including failures.
type funcEngine struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) ([]stt.Word, error)
}

func (f *funcEngine) Transcribe(_ context.Context, _ []float32, _ string) ([]stt.Word, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call)
}

func (f *funcEngine) Close() error { return nil }

func (f *funcEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// wedgeEngine scripts passes per call and blocks one designated call
// until released, simulating an inference call that outlives its
// session's shutdown.
type wedgeEngine struct {
	mu        sync.Mutex
	calls     int
	wedgeCall int
	release   chan struct{}
	fn        func(call int) []stt.Word
}

func (e *wedgeEngine) Transcribe(_ context.Context, _ []float32, _ string) ([]stt.Word, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()
	if call == e.wedgeCall {
		<-e.release
	}
	return e.fn(call), nil
}

func (e *wedgeEngine) Close() error { return nil }

func (e *wedgeEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// collectEvents drains the event channel until closed.
func collectEvents(events <-chan Event) (<-chan []Event, func() []Event) {
	out := make(chan []Event, 1)
	go func() {
		var all []Event
		for ev := range events {
			all = append(all, ev)
		}
		out <- all
	}()
	return out, func() []Event {
		select {
		case all := <-out:
			return all
		case <-time.After(5 * time.Second):
			return nil
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func confirmedWords(events []Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Kind == EventConfirmed {
			out = append(out, ev.Words...)
		}
	}
	return out
}

func TestTranscriberConfirmsAndFinalizes(t *testing.T) {
	engine := stt.NewMockEngine(stt.ScriptTokens(
		[]string{"hello"},
		[]string{"hello", "world"},
		[]string{"hello", "world", "today"},
	))
	tr := NewTranscriber(engine, fastConfig(), testLogger())

	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, drained := collectEvents(tr.Events())

	tr.FeedAudio(make([]float32, 1600))
	waitFor(t, 5*time.Second, func() bool { return engine.Calls() >= 3 })

	finalText, unconfirmed := tr.Stop()
	if finalText != "hello world today" {
		t.Fatalf("expected full transcript, got %q", finalText)
	}
	if len(unconfirmed) != 0 {
		t.Fatalf("expected empty unconfirmed remainder, got %v", unconfirmed)
	}

	all := drained()
	words := confirmedWords(all)
	want := []string{"hello", "world", "today"}
	if len(words) != len(want) {
		t.Fatalf("expected confirmations %v, got %v", want, words)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Fatalf("confirmation %d: expected %q, got %q", i, want[i], words[i])
		}
	}
}

func TestTranscriberFinalPassConfirmsTentative(t *testing.T) {
	engine := stt.NewMockEngine(stt.ScriptTokens(
		[]string{"go", "now"},
		[]string{"go", "later"},
	))
	tr := NewTranscriber(engine, fastConfig(), testLogger())

	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, drained := collectEvents(tr.Events())

	tr.FeedAudio(make([]float32, 1600))
	waitFor(t, 5*time.Second, func() bool { return engine.Calls() >= 2 })

	finalText, unconfirmed := tr.Stop()
	if finalText != "go later" {
		t.Fatalf("expected %q, got %q", "go later", finalText)
	}
	if len(unconfirmed) != 0 {
		t.Fatalf("expected empty remainder, got %v", unconfirmed)
	}
	drained()
}

func TestTranscriberSurvivesFailingPass(t *testing.T) {
	engine := &funcEngine{fn: func(call int) ([]stt.Word, error) {
		if call == 1 {
			return nil, errors.New("model hiccup")
		}
		return stt.ScriptTokens([]string{"ok"})[0], nil
	}}
	tr := NewTranscriber(engine, fastConfig(), testLogger())

	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, drained := collectEvents(tr.Events())

	tr.FeedAudio(make([]float32, 1600))
	waitFor(t, 5*time.Second, func() bool { return engine.Calls() >= 3 })

	finalText, _ := tr.Stop()
	if finalText != "ok" {
		t.Fatalf("expected loop to survive failed pass, got %q", finalText)
	}

	var sawError bool
	for _, ev := range drained() {
		if ev.Kind == EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("expected an error event for the failed pass")
	}
}

func TestTranscriberStopWhenIdle(t *testing.T) {
	tr := NewTranscriber(stt.NewMockEngine(nil), fastConfig(), testLogger())
	text, unconfirmed := tr.Stop()
	if text != "" || len(unconfirmed) != 0 {
		t.Fatalf("expected empty state, got %q / %v", text, unconfirmed)
	}
}

func TestTranscriberStartRequiresEngine(t *testing.T) {
	tr := NewTranscriber(nil, fastConfig(), testLogger())
	if err := tr.Start(); err == nil {
		t.Fatal("expected error starting without engine")
	}
}

func TestTranscriberFeedBeforeStartIsDropped(t *testing.T) {
	engine := stt.NewMockEngine(stt.ScriptTokens([]string{"stale"}))
	tr := NewTranscriber(engine, fastConfig(), testLogger())

	// Audio fed while idle must not survive into the session.
	tr.FeedAudio(make([]float32, 1600))

	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, drained := collectEvents(tr.Events())

	finalText, _ := tr.Stop()
	if finalText != "" {
		t.Fatalf("expected no transcript from dropped audio, got %q", finalText)
	}
	drained()
}

func TestTranscriberRestartIsolatesWedgedLoop(t *testing.T) {
	engine := &wedgeEngine{wedgeCall: 2, release: make(chan struct{}), fn: func(call int) []stt.Word {
		if call <= 2 {
			return stt.ScriptTokens([]string{"stale", "stale"})[0]
		}
		return stt.ScriptTokens([]string{"fresh"})[0]
	}}
	tr := NewTranscriber(engine, fastConfig(), testLogger())

	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, drainedOld := collectEvents(tr.Events())
	tr.FeedAudio(make([]float32, 1600))
	waitFor(t, 5*time.Second, func() bool { return engine.Calls() >= 2 })

	// The second pass is wedged; Stop gives up after the join timeout
	// with nothing confirmed.
	if text, _ := tr.Stop(); text != "" {
		t.Fatalf("expected no confirmations from the wedged session, got %q", text)
	}

	if err := tr.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_, drainedNew := collectEvents(tr.Events())
	tr.FeedAudio(make([]float32, 1600))
	waitFor(t, 5*time.Second, func() bool { return len(tr.ConfirmedWords()) > 0 })

	// Release the wedged pass. Its late confirmations belong to the old
	// session and must not surface in the new one.
	close(engine.release)

	finalText, _ := tr.Stop()
	if finalText != "fresh" {
		t.Fatalf("expected %q, got %q", "fresh", finalText)
	}
	for _, w := range confirmedWords(drainedNew()) {
		if w != "fresh" {
			t.Fatalf("stale word leaked into new session: %q", w)
		}
	}
	for _, w := range confirmedWords(drainedOld()) {
		if w != "stale" {
			t.Fatalf("unexpected word in old session: %q", w)
		}
	}
}

func TestTranscriberSessionStateResetsOnRestart(t *testing.T) {
	engine := stt.NewMockEngine(stt.ScriptTokens([]string{"first"}))
	tr := NewTranscriber(engine, fastConfig(), testLogger())

	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, drained := collectEvents(tr.Events())
	tr.FeedAudio(make([]float32, 1600))
	waitFor(t, 5*time.Second, func() bool { return engine.Calls() >= 1 })
	if text, _ := tr.Stop(); text != "first" {
		t.Fatalf("expected %q, got %q", "first", text)
	}
	drained()

	// Second session starts from a clean slate.
	if err := tr.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_, drained = collectEvents(tr.Events())
	if got := tr.ConfirmedWords(); len(got) != 0 {
		t.Fatalf("expected empty ledger after restart, got %v", got)
	}
	if text, _ := tr.Stop(); text != "" {
		t.Fatalf("expected empty transcript in fresh session, got %q", text)
	}
	drained()
}
