package streaming

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talkatype/talkatype/internal/output"
)

// State tracks the coordinator lifecycle for UI feedback.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// EventSink receives pipeline notifications for the UI collaborator.
// Purely observational; implementations must not call back into the
// coordinator.
type EventSink interface {
	StateChanged(State)
	TentativeUpdated(text string)
	WordTyped(word string)
	PipelineError(err error)
}

// NopSink discards all notifications.
type NopSink struct{}

func (NopSink) StateChanged(State)      {}
func (NopSink) TentativeUpdated(string) {}
func (NopSink) WordTyped(string)        {}
func (NopSink) PipelineError(error)     {}

// Stats is a snapshot of session counters.
type Stats struct {
	WordsTyped      int
	WordsCorrected  int
	ChunksProcessed int
	Errors          int
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Elapsed reports the session duration: frozen at FinishedAt once the
// session has stopped, still running otherwise, zero when never started.
func (s Stats) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if !s.FinishedAt.IsZero() {
		return s.FinishedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

// WordsPerMinute derives typing throughput from the elapsed time.
func (s Stats) WordsPerMinute() float64 {
	elapsed := s.Elapsed()
	if elapsed < time.Second {
		return 0
	}
	return float64(s.WordsTyped) / elapsed.Minutes()
}

const (
	popTimeout        = 100 * time.Millisecond
	routerJoinTimeout = 2 * time.Second
	typistJoinTimeout = 5 * time.Second
)

// delivery owns the consumer side of one session: the FIFO word queue
// and the router/typist goroutine lifecycle. A fresh delivery is
// allocated per Start so goroutines surviving a timed-out shutdown keep
// writing into their own abandoned queue instead of the next session's.
type delivery struct {
	queue      *wordQueue
	stopTyping atomic.Bool
	routerDone chan struct{}
	typingDone chan struct{}
}

// Coordinator consumes the transcriber's event stream, serializes
// confirmed words into a FIFO queue, and drives the output collaborator
// from a dedicated consumer goroutine. It keeps its own typed-word
// ledger, deliberately separate from the transcriber's confirmed ledger,
// so output side-effects stay decoupled from consensus accounting.
type Coordinator struct {
	log         *slog.Logger
	transcriber *Transcriber
	typer       output.Typer
	sink        EventSink

	corrections   bool
	trailingSpace bool

	stateMu sync.Mutex
	state   State

	typedMu sync.Mutex
	typed   []string

	statsMu sync.Mutex
	stats   Stats

	deliveryMu sync.Mutex
	delivery   *delivery
}

// CoordinatorConfig wires the coordinator's collaborators and options.
type CoordinatorConfig struct {
	Corrections   bool
	TrailingSpace bool
}

func NewCoordinator(transcriber *Transcriber, typer output.Typer, sink EventSink, cfg CoordinatorConfig, log *slog.Logger) *Coordinator {
	if sink == nil {
		sink = NopSink{}
	}
	if typer == nil {
		typer = output.NullTyper{}
	}
	return &Coordinator{
		log:           log,
		transcriber:   transcriber,
		typer:         typer,
		sink:          sink,
		corrections:   cfg.Corrections,
		trailingSpace: cfg.TrailingSpace,
		state:         StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Coordinator) setState(next State) {
	c.stateMu.Lock()
	changed := c.state != next
	c.state = next
	c.stateMu.Unlock()
	if changed {
		c.sink.StateChanged(next)
	}
}

// isCurrent reports whether d is the active session's delivery. Stale
// router and typist goroutines use this to keep their hands off the
// shared ledger, stats, and sink.
func (c *Coordinator) isCurrent(d *delivery) bool {
	c.deliveryMu.Lock()
	defer c.deliveryMu.Unlock()
	return c.delivery == d
}

// Start brings the pipeline up: per-session state is cleared, the
// transcriber's driver loop and the typing consumer are launched. Only
// valid from the idle state.
func (c *Coordinator) Start() error {
	if c.State() != StateIdle {
		return fmt.Errorf("cannot start streaming while %s", c.State())
	}
	c.setState(StateStarting)

	c.typedMu.Lock()
	c.typed = nil
	c.typedMu.Unlock()

	c.statsMu.Lock()
	c.stats = Stats{StartedAt: time.Now()}
	c.statsMu.Unlock()

	if err := c.transcriber.Start(); err != nil {
		c.setState(StateError)
		c.sink.PipelineError(err)
		return fmt.Errorf("start transcriber: %w", err)
	}

	d := &delivery{
		queue:      newWordQueue(),
		routerDone: make(chan struct{}),
		typingDone: make(chan struct{}),
	}
	c.deliveryMu.Lock()
	c.delivery = d
	c.deliveryMu.Unlock()

	go c.routeEvents(c.transcriber.Events(), d)
	go c.typingLoop(d)

	c.setState(StateStreaming)
	return nil
}

// FeedAudio forwards captured samples while streaming. Chunks arriving
// in any other state are dropped, protecting against audio racing a stop.
func (c *Coordinator) FeedAudio(samples []float32) {
	if c.State() == StateStreaming {
		c.transcriber.FeedAudio(samples)
	}
}

// Active reports whether a session is currently streaming.
func (c *Coordinator) Active() bool {
	return c.State() == StateStreaming
}

// Stop tears the pipeline down and returns the full typed text. The
// transcriber's final pass emits its last confirmed words through the
// same event path used during streaming; only after that stream is
// drained does the consumer receive its stop signal, so no final word is
// lost. Calling Stop when not streaming returns the current text.
func (c *Coordinator) Stop() string {
	state := c.State()
	if state != StateStreaming && state != StateStarting {
		return c.TypedText()
	}
	c.setState(StateStopping)

	c.deliveryMu.Lock()
	d := c.delivery
	c.deliveryMu.Unlock()

	finalText, _ := c.transcriber.Stop()
	c.log.Debug("transcriber finished", slog.String("confirmed_text", finalText))

	if d != nil {
		// The final pass has been emitted; wait for the router to move
		// it into the word queue before signalling the consumer.
		select {
		case <-d.routerDone:
		case <-time.After(routerJoinTimeout):
			c.log.Warn("event router did not drain in time")
		}

		d.stopTyping.Store(true)
		select {
		case <-d.typingDone:
		case <-time.After(typistJoinTimeout):
			c.log.Warn("typing consumer did not stop in time")
		}
	}

	c.statsMu.Lock()
	c.stats.FinishedAt = time.Now()
	c.statsMu.Unlock()

	c.setState(StateIdle)
	return c.TypedText()
}

// routeEvents drains one session's ordered event channel, feeding
// confirmed words to that session's FIFO queue in arrival order. Stats
// and sink updates are skipped once the delivery has been superseded.
func (c *Coordinator) routeEvents(events <-chan Event, d *delivery) {
	defer close(d.routerDone)
	for ev := range events {
		switch ev.Kind {
		case EventConfirmed:
			d.queue.Push(ev.Words...)
		case EventTentative:
			if !c.isCurrent(d) {
				continue
			}
			c.statsMu.Lock()
			c.stats.ChunksProcessed++
			c.statsMu.Unlock()
			c.sink.TentativeUpdated(ev.Text)
		case EventError:
			if c.isCurrent(d) {
				c.recordError(ev.Err)
			}
		}
	}
}

// typingLoop drains the session's word queue until stopped and the
// queue is empty. Words popped after the delivery has been superseded
// are discarded, never typed.
func (c *Coordinator) typingLoop(d *delivery) {
	defer close(d.typingDone)
	for {
		if d.stopTyping.Load() && d.queue.Len() == 0 {
			return
		}
		word, ok := d.queue.Pop(popTimeout)
		if !ok {
			continue
		}
		if !c.isCurrent(d) {
			continue
		}
		c.typeWord(word)
	}
}

func (c *Coordinator) typeWord(word string) {
	if err := c.typer.TypeWord(word, c.trailingSpace); err != nil {
		c.recordError(fmt.Errorf("type word: %w", err))
		return
	}

	c.typedMu.Lock()
	c.typed = append(c.typed, word)
	c.typedMu.Unlock()

	c.statsMu.Lock()
	c.stats.WordsTyped++
	c.statsMu.Unlock()

	c.sink.WordTyped(word)
}

// CorrectWords retracts the last len(old) typed words and types the
// replacements, keeping the ledger in sync. Best-effort: a failed
// retraction is reported, not retried. No-op when corrections are
// disabled.
func (c *Coordinator) CorrectWords(old, replacement []string) {
	if !c.corrections || len(old) == 0 {
		return
	}

	if err := c.typer.DeleteLastWords(len(old)); err != nil {
		c.recordError(fmt.Errorf("retract words: %w", err))
		return
	}

	c.typedMu.Lock()
	n := len(c.typed) - len(old)
	if n < 0 {
		n = 0
	}
	c.typed = c.typed[:n]
	c.typedMu.Unlock()

	for _, word := range replacement {
		if err := c.typer.TypeWord(word, c.trailingSpace); err != nil {
			c.recordError(fmt.Errorf("type replacement: %w", err))
			continue
		}
		c.typedMu.Lock()
		c.typed = append(c.typed, word)
		c.typedMu.Unlock()
	}

	c.statsMu.Lock()
	c.stats.WordsCorrected += len(old)
	c.statsMu.Unlock()
}

// TypedText returns everything typed this session, space-joined.
func (c *Coordinator) TypedText() string {
	c.typedMu.Lock()
	defer c.typedMu.Unlock()
	return strings.Join(c.typed, " ")
}

// Stats returns a snapshot of the session counters.
func (c *Coordinator) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Coordinator) recordError(err error) {
	c.statsMu.Lock()
	c.stats.Errors++
	c.statsMu.Unlock()
	c.log.Warn("pipeline error", slog.String("error", err.Error()))
	c.sink.PipelineError(err)
}
