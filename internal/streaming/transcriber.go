package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talkatype/talkatype/internal/agreement"
	"github.com/talkatype/talkatype/internal/audio"
	"github.com/talkatype/talkatype/internal/stt"
)

const (
	// passTimeout bounds a single inference invocation.
	passTimeout = 30 * time.Second
	// joinTimeout bounds the wait for the driver loop on Stop. A wedged
	// inference call must not hang the whole application; shutdown
	// proceeds regardless and the final pass is skipped.
	joinTimeout = 2 * time.Second
)

// TranscriberConfig carries the streaming knobs. Zero values fall back
// to the documented defaults.
type TranscriberConfig struct {
	ChunkInterval      time.Duration // cadence between passes, default 1s
	BufferDuration     time.Duration // ring capacity, default 5s
	MinAudio           time.Duration // skip passes below this, default 500ms
	AgreementThreshold int           // consecutive agreeing passes, default 2
	SampleRate         int           // default 16000
	Language           string        // empty = auto-detect
	DumpDir            string        // write the final window as WAV when set
}

func (c *TranscriberConfig) applyDefaults() {
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = time.Second
	}
	if c.BufferDuration <= 0 {
		c.BufferDuration = 5 * time.Second
	}
	if c.MinAudio <= 0 {
		c.MinAudio = 500 * time.Millisecond
	}
	if c.AgreementThreshold < 1 {
		c.AgreementThreshold = 2
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
}

// session owns everything belonging to one dictation session: the audio
// ring, the agreement policy, the event channel and the driver loop's
// control channels. The loop only ever touches its own session, so a
// loop wedged inside an inference call can never observe or pollute a
// later session's state.
type session struct {
	ring   *audio.Ring
	policy *agreement.Policy
	events chan Event
	stopC  chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	confirmed []string
	passes    int
}

func (s *session) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.confirmed, " ")
}

// Transcriber drives repeated inference passes over a rolling audio
// window and feeds the results through the agreement policy. Confirmed
// and tentative words are emitted as Events on a single ordered channel
// per session; the channel is closed after the final pass on Stop.
type Transcriber struct {
	log    *slog.Logger
	engine stt.Engine
	cfg    TranscriberConfig

	running atomic.Bool

	mu   sync.Mutex
	sess *session
}

func NewTranscriber(engine stt.Engine, cfg TranscriberConfig, log *slog.Logger) *Transcriber {
	cfg.applyDefaults()
	return &Transcriber{
		log:    log,
		engine: engine,
		cfg:    cfg,
	}
}

// Start allocates fresh per-session state and launches the driver loop.
// Calling Start while running is a no-op.
func (t *Transcriber) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return nil
	}
	if t.engine == nil {
		return errors.New("no inference engine configured")
	}

	s := &session{
		ring:   audio.NewRing(t.cfg.BufferDuration, t.cfg.SampleRate),
		policy: agreement.NewPolicy(t.cfg.AgreementThreshold),
		events: make(chan Event, 64),
		stopC:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	t.sess = s
	t.running.Store(true)

	go t.loop(s)
	return nil
}

// Events returns the current session's event channel. The caller must
// drain it until it is closed; the driver loop blocks once the buffer
// fills. Nil before the first Start.
func (t *Transcriber) Events() <-chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil {
		return nil
	}
	return t.sess.events
}

// FeedAudio appends captured samples to the current session's rolling
// window. Safe to call concurrently with the driver loop; a no-op when
// not running.
func (t *Transcriber) FeedAudio(samples []float32) {
	if !t.running.Load() {
		return
	}
	t.mu.Lock()
	s := t.sess
	t.mu.Unlock()
	if s != nil {
		s.ring.Append(samples)
	}
}

// Stop signals the driver loop, joins it with a bounded wait, then runs
// exactly one final pass confirming every remaining word unconditionally.
// It returns the full confirmed text and the unconfirmed remainder, which
// is empty by construction when the final pass ran. If the loop fails to
// join within the timeout the final pass is skipped and the event channel
// is closed only once the wedged loop finally exits. Safe to call when
// not running; it then reports the most recent session's state.
func (t *Transcriber) Stop() (string, []string) {
	t.mu.Lock()
	s := t.sess
	if s == nil {
		t.mu.Unlock()
		return "", nil
	}
	if !t.running.Load() {
		t.mu.Unlock()
		return s.text(), s.policy.Tentative()
	}
	t.running.Store(false)
	close(s.stopC)
	t.mu.Unlock()

	select {
	case <-s.done:
		t.finalPass(s)
		close(s.events)
	case <-time.After(joinTimeout):
		t.log.Warn("driver loop did not stop in time, proceeding with shutdown")
		// The in-flight pass may still write events; close the channel
		// only after the loop has actually exited so its consumer can
		// drain and terminate.
		go func() {
			<-s.done
			close(s.events)
		}()
	}

	return s.text(), s.policy.Tentative()
}

// ConfirmedWords returns a copy of the current session's confirmed-word
// ledger.
func (t *Transcriber) ConfirmedWords() []string {
	t.mu.Lock()
	s := t.sess
	t.mu.Unlock()
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.confirmed...)
}

// TentativeText returns the current unconfirmed suffix as display text.
func (t *Transcriber) TentativeText() string {
	t.mu.Lock()
	s := t.sess
	t.mu.Unlock()
	if s == nil {
		return ""
	}
	return strings.Join(s.policy.Tentative(), " ")
}

// Passes reports how many inference passes have run this session.
func (t *Transcriber) Passes() int {
	t.mu.Lock()
	s := t.sess
	t.mu.Unlock()
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}

func (t *Transcriber) loop(s *session) {
	defer close(s.done)

	ticker := time.NewTicker(t.cfg.ChunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopC:
			return
		case <-ticker.C:
			if s.ring.Duration() < t.cfg.MinAudio {
				continue
			}
			t.processPass(s)
		}
	}
}

// processPass re-transcribes the entire current window. One failed pass
// is reported and swallowed; the loop keeps its cadence.
func (t *Transcriber) processPass(s *session) {
	window := s.ring.Snapshot()
	if len(window) == 0 {
		return
	}

	s.mu.Lock()
	s.passes++
	pass := s.passes
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()

	words, err := t.engine.Transcribe(ctx, window, t.cfg.Language)
	if err != nil {
		s.events <- Event{Kind: EventError, Err: fmt.Errorf("pass %d: %w", pass, err)}
		return
	}

	tokens := stt.Tokens(words)
	newly := s.policy.AddPass(tokens)
	if len(newly) > 0 {
		s.mu.Lock()
		s.confirmed = append(s.confirmed, newly...)
		s.mu.Unlock()
		s.events <- Event{Kind: EventConfirmed, Words: newly}
	}
	s.events <- Event{Kind: EventTentative, Text: strings.Join(s.policy.Tentative(), " ")}
}

// finalPass runs after the loop has exited. No more passes are coming,
// so everything beyond the confirmed count is confirmed unconditionally.
func (t *Transcriber) finalPass(s *session) {
	window := s.ring.Snapshot()
	if len(window) == 0 {
		return
	}

	if t.cfg.DumpDir != "" {
		if err := audio.DumpWav(t.cfg.DumpDir, window, t.cfg.SampleRate); err != nil {
			t.log.Warn("failed to dump session audio", slog.String("error", err.Error()))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()

	words, err := t.engine.Transcribe(ctx, window, t.cfg.Language)
	if err != nil {
		s.events <- Event{Kind: EventError, Err: fmt.Errorf("final pass: %w", err)}
		return
	}

	remaining := s.policy.ConfirmAll(stt.Tokens(words))
	if len(remaining) > 0 {
		s.mu.Lock()
		s.confirmed = append(s.confirmed, remaining...)
		s.mu.Unlock()
		s.events <- Event{Kind: EventConfirmed, Words: remaining}
	}
}
