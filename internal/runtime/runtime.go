package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/talkatype/talkatype/internal/bus"
	"github.com/talkatype/talkatype/internal/config"
	"github.com/talkatype/talkatype/internal/natsserver"
	"github.com/talkatype/talkatype/internal/notify"
	"github.com/talkatype/talkatype/internal/output"
	"github.com/talkatype/talkatype/internal/protocol"
	"github.com/talkatype/talkatype/internal/sessionstore"
	"github.com/talkatype/talkatype/internal/streaming"
	"github.com/talkatype/talkatype/internal/stt"
)

// Runtime wires the dictation pipeline together: embedded broker, bus
// client, inference engine, output typer, session store, cue notifier,
// and the streaming coordinator, fronted by a small HTTP surface for
// health, metrics, and UI event streaming.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	embedded *natsserver.EmbeddedServer
	client   *bus.Client
	store    *sessionstore.Store
	engine   stt.Engine
	coord    *streaming.Coordinator
	notifier *notify.Notifier
	hub      *eventHub

	sessionMu sync.Mutex
	sessionID string
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the runtime up and blocks until ctx is cancelled, then
// tears everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embedded = embedded

	client, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.embedded.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.client = client

	store, err := sessionstore.Open(ctx, r.cfg.SessionStore, r.logger)
	if err != nil {
		r.client.Close()
		r.embedded.Shutdown()
		return fmt.Errorf("failed to open session store: %w", err)
	}
	r.store = store

	engine, err := stt.New(r.cfg.Engine, r.cfg.Audio.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to build inference engine: %w", err)
	}
	r.engine = engine

	typer, err := output.New(r.cfg.Output)
	if err != nil {
		return fmt.Errorf("failed to build output typer: %w", err)
	}

	r.notifier = notify.New(r.cfg.Notify, r.logger)
	r.hub = newEventHub(r.logger)

	sink := &busSink{
		log:       r.logger,
		client:    r.client,
		hub:       r.hub,
		store:     r.store,
		sessionID: r.currentSession,
	}

	transcriber := streaming.NewTranscriber(engine, streaming.TranscriberConfig{
		ChunkInterval:      time.Duration(r.cfg.Streaming.ChunkIntervalMS) * time.Millisecond,
		BufferDuration:     time.Duration(r.cfg.Streaming.BufferDurationMS) * time.Millisecond,
		MinAudio:           time.Duration(r.cfg.Streaming.MinAudioMS) * time.Millisecond,
		AgreementThreshold: r.cfg.Streaming.AgreementThreshold,
		SampleRate:         r.cfg.Audio.SampleRate,
		Language:           r.cfg.Engine.Language,
		DumpDir:            r.cfg.Streaming.DumpDir,
	}, r.logger)

	r.coord = streaming.NewCoordinator(transcriber, typer, sink, streaming.CoordinatorConfig{
		Corrections:   r.cfg.Streaming.Corrections,
		TrailingSpace: r.cfg.Output.TrailingSpace,
	}, r.logger)

	metricReg, err := registerMetrics(r.coord)
	if err != nil {
		r.logger.Warn("failed to register session metrics", slog.String("error", err.Error()))
	}

	subs, err := r.subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe on bus: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.Handle("/events", r.hub)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("engine", r.cfg.Engine.Mode),
		slog.String("output", r.cfg.Output.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	// An active session is finished cleanly so its last words are typed.
	if r.coord.Active() {
		r.stopSession()
	}

	for _, sub := range subs {
		_ = sub.Drain()
	}
	r.hub.Close()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if metricReg != nil {
		_ = metricReg.Unregister()
	}
	if err := r.engine.Close(); err != nil {
		r.logger.Warn("engine close error", slog.String("error", err.Error()))
	}
	if err := r.store.Close(); err != nil {
		r.logger.Warn("session store close error", slog.String("error", err.Error()))
	}
	r.client.Close()
	r.embedded.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) subscribe() ([]*nats.Subscription, error) {
	conn := r.client.Conn()
	var subs []*nats.Subscription

	startSub, err := conn.Subscribe(protocol.SubjectControlStart, r.handleControlStart)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", protocol.SubjectControlStart, err)
	}
	subs = append(subs, startSub)

	stopSub, err := conn.Subscribe(protocol.SubjectControlStop, r.handleControlStop)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", protocol.SubjectControlStop, err)
	}
	subs = append(subs, stopSub)

	audioSub, err := conn.Subscribe(protocol.SubjectAudioFramePrefix+".>", r.handleAudioFrame)
	if err != nil {
		return nil, fmt.Errorf("subscribe audio frames: %w", err)
	}
	subs = append(subs, audioSub)

	return subs, nil
}

func (r *Runtime) handleControlStart(msg *nats.Msg) {
	var req protocol.ControlStart
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			r.logger.Warn("bad control.start payload", slog.String("error", err.Error()))
			return
		}
	}

	if r.coord.Active() {
		r.logger.Info("session already streaming, ignoring start")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	r.setSession(sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	if err := r.store.BeginSession(ctx, sessionID); err != nil {
		r.logger.Warn("journal session start failed", slog.String("error", err.Error()))
	}
	cancel()

	if err := r.coord.Start(); err != nil {
		r.logger.Error("failed to start session",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return
	}

	r.notifier.SessionStarted()
	r.logger.Info("dictation session started", slog.String("session_id", sessionID))
}

func (r *Runtime) handleControlStop(msg *nats.Msg) {
	var req protocol.ControlStop
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			r.logger.Warn("bad control.stop payload", slog.String("error", err.Error()))
			return
		}
	}
	if req.SessionID != "" && req.SessionID != r.currentSession() {
		r.logger.Info("stop for unknown session ignored", slog.String("session_id", req.SessionID))
		return
	}
	r.stopSession()
}

func (r *Runtime) stopSession() {
	sessionID := r.currentSession()
	if sessionID == "" {
		return
	}

	r.coord.Stop()
	stats := r.coord.Stats()
	r.notifier.SessionStopped()

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	if err := r.store.FinishSession(ctx, sessionID,
		stats.WordsTyped, stats.WordsCorrected, stats.ChunksProcessed, stats.Errors,
		stats.WordsPerMinute()); err != nil {
		r.logger.Warn("journal session finish failed", slog.String("error", err.Error()))
	}
	cancel()

	r.logger.Info("dictation session finished",
		slog.String("session_id", sessionID),
		slog.Int("words_typed", stats.WordsTyped),
		slog.Duration("elapsed", stats.Elapsed()))
	r.setSession("")
}

func (r *Runtime) handleAudioFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		r.logger.Warn("bad audio frame", slog.String("error", err.Error()))
		return
	}
	if frame.SampleRate != 0 && frame.SampleRate != r.cfg.Audio.SampleRate {
		r.logger.Warn("audio frame sample rate mismatch",
			slog.Int("got", frame.SampleRate),
			slog.Int("want", r.cfg.Audio.SampleRate))
		return
	}
	r.coord.FeedAudio(frame.Samples)
}

func (r *Runtime) setSession(id string) {
	r.sessionMu.Lock()
	r.sessionID = id
	r.sessionMu.Unlock()
}

func (r *Runtime) currentSession() string {
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()
	return r.sessionID
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.client.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
