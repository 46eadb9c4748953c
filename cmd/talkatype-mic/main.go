package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/talkatype/talkatype/internal/bus"
	"github.com/talkatype/talkatype/internal/capture"
	"github.com/talkatype/talkatype/internal/config"
	"github.com/talkatype/talkatype/internal/protocol"
)

var version = "0.1.0-dev"

// talkatype-mic is the push-to-talk capture client. It opens the
// default microphone, starts a dictation session on the daemon, and
// streams audio frames over the bus until interrupted.
func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "talkatype.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Error("capture client exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	client, err := bus.Connect(ctx, cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	recorder := capture.NewRecorder(cfg.Audio)
	if err := recorder.Init(); err != nil {
		return fmt.Errorf("init audio backend: %w", err)
	}
	defer recorder.Close()

	sessionID := uuid.NewString()
	conn := client.Conn()

	startPayload, err := json.Marshal(protocol.ControlStart{SessionID: sessionID})
	if err != nil {
		return err
	}
	if err := conn.Publish(protocol.SubjectControlStart, startPayload); err != nil {
		return fmt.Errorf("publish session start: %w", err)
	}
	logger.Info("dictation session started, speak now",
		slog.String("session_id", sessionID))

	// Stop is announced even when capture fails, so the daemon always
	// finishes the session.
	defer func() {
		stopPayload, err := json.Marshal(protocol.ControlStop{SessionID: sessionID})
		if err != nil {
			return
		}
		if err := conn.Publish(protocol.SubjectControlStop, stopPayload); err != nil {
			logger.Warn("publish session stop failed", slog.String("error", err.Error()))
		}
		conn.Flush()
		logger.Info("dictation session stopped", slog.String("session_id", sessionID))
	}()

	subject := protocol.SubjectAudioFramePrefix + "." + sessionID
	sequence := 0

	return recorder.Stream(ctx, func(samples []float32, level float64) error {
		frame := protocol.AudioFrame{
			SessionID:  sessionID,
			Sequence:   sequence,
			SampleRate: cfg.Audio.SampleRate,
			Samples:    samples,
			Level:      level,
		}
		sequence++

		payload, err := json.Marshal(frame)
		if err != nil {
			return fmt.Errorf("marshal audio frame: %w", err)
		}
		if err := conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("publish audio frame: %w", err)
		}
		return nil
	})
}
