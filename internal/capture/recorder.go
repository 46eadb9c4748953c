package capture

import (
	"context"
	"fmt"
	"math"

	"github.com/gordonklaus/portaudio"

	"github.com/talkatype/talkatype/internal/config"
)

// Recorder reads mono float32 frames from the default input device and
// hands them to a callback together with their RMS level.
type Recorder struct {
	cfg       config.AudioConfig
	frameSize int
}

func NewRecorder(cfg config.AudioConfig) *Recorder {
	return &Recorder{
		cfg:       cfg,
		frameSize: cfg.SampleRate * cfg.FrameDurationMS / 1000,
	}
}

// Init prepares the audio backend. Must be paired with Close.
func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// Stream captures frames until ctx is cancelled or the callback returns
// an error. The callback owns the slice only for the duration of the
// call; it must copy samples it wants to keep.
func (r *Recorder) Stream(ctx context.Context, fn func(samples []float32, level float64) error) error {
	buf := make([]float32, r.frameSize)

	stream, err := portaudio.OpenDefaultStream(r.cfg.Channels, 0, float64(r.cfg.SampleRate), len(buf), buf)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start input stream: %w", err)
	}
	defer stream.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := stream.Read(); err != nil {
			return fmt.Errorf("read input stream: %w", err)
		}
		if err := fn(buf, frameRMS(buf)); err != nil {
			return err
		}
	}
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
