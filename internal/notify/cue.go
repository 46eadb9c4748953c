package notify

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	beepwav "github.com/faiface/beep/wav"

	"github.com/talkatype/talkatype/internal/config"
)

// Notifier plays short audio cues around session boundaries so the user
// knows when dictation is live. All failures are logged and swallowed;
// a missing cue never blocks the pipeline.
type Notifier struct {
	log *slog.Logger
	cfg config.NotifyConfig

	mu          sync.Mutex
	speakerRate beep.SampleRate
}

func New(cfg config.NotifyConfig, log *slog.Logger) *Notifier {
	return &Notifier{log: log, cfg: cfg}
}

// SessionStarted plays the start cue, if configured.
func (n *Notifier) SessionStarted() {
	n.play(n.cfg.StartCue)
}

// SessionStopped plays the stop cue, if configured.
func (n *Notifier) SessionStopped() {
	n.play(n.cfg.StopCue)
}

func (n *Notifier) play(path string) {
	if n == nil || !n.cfg.Enabled || path == "" {
		return
	}
	if err := n.playFile(path); err != nil {
		n.log.Warn("audio cue failed",
			slog.String("cue", path),
			slog.String("error", err.Error()))
	}
}

func (n *Notifier) playFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open cue: %w", err)
	}
	defer f.Close()

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = beepwav.Decode(f)
	default:
		return fmt.Errorf("unsupported cue format %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("decode cue: %w", err)
	}
	defer streamer.Close()

	n.mu.Lock()
	defer n.mu.Unlock()

	// The speaker is global; initialize once and resample later cues to
	// the first cue's rate.
	if n.speakerRate == 0 {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			return fmt.Errorf("init speaker: %w", err)
		}
		n.speakerRate = format.SampleRate
	}

	var source beep.Streamer = streamer
	if format.SampleRate != n.speakerRate {
		source = beep.Resample(4, format.SampleRate, n.speakerRate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(source, beep.Callback(func() {
		close(done)
	})))
	<-done
	return nil
}
