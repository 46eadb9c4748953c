package protocol

import "time"

// AudioFrame carries PCM audio from the capture client to the daemon.
// Samples are mono float32 in [-1, 1] at the configured rate.
type AudioFrame struct {
	SessionID  string    `json:"session_id"`
	Sequence   int       `json:"sequence"`
	SampleRate int       `json:"sample_rate"`
	Samples    []float32 `json:"samples"`
	Level      float64   `json:"level,omitempty"`
}

// StateChange announces a coordinator state transition for UI clients.
type StateChange struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// TentativeUpdate carries the not-yet-confirmed suffix of the latest pass.
type TentativeUpdate struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// WordTyped reports a word emitted into the focused window.
type WordTyped struct {
	SessionID string    `json:"session_id"`
	Word      string    `json:"word"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionError surfaces a non-fatal pipeline failure.
type SessionError struct {
	SessionID string    `json:"session_id"`
	Cause     string    `json:"cause"`
	Timestamp time.Time `json:"timestamp"`
}

// ControlStart asks the daemon to open a dictation session. An empty
// SessionID lets the daemon assign one.
type ControlStart struct {
	SessionID string `json:"session_id,omitempty"`
}

// ControlStop asks the daemon to finish the current session.
type ControlStop struct {
	SessionID string `json:"session_id,omitempty"`
}

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectControlStart     = "dictation.control.start"
	SubjectControlStop      = "dictation.control.stop"
	SubjectState            = "dictation.state"
	SubjectTentative        = "dictation.tentative"
	SubjectWordTyped        = "dictation.word"
	SubjectError            = "dictation.error"
)
