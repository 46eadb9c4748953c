// Package output abstracts keystroke injection into the focused window.
// The daemon never talks to the OS input layer directly; it drives an
// external command (wtype, xdotool, ydotool) per word.
package output

import (
	"fmt"

	"github.com/talkatype/talkatype/internal/config"
)

// Typer emits confirmed words into the active text field and retracts
// them for corrections. DeleteLastWords is best-effort: the focused
// application may not support word-aware deletion.
type Typer interface {
	TypeWord(word string, trailingSpace bool) error
	DeleteLastWords(n int) error
}

// New builds a Typer from config.
func New(cfg config.OutputConfig) (Typer, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecTyper(cfg)
	case "null":
		return NullTyper{}, nil
	default:
		return nil, fmt.Errorf("unknown output mode %q", cfg.Mode)
	}
}

// NullTyper discards all output. Useful for dry runs and tests.
type NullTyper struct{}

func (NullTyper) TypeWord(string, bool) error { return nil }
func (NullTyper) DeleteLastWords(int) error   { return nil }
