package stt

import (
	"fmt"

	"github.com/talkatype/talkatype/internal/config"
)

// New builds an Engine from config.
func New(cfg config.EngineConfig, sampleRate int) (Engine, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockEngine(nil), nil
	case "exec":
		return NewExecEngine(cfg, sampleRate)
	case "native":
		return NewNativeEngine(cfg)
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}
}
