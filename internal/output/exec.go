package output

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/talkatype/talkatype/internal/config"
)

// execTyper shells out per word. The type command receives the text as
// its final argument; the delete command receives the word count. A
// mutex serializes invocations so keystrokes never interleave.
type execTyper struct {
	typeCmd   []string
	deleteCmd []string
	mu        sync.Mutex
}

func NewExecTyper(cfg config.OutputConfig) (Typer, error) {
	parser := shellwords.NewParser()
	typeCmd, err := parser.Parse(cfg.TypeCommand)
	if err != nil {
		return nil, fmt.Errorf("parse type command: %w", err)
	}
	if len(typeCmd) == 0 {
		return nil, fmt.Errorf("type command is empty")
	}
	var deleteCmd []string
	if cfg.DeleteCommand != "" {
		deleteCmd, err = parser.Parse(cfg.DeleteCommand)
		if err != nil {
			return nil, fmt.Errorf("parse delete command: %w", err)
		}
	}
	return &execTyper{typeCmd: typeCmd, deleteCmd: deleteCmd}, nil
}

func (t *execTyper) TypeWord(word string, trailingSpace bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	text := word
	if trailingSpace {
		text += " "
	}
	return t.run(t.typeCmd, text)
}

func (t *execTyper) DeleteLastWords(n int) error {
	if n <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.deleteCmd) == 0 {
		return fmt.Errorf("no delete command configured")
	}
	return t.run(t.deleteCmd, strconv.Itoa(n))
}

func (t *execTyper) run(cmd []string, arg string) error {
	args := append(append([]string{}, cmd[1:]...), arg)
	command := exec.Command(cmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return fmt.Errorf("output command failed: %w: %s", err, stderr.String())
	}
	return nil
}
