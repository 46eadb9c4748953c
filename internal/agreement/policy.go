// Package agreement implements the local-agreement consensus policy for
// streaming transcription: a word becomes confirmed once it appears
// identically, at the same position, across the last K consecutive passes.
// Confirmed words are never retracted.
package agreement

import "sync"

// Policy tracks a bounded history of transcription passes and a running
// confirmed-word count. All methods are safe for concurrent use, though
// in practice only the driver loop mutates it.
type Policy struct {
	mu        sync.Mutex
	threshold int
	history   [][]string
	confirmed int
}

// NewPolicy creates a policy that confirms words after threshold
// consecutive agreeing passes. Thresholds below 1 are clamped to 1.
func NewPolicy(threshold int) *Policy {
	if threshold < 1 {
		threshold = 1
	}
	return &Policy{threshold: threshold}
}

// AddPass records the token sequence of one transcription pass and
// returns the words newly confirmed by it, in order. Until the history
// holds threshold passes nothing is confirmed. A pass shorter than the
// confirmed count can never un-confirm words; it only stalls new
// confirmations until parity returns.
func (p *Policy) AddPass(words []string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = append(p.history, append([]string(nil), words...))
	if len(p.history) > p.threshold {
		p.history = p.history[len(p.history)-p.threshold:]
	}
	if len(p.history) < p.threshold {
		return nil
	}

	agreed := p.commonPrefix()
	if len(agreed) <= p.confirmed {
		return nil
	}
	newly := append([]string(nil), agreed[p.confirmed:]...)
	p.confirmed = len(agreed)
	return newly
}

// commonPrefix computes the longest token prefix shared by every pass in
// the history. Caller holds p.mu.
func (p *Policy) commonPrefix() []string {
	if len(p.history) == 0 {
		return nil
	}
	minLen := len(p.history[0])
	for _, pass := range p.history[1:] {
		if len(pass) < minLen {
			minLen = len(pass)
		}
	}
	var agreed []string
	for i := 0; i < minLen; i++ {
		w := p.history[0][i]
		match := true
		for _, pass := range p.history[1:] {
			if pass[i] != w {
				match = false
				break
			}
		}
		if !match {
			break
		}
		agreed = append(agreed, w)
	}
	return agreed
}

// ConfirmAll accepts the token sequence of the final pass and confirms
// everything beyond the current confirmed count unconditionally. Used
// exactly once, at session stop, when no further passes will arrive.
func (p *Policy) ConfirmAll(words []string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(words) <= p.confirmed {
		return nil
	}
	remaining := append([]string(nil), words[p.confirmed:]...)
	p.confirmed = len(words)
	p.history = append(p.history[:0], append([]string(nil), words...))
	return remaining
}

// Tentative returns the suffix of the most recent pass beyond the
// confirmed count. Informational only; recomputed from the latest pass.
func (p *Policy) Tentative() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.history) == 0 {
		return nil
	}
	latest := p.history[len(p.history)-1]
	if len(latest) <= p.confirmed {
		return nil
	}
	return append([]string(nil), latest[p.confirmed:]...)
}

// ConfirmedCount returns how many words have been confirmed this session.
func (p *Policy) ConfirmedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confirmed
}

// Reset clears the history and confirmed count for a new session.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = nil
	p.confirmed = 0
}
