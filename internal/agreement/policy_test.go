package agreement

import (
	"reflect"
	"testing"
)

func TestConfirmsAfterThresholdPasses(t *testing.T) {
	p := NewPolicy(2)

	if got := p.AddPass([]string{"hello"}); len(got) != 0 {
		t.Fatalf("single pass must not confirm, got %v", got)
	}
	got := p.AddPass([]string{"hello", "world"})
	if !reflect.DeepEqual(got, []string{"hello"}) {
		t.Fatalf("expected [hello] confirmed after pass 2, got %v", got)
	}
	got = p.AddPass([]string{"hello", "world", "today"})
	if !reflect.DeepEqual(got, []string{"world"}) {
		t.Fatalf("expected [world] confirmed after pass 3, got %v", got)
	}
	if tent := p.Tentative(); !reflect.DeepEqual(tent, []string{"today"}) {
		t.Fatalf("expected [today] tentative, got %v", tent)
	}
	if n := p.ConfirmedCount(); n != 2 {
		t.Fatalf("expected confirmed count 2, got %d", n)
	}
}

func TestDisagreementStallsConfirmation(t *testing.T) {
	p := NewPolicy(2)
	p.AddPass([]string{"go", "now"})
	got := p.AddPass([]string{"go", "later"})
	if !reflect.DeepEqual(got, []string{"go"}) {
		t.Fatalf("expected only [go] confirmed on disagreement, got %v", got)
	}
	// Agreement resumes.
	got = p.AddPass([]string{"go", "later"})
	if !reflect.DeepEqual(got, []string{"later"}) {
		t.Fatalf("expected [later] after agreement resumes, got %v", got)
	}
}

func TestShrinkingPassNeverRetracts(t *testing.T) {
	p := NewPolicy(2)
	p.AddPass([]string{"one", "two", "three"})
	p.AddPass([]string{"one", "two", "three"})
	if n := p.ConfirmedCount(); n != 3 {
		t.Fatalf("expected 3 confirmed, got %d", n)
	}

	// Engine dropped words; no new confirmations, no retractions.
	if got := p.AddPass([]string{"one"}); len(got) != 0 {
		t.Fatalf("shrinking pass must not confirm, got %v", got)
	}
	if n := p.ConfirmedCount(); n != 3 {
		t.Fatalf("confirmed count must not shrink, got %d", n)
	}

	// Still stalled until parity returns.
	if got := p.AddPass([]string{"one", "two"}); len(got) != 0 {
		t.Fatalf("below-parity pass must not confirm, got %v", got)
	}
	p.AddPass([]string{"one", "two", "three", "four"})
	got := p.AddPass([]string{"one", "two", "three", "four"})
	if !reflect.DeepEqual(got, []string{"four"}) {
		t.Fatalf("expected [four] once parity returns, got %v", got)
	}
}

func TestHighThresholdNeedsFullHistory(t *testing.T) {
	p := NewPolicy(3)
	p.AddPass([]string{"a", "b"})
	p.AddPass([]string{"a", "b"})
	if n := p.ConfirmedCount(); n != 0 {
		t.Fatalf("two passes must not confirm with K=3, got %d", n)
	}
	got := p.AddPass([]string{"a", "c"})
	if !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("expected [a] with K=3 and trailing disagreement, got %v", got)
	}
}

func TestReadsAreIdempotent(t *testing.T) {
	p := NewPolicy(2)
	p.AddPass([]string{"x", "y"})
	p.AddPass([]string{"x", "y", "z"})

	first := p.Tentative()
	for i := 0; i < 3; i++ {
		if got := p.Tentative(); !reflect.DeepEqual(got, first) {
			t.Fatalf("Tentative changed between reads: %v vs %v", first, got)
		}
		if p.ConfirmedCount() != 2 {
			t.Fatalf("ConfirmedCount changed between reads")
		}
	}
}

func TestConfirmAll(t *testing.T) {
	p := NewPolicy(2)
	p.AddPass([]string{"go"})
	p.AddPass([]string{"go", "later"})
	if n := p.ConfirmedCount(); n != 1 {
		t.Fatalf("expected 1 confirmed before final pass, got %d", n)
	}

	remaining := p.ConfirmAll([]string{"go", "later"})
	if !reflect.DeepEqual(remaining, []string{"later"}) {
		t.Fatalf("expected [later] from final pass, got %v", remaining)
	}
	if n := p.ConfirmedCount(); n != 2 {
		t.Fatalf("expected all confirmed after final pass, got %d", n)
	}
	if tent := p.Tentative(); len(tent) != 0 {
		t.Fatalf("expected empty tentative after final pass, got %v", tent)
	}
}

func TestConfirmAllWithShorterFinalPass(t *testing.T) {
	p := NewPolicy(2)
	p.AddPass([]string{"a", "b", "c"})
	p.AddPass([]string{"a", "b", "c"})

	if got := p.ConfirmAll([]string{"a", "b"}); len(got) != 0 {
		t.Fatalf("final pass shorter than confirmed count must add nothing, got %v", got)
	}
	if n := p.ConfirmedCount(); n != 3 {
		t.Fatalf("confirmed count must not shrink on final pass, got %d", n)
	}
}

func TestReset(t *testing.T) {
	p := NewPolicy(2)
	p.AddPass([]string{"a"})
	p.AddPass([]string{"a"})
	p.Reset()
	if p.ConfirmedCount() != 0 || len(p.Tentative()) != 0 {
		t.Fatal("expected empty state after reset")
	}
	if got := p.AddPass([]string{"b"}); len(got) != 0 {
		t.Fatalf("first pass after reset must not confirm, got %v", got)
	}
}

func TestPassInputIsCopied(t *testing.T) {
	p := NewPolicy(2)
	pass := []string{"mut", "able"}
	p.AddPass(pass)
	pass[0] = "changed"
	got := p.AddPass([]string{"mut", "able"})
	if !reflect.DeepEqual(got, []string{"mut", "able"}) {
		t.Fatalf("policy must copy pass input, got %v", got)
	}
}
