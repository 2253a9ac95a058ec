package ledger_test

import (
	"testing"

	"github.com/rs/zerolog"

	"perpkeeper/internal/ledger"
)

// ============================================================================
// Test: Guard
// ============================================================================

func TestGuard_TripsAtThreshold(t *testing.T) {
	g := ledger.NewGuard(3, zerolog.Nop())

	g.RecordFailure()
	g.RecordFailure()
	if g.Tripped() {
		t.Fatal("guard tripped before threshold")
	}
	if !g.Allow() {
		t.Fatal("guard should still allow reads below threshold")
	}

	g.RecordFailure()
	if !g.Tripped() {
		t.Fatal("guard should trip at threshold")
	}
	if g.Allow() {
		t.Fatal("tripped guard must block reads")
	}
}

func TestGuard_SuccessResetsStreak(t *testing.T) {
	g := ledger.NewGuard(3, zerolog.Nop())

	g.RecordFailure()
	g.RecordFailure()
	g.RecordSuccess()
	if g.Failures() != 0 {
		t.Errorf("failures = %d, want 0 after success", g.Failures())
	}

	// A fresh streak is needed to trip.
	g.RecordFailure()
	g.RecordFailure()
	if g.Tripped() {
		t.Error("guard tripped on interrupted streak")
	}
}

func TestGuard_RearmsOnSuccess(t *testing.T) {
	g := ledger.NewGuard(2, zerolog.Nop())
	g.RecordFailure()
	g.RecordFailure()
	if !g.Tripped() {
		t.Fatal("guard should be tripped")
	}

	g.RecordSuccess()
	if g.Tripped() {
		t.Error("successful probe must re-arm the guard")
	}
	if !g.Allow() {
		t.Error("re-armed guard must allow reads")
	}
}

func TestGuard_DefaultThreshold(t *testing.T) {
	g := ledger.NewGuard(0, zerolog.Nop())
	for i := 0; i < ledger.DefaultGuardThreshold-1; i++ {
		g.RecordFailure()
	}
	if g.Tripped() {
		t.Fatal("tripped before default threshold")
	}
	g.RecordFailure()
	if !g.Tripped() {
		t.Fatal("should trip at default threshold")
	}
}

func TestGuard_StateChangeCallback(t *testing.T) {
	g := ledger.NewGuard(1, zerolog.Nop())

	var states []bool
	g.OnStateChange(func(tripped bool) {
		states = append(states, tripped)
	})

	g.RecordFailure()
	g.RecordSuccess()
	g.RecordSuccess() // already armed, no extra callback

	if len(states) != 2 || states[0] != true || states[1] != false {
		t.Errorf("callback sequence = %v, want [true false]", states)
	}
}
