package ledger

import (
	"sync"

	"github.com/rs/zerolog"
)

// Guard tracks whether the exchange contract looks callable. Systematic
// read failures (no deployed code, reverting on every call) trip the guard
// after a fixed number of consecutive failures; once tripped, expensive
// optimistic reads are skipped and callers serve last-known or default
// values. Only an explicit successful probe re-arms it.
//
// This replaces the ad hoc contractErrorCount / contractValid globals the
// behavior descended from: the counter is owned here, zeroed at startup and
// on first success.
type Guard struct {
	mu sync.Mutex

	consecutiveFailures int
	threshold           int
	tripped             bool
	onStateChange       func(tripped bool)

	log zerolog.Logger
}

// DefaultGuardThreshold is the consecutive-failure count that marks the
// ledger invalid.
const DefaultGuardThreshold = 3

func NewGuard(threshold int, log zerolog.Logger) *Guard {
	if threshold <= 0 {
		threshold = DefaultGuardThreshold
	}
	return &Guard{threshold: threshold, log: log}
}

// OnStateChange registers a callback invoked whenever the guard trips or
// re-arms, with the lock held. Used to export the state as a gauge.
func (g *Guard) OnStateChange(fn func(tripped bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onStateChange = fn
}

// Allow reports whether an optimistic contract read should be attempted.
func (g *Guard) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.tripped
}

// Tripped reports whether the ledger is currently marked invalid.
func (g *Guard) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripped
}

// RecordSuccess resets the failure streak and re-arms a tripped guard.
func (g *Guard) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.tripped {
		g.log.Info().Msg("ledger guard re-armed after successful probe")
		if g.onStateChange != nil {
			g.onStateChange(false)
		}
	}
	g.consecutiveFailures = 0
	g.tripped = false
}

// RecordFailure counts one failure; crossing the threshold trips the guard.
func (g *Guard) RecordFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consecutiveFailures++
	if !g.tripped && g.consecutiveFailures >= g.threshold {
		g.tripped = true
		g.log.Warn().
			Int("consecutive_failures", g.consecutiveFailures).
			Msg("ledger guard tripped, suspending optimistic contract reads")
		if g.onStateChange != nil {
			g.onStateChange(true)
		}
	}
}

// Failures returns the current consecutive-failure streak.
func (g *Guard) Failures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consecutiveFailures
}
