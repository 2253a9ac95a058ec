package risk

import (
	"sync"

	"perpkeeper/internal/event"
	"perpkeeper/internal/ledger"
	"perpkeeper/internal/observability"
)

// Tracker maintains the set of traders worth checking for liquidation. It
// is fed from the event bus: any event that touches an account adds its
// addresses, and the monitor prunes addresses once their positions are
// confirmed flat.
type Tracker struct {
	mu      sync.RWMutex
	traders map[string]struct{}
	metrics *observability.Metrics
}

func NewTracker(metrics *observability.Metrics) *Tracker {
	return &Tracker{
		traders: make(map[string]struct{}),
		metrics: metrics,
	}
}

// HandleEvent implements ingestion.Sink. Only order placement and trade
// execution grow the set; every other event leaves membership alone, and
// removal belongs exclusively to the liquidation monitor.
func (t *Tracker) HandleEvent(ev event.Event) {
	switch ev.EventType() {
	case event.TypeOrderPlaced, event.TypeTradeExecuted:
		for _, trader := range ev.Traders() {
			t.Add(trader)
		}
	}
}

func (t *Tracker) Add(trader string) {
	trader = ledger.NormalizeAddress(trader)
	if trader == "" || ledger.IsZeroAddress(trader) {
		return
	}

	t.mu.Lock()
	t.traders[trader] = struct{}{}
	n := len(t.traders)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.ActiveTraders.Set(float64(n))
	}
}

func (t *Tracker) Remove(trader string) {
	trader = ledger.NormalizeAddress(trader)

	t.mu.Lock()
	delete(t.traders, trader)
	n := len(t.traders)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.ActiveTraders.Set(float64(n))
	}
}

func (t *Tracker) Contains(trader string) bool {
	trader = ledger.NormalizeAddress(trader)
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.traders[trader]
	return ok
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.traders)
}

// Snapshot returns the tracked addresses in no particular order.
func (t *Tracker) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.traders))
	for trader := range t.traders {
		out = append(out, trader)
	}
	return out
}
