package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"perpkeeper/internal/event"
	"perpkeeper/internal/observability"
)

// Sink receives typed events from the feed. Sinks must be fast and
// non-blocking; slow consumers back up the ingest channel.
type Sink interface {
	HandleEvent(ev event.Event)
}

// Feed drains raw events from the bus channel, parses them into typed
// events, and fans them out to the registered sinks. A message is ACKed
// once every sink has seen it; unparseable payloads are ACKed too, since
// redelivery cannot fix a malformed event.
type Feed struct {
	eventChan <-chan RawEvent
	sinks     []Sink
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewFeed(eventChan <-chan RawEvent, metrics *observability.Metrics, log zerolog.Logger, sinks ...Sink) *Feed {
	return &Feed{
		eventChan: eventChan,
		sinks:     sinks,
		metrics:   metrics,
		log:       log,
	}
}

// Run blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-f.eventChan:
			if !ok {
				return
			}
			f.dispatch(raw)
		}
	}
}

func (f *Feed) dispatch(raw RawEvent) {
	name := event.NameFromSubject(raw.Subject)
	ev, err := event.Parse(name, raw.Data)
	if err != nil {
		f.metrics.EventsMalformed.Inc()
		f.log.Error().Err(err).Str("subject", raw.Subject).Msg("drop malformed event")
		if raw.AckFunc != nil {
			raw.AckFunc()
		}
		return
	}
	f.metrics.EventsIngested.WithLabelValues(name).Inc()

	for _, s := range f.sinks {
		s.HandleEvent(ev)
	}
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}

// Trade is one executed match, as served to API consumers.
type Trade struct {
	Price     string    `json:"price"`
	Amount    string    `json:"amount"`
	Side      string    `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// RecentTrades keeps the newest executed trades in memory, newest first.
// It backs the trades API when the read replica is unreachable.
type RecentTrades struct {
	mu     sync.RWMutex
	trades []Trade
	cap    int
}

const DefaultRecentTradesCap = 50

func NewRecentTrades(capacity int) *RecentTrades {
	if capacity <= 0 {
		capacity = DefaultRecentTradesCap
	}
	return &RecentTrades{cap: capacity}
}

// HandleEvent implements Sink; only TradeExecuted events are recorded.
func (rt *RecentTrades) HandleEvent(ev event.Event) {
	te, ok := ev.(*event.TradeExecuted)
	if !ok {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.trades = append([]Trade{{
		Price:     te.Price.String(),
		Amount:    te.Amount.String(),
		Side:      te.Side(),
		Timestamp: te.Timestamp,
	}}, rt.trades...)
	if len(rt.trades) > rt.cap {
		rt.trades = rt.trades[:rt.cap]
	}
}

// Snapshot returns up to limit trades, newest first.
func (rt *RecentTrades) Snapshot(limit int) []Trade {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if limit <= 0 || limit > len(rt.trades) {
		limit = len(rt.trades)
	}
	out := make([]Trade, limit)
	copy(out, rt.trades[:limit])
	return out
}
