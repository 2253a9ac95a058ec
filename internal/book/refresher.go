package book

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"perpkeeper/internal/ledger"
	fixed "perpkeeper/internal/math"
	"perpkeeper/internal/observability"
)

// PriceReader reads the oracle-fed prices from the gateway.
type PriceReader interface {
	MarkPrice(ctx context.Context) (*big.Int, error)
	IndexPrice(ctx context.Context) (*big.Int, error)
}

// GatewayReader is everything one refresh cycle reads.
type GatewayReader interface {
	BookReader
	PriceReader
}

const DefaultRefreshInterval = 2 * time.Second

// Refresher rebuilds and republishes the book view on a fixed cadence.
// Read failures feed the validity guard; once it trips, cycles are skipped
// until a successful contract probe re-arms it.
type Refresher struct {
	reader   GatewayReader
	guard    *ledger.Guard
	view     *View
	interval time.Duration
	metrics  *observability.Metrics
	log      zerolog.Logger

	// onPublish, when set, is called with each new snapshot (used to fan
	// out to websocket subscribers).
	onPublish func(*Snapshot)
}

func NewRefresher(reader GatewayReader, guard *ledger.Guard, view *View, interval time.Duration, metrics *observability.Metrics, log zerolog.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Refresher{
		reader:   reader,
		guard:    guard,
		view:     view,
		interval: interval,
		metrics:  metrics,
		log:      log,
	}
}

func (r *Refresher) OnPublish(fn func(*Snapshot)) {
	r.onPublish = fn
}

// Run refreshes immediately, then on every tick, until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Refresher) cycle(ctx context.Context) {
	if !r.guard.Allow() {
		r.metrics.BookRefreshTotal.WithLabelValues("skipped").Inc()
		return
	}

	start := time.Now()
	snapshot, err := r.Refresh(ctx)
	r.metrics.BookRefreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		r.guard.RecordFailure()
		r.metrics.BookRefreshTotal.WithLabelValues("error").Inc()
		r.log.Error().Err(err).Msg("book refresh failed")
		return
	}
	r.guard.RecordSuccess()
	r.metrics.BookRefreshTotal.WithLabelValues("ok").Inc()
	r.metrics.FundingRate.Set(snapshot.FundingRate)

	r.view.Publish(snapshot)
	if r.onPublish != nil {
		r.onPublish(snapshot)
	}
}

// Refresh performs one full reconstruction and returns the new snapshot
// without publishing it.
func (r *Refresher) Refresh(ctx context.Context) (*Snapshot, error) {
	markPrice, err := r.reader.MarkPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("mark price: %w", err)
	}
	indexPrice, err := r.reader.IndexPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("index price: %w", err)
	}

	reconstructor := NewReconstructor(r.reader, r.log)
	orders, err := reconstructor.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	r.metrics.BookOrdersLoaded.Set(float64(len(orders)))

	bids, asks := AggregateDepth(orders)
	return &Snapshot{
		Bids:        bids,
		Asks:        asks,
		MarkPrice:   fixed.FormatWad(markPrice),
		IndexPrice:  fixed.FormatWad(indexPrice),
		FundingRate: fixed.EstimateFundingRate(markPrice, indexPrice),
		UpdatedAt:   time.Now().UTC(),
	}, nil
}
