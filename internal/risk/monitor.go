package risk

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"perpkeeper/internal/ledger"
	"perpkeeper/internal/observability"
)

// RiskReader reads per-trader risk state from the gateway.
type RiskReader interface {
	GetPosition(ctx context.Context, trader string) (*ledger.Position, error)
	CanLiquidate(ctx context.Context, trader string) (bool, error)
}

// LiquidationExecutor submits liquidation transactions. A zero amount
// closes the whole position.
type LiquidationExecutor interface {
	Liquidate(ctx context.Context, trader string, amount *big.Int) (*ledger.Receipt, error)
}

// CheckResult classifies the outcome of one per-trader check.
type CheckResult string

const (
	ResultSkipped    CheckResult = "skipped"
	ResultFlat       CheckResult = "flat"
	ResultHealthy    CheckResult = "healthy"
	ResultLiquidated CheckResult = "liquidated"
	ResultError      CheckResult = "error"
)

const DefaultMonitorInterval = 5 * time.Second

// Monitor sweeps the tracked trader set on a fixed cadence and liquidates
// underwater positions. Each trader is checked independently: an error on
// one never aborts the sweep, and a trader leaves the set only once a
// liquidation receipt confirms.
type Monitor struct {
	reader   RiskReader
	executor LiquidationExecutor
	guard    *ledger.Guard
	tracker  *Tracker
	interval time.Duration
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewMonitor(reader RiskReader, executor LiquidationExecutor, guard *ledger.Guard, tracker *Tracker, interval time.Duration, metrics *observability.Metrics, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{
		reader:   reader,
		executor: executor,
		guard:    guard,
		tracker:  tracker,
		interval: interval,
		metrics:  metrics,
		log:      log,
	}
}

// Run sweeps until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every tracked trader.
func (m *Monitor) Sweep(ctx context.Context) {
	if !m.guard.Allow() {
		return
	}

	start := time.Now()
	for _, trader := range m.tracker.Snapshot() {
		result := m.checkTrader(ctx, trader)
		m.metrics.LiquidationChecks.WithLabelValues(string(result)).Inc()
		if ctx.Err() != nil {
			return
		}
	}
	m.metrics.LiquidationDuration.Observe(time.Since(start).Seconds())
}

func (m *Monitor) checkTrader(ctx context.Context, trader string) CheckResult {
	log := m.log.With().Str("trader", trader).Logger()

	position, err := m.reader.GetPosition(ctx, trader)
	if err != nil {
		log.Error().Err(err).Msg("read position failed")
		return ResultError
	}
	if position.IsFlat() {
		// Nothing at risk this cycle. The trader stays tracked: a flat
		// read can race a position open, and the set only shrinks on a
		// confirmed liquidation.
		return ResultFlat
	}

	liquidatable, err := m.reader.CanLiquidate(ctx, trader)
	if err != nil {
		log.Error().Err(err).Msg("liquidatable check failed")
		return ResultError
	}
	if !liquidatable {
		return ResultHealthy
	}

	log.Info().Str("size", position.Size.String()).Msg("liquidating position")
	receipt, err := m.executor.Liquidate(ctx, trader, big.NewInt(0))
	if err != nil {
		if errors.Is(err, ledger.ErrTxReverted) {
			// Another keeper likely won the race; the trader stays
			// tracked and the next sweep re-reads its state.
			log.Warn().Err(err).Msg("liquidation reverted")
		} else {
			log.Error().Err(err).Msg("liquidation submit failed")
		}
		return ResultError
	}

	m.tracker.Remove(trader)
	m.metrics.LiquidationsExecuted.Inc()
	log.Info().Str("tx_hash", receipt.TxHash).Int64("block", receipt.BlockNumber).Msg("liquidation confirmed")
	return ResultLiquidated
}
