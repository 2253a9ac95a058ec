package vip

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"perpkeeper/internal/ledger"
	fixed "perpkeeper/internal/math"
	"perpkeeper/internal/observability"
)

// TierWriter submits privileged tier corrections.
type TierWriter interface {
	SetVIPLevel(ctx context.Context, trader string, level int) (*ledger.Receipt, error)
}

// VolumeSource reads a trader's rolling volume from the read replica,
// as a decimal string in 1e18 fixed point.
type VolumeSource interface {
	UserVolume(ctx context.Context, trader string) (string, error)
}

// TraderSource enumerates the accounts worth reconciling.
type TraderSource interface {
	Snapshot() []string
}

const DefaultReconcileInterval = time.Hour

// Reconciler periodically audits on-chain fee tiers against the volume
// thresholds. The contract only moves tiers when a trader calls its
// upgrade check, so recorded levels drift from what the rolling volume
// has earned; the reconciler submits one correction per drifted trader
// per sweep. The earned tier comes from the replica's rolling-volume
// projection, not the contract's cumulative counter: rolling volume can
// shrink as old fills age out, so drift runs both directions.
type Reconciler struct {
	reader   AccountReader
	volumes  VolumeSource
	writer   TierWriter
	traders  TraderSource
	guard    *ledger.Guard
	loader   *Loader
	interval time.Duration
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewReconciler(reader AccountReader, volumes VolumeSource, writer TierWriter, traders TraderSource, guard *ledger.Guard, loader *Loader, interval time.Duration, metrics *observability.Metrics, log zerolog.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &Reconciler{
		reader:   reader,
		volumes:  volumes,
		writer:   writer,
		traders:  traders,
		guard:    guard,
		loader:   loader,
		interval: interval,
		metrics:  metrics,
		log:      log,
	}
}

// Run sweeps until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep audits every known trader. Per-trader failures are logged and
// skipped; one bad account never blocks the rest.
func (r *Reconciler) Sweep(ctx context.Context) {
	if !r.guard.Allow() {
		r.metrics.VIPReconcileTotal.WithLabelValues("skipped").Inc()
		return
	}

	corrected := 0
	failed := 0
	for _, trader := range r.traders.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		changed, err := r.reconcileTrader(ctx, trader)
		if err != nil {
			failed++
			r.log.Error().Err(err).Str("trader", trader).Msg("tier reconcile failed")
			continue
		}
		if changed {
			corrected++
		}
	}

	status := "ok"
	if failed > 0 {
		status = "partial"
	}
	r.metrics.VIPReconcileTotal.WithLabelValues(status).Inc()
	r.log.Info().Int("corrected", corrected).Int("failed", failed).Msg("tier reconcile sweep done")
}

// reconcileTrader returns true when a correction was submitted and
// confirmed. An unreachable replica skips the trader: correcting a tier
// against an unknown volume is worse than waiting a sweep.
func (r *Reconciler) reconcileTrader(ctx context.Context, trader string) (bool, error) {
	volumeStr, err := r.volumes.UserVolume(ctx, trader)
	if err != nil {
		return false, fmt.Errorf("rolling volume: %w", err)
	}
	volume, err := fixed.ParseWad(volumeStr)
	if err != nil {
		return false, fmt.Errorf("rolling volume: %w", err)
	}
	recorded, err := r.reader.GetVIPLevel(ctx, trader)
	if err != nil {
		return false, err
	}

	earned := LevelForVolume(volume)
	if recorded == earned {
		return false, nil
	}

	r.log.Info().
		Str("trader", trader).
		Int("recorded", recorded).
		Int("earned", earned).
		Str("volume", volume.String()).
		Msg("tier drift detected")

	receipt, err := r.writer.SetVIPLevel(ctx, trader, earned)
	if err != nil {
		return false, err
	}
	r.metrics.VIPCorrections.Inc()
	if r.loader != nil {
		r.loader.Invalidate(trader)
	}
	r.log.Info().Str("trader", trader).Str("tx_hash", receipt.TxHash).Int("level", earned).Msg("tier corrected")
	return true, nil
}
