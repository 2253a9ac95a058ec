package vip

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"perpkeeper/internal/ledger"
)

// AccountReader reads a trader's fee-tier state from the gateway.
type AccountReader interface {
	GetVIPLevel(ctx context.Context, trader string) (int, error)
	GetCumulativeVolume(ctx context.Context, trader string) (*big.Int, error)
	GetVolumeToNextVIP(ctx context.Context, trader string) (*big.Int, error)
	GetFeeRateBps(ctx context.Context, trader string) (int64, error)
	GetReferrer(ctx context.Context, trader string) (string, error)
}

// Info is the assembled fee-tier view for one trader.
type Info struct {
	Trader           string `json:"trader"`
	Level            int    `json:"level"`
	FeeRateBps       int64  `json:"feeRateBps"`
	CumulativeVolume string `json:"cumulativeVolume"`
	VolumeToNext     string `json:"volumeToNext"`
	Referrer         string `json:"referrer,omitempty"`
}

// DefaultInfo is what API consumers see when the tier reads fail: a fresh
// level-0 account. Serving defaults beats serving an error page here.
func DefaultInfo(trader string) *Info {
	return &Info{
		Trader:           trader,
		Level:            0,
		FeeRateBps:       FeeBpsForLevel(0),
		CumulativeVolume: "0",
		VolumeToNext:     ThresholdForLevel(1).String(),
	}
}

const (
	DefaultLoadTimeout = 10 * time.Second
	DefaultDebounce    = 5 * time.Second
)

type cachedInfo struct {
	info     *Info
	loadedAt time.Time
}

// Loader fetches tier info with a per-trader debounce: repeated loads
// inside the debounce window return the cached result instead of hitting
// the gateway again. Failed loads fall back to DefaultInfo and feed the
// validity guard.
type Loader struct {
	reader   AccountReader
	guard    *ledger.Guard
	timeout  time.Duration
	debounce time.Duration
	log      zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedInfo
}

func NewLoader(reader AccountReader, guard *ledger.Guard, timeout, debounce time.Duration, log zerolog.Logger) *Loader {
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Loader{
		reader:   reader,
		guard:    guard,
		timeout:  timeout,
		debounce: debounce,
		log:      log,
		cache:    make(map[string]cachedInfo),
	}
}

// Load returns the trader's tier info. The boolean reports whether the
// data is live; false means the default fallback is being served.
func (l *Loader) Load(ctx context.Context, trader string) (*Info, bool) {
	trader = ledger.NormalizeAddress(trader)

	l.mu.Lock()
	if cached, ok := l.cache[trader]; ok && time.Since(cached.loadedAt) < l.debounce {
		l.mu.Unlock()
		return cached.info, true
	}
	l.mu.Unlock()

	if !l.guard.Allow() {
		return DefaultInfo(trader), false
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	info, err := l.fetch(ctx, trader)
	if err != nil {
		l.guard.RecordFailure()
		l.log.Warn().Err(err).Str("trader", trader).Msg("tier info load failed, serving defaults")
		return DefaultInfo(trader), false
	}
	l.guard.RecordSuccess()

	l.mu.Lock()
	l.cache[trader] = cachedInfo{info: info, loadedAt: time.Now()}
	l.mu.Unlock()
	return info, true
}

func (l *Loader) fetch(ctx context.Context, trader string) (*Info, error) {
	level, err := l.reader.GetVIPLevel(ctx, trader)
	if err != nil {
		return nil, err
	}
	volume, err := l.reader.GetCumulativeVolume(ctx, trader)
	if err != nil {
		return nil, err
	}
	toNext, err := l.reader.GetVolumeToNextVIP(ctx, trader)
	if err != nil {
		return nil, err
	}
	feeBps, err := l.reader.GetFeeRateBps(ctx, trader)
	if err != nil {
		return nil, err
	}
	referrer, err := l.reader.GetReferrer(ctx, trader)
	if err != nil {
		return nil, err
	}

	return &Info{
		Trader:           trader,
		Level:            level,
		FeeRateBps:       feeBps,
		CumulativeVolume: volume.String(),
		VolumeToNext:     toNext.String(),
		Referrer:         referrer,
	}, nil
}

// Invalidate drops any cached entry for the trader, forcing the next Load
// to hit the gateway.
func (l *Loader) Invalidate(trader string) {
	trader = ledger.NormalizeAddress(trader)
	l.mu.Lock()
	delete(l.cache, trader)
	l.mu.Unlock()
}
