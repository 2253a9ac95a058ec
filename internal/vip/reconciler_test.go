package vip_test

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"perpkeeper/internal/ledger"
	fixed "perpkeeper/internal/math"
	"perpkeeper/internal/observability"
	"perpkeeper/internal/vip"
)

// Prometheus collectors register globally; one set serves the package.
var testMetrics = observability.NewMetrics()

type fakeAccountReader struct {
	levels   map[string]int
	volumes  map[string]*big.Int
	err      error
	fetches  atomic.Int64
	referrer string
}

func (f *fakeAccountReader) GetVIPLevel(ctx context.Context, trader string) (int, error) {
	f.fetches.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	return f.levels[trader], nil
}

func (f *fakeAccountReader) GetCumulativeVolume(ctx context.Context, trader string) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.volumes[trader]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeAccountReader) GetVolumeToNextVIP(ctx context.Context, trader string) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return vip.VolumeToNext(f.volumes[trader]), nil
}

func (f *fakeAccountReader) GetFeeRateBps(ctx context.Context, trader string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return vip.FeeBpsForLevel(f.levels[trader]), nil
}

func (f *fakeAccountReader) GetReferrer(ctx context.Context, trader string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.referrer, nil
}

type fakeVolumeSource struct {
	volumes map[string]string
	err     error
}

func (f *fakeVolumeSource) UserVolume(ctx context.Context, trader string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if v, ok := f.volumes[trader]; ok {
		return v, nil
	}
	return "0", nil
}

func wadString(units int64) string { return fixed.WadFromInt(units).String() }

type fakeTierWriter struct {
	corrections map[string]int
	err         error
}

func (f *fakeTierWriter) SetVIPLevel(ctx context.Context, trader string, level int) (*ledger.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.corrections == nil {
		f.corrections = make(map[string]int)
	}
	f.corrections[trader] = level
	return &ledger.Receipt{TxHash: "0xvip", Status: "success"}, nil
}

type staticTraders []string

func (s staticTraders) Snapshot() []string { return s }

// ============================================================================
// Test: Reconciler
// ============================================================================

func TestReconciler_CorrectsDrift(t *testing.T) {
	// 2500 rolling volume earns level 2 but the contract records level 0.
	reader := &fakeAccountReader{levels: map[string]int{"0xdrifted": 0}}
	volumes := &fakeVolumeSource{volumes: map[string]string{"0xdrifted": wadString(2500)}}
	writer := &fakeTierWriter{}

	r := vip.NewReconciler(reader, volumes, writer, staticTraders{"0xdrifted"}, ledger.NewGuard(3, zerolog.Nop()), nil, time.Hour, testMetrics, zerolog.Nop())
	r.Sweep(context.Background())

	if writer.corrections["0xdrifted"] != 2 {
		t.Errorf("corrections = %v, want 0xdrifted -> 2", writer.corrections)
	}
}

func TestReconciler_CorrectsDownwardDrift(t *testing.T) {
	// Rolling volume shrinks as old fills age out of the window: 1500
	// earns level 1 while the contract still records level 3.
	reader := &fakeAccountReader{levels: map[string]int{"0xfaded": 3}}
	volumes := &fakeVolumeSource{volumes: map[string]string{"0xfaded": wadString(1500)}}
	writer := &fakeTierWriter{}

	r := vip.NewReconciler(reader, volumes, writer, staticTraders{"0xfaded"}, ledger.NewGuard(3, zerolog.Nop()), nil, time.Hour, testMetrics, zerolog.Nop())
	r.Sweep(context.Background())

	if writer.corrections["0xfaded"] != 1 {
		t.Errorf("corrections = %v, want 0xfaded -> 1", writer.corrections)
	}
}

func TestReconciler_NoDriftNoWrite(t *testing.T) {
	reader := &fakeAccountReader{levels: map[string]int{"0xcurrent": 1}}
	volumes := &fakeVolumeSource{volumes: map[string]string{"0xcurrent": wadString(1500)}}
	writer := &fakeTierWriter{}

	r := vip.NewReconciler(reader, volumes, writer, staticTraders{"0xcurrent"}, ledger.NewGuard(3, zerolog.Nop()), nil, time.Hour, testMetrics, zerolog.Nop())
	r.Sweep(context.Background())

	if len(writer.corrections) != 0 {
		t.Errorf("no correction expected, got %v", writer.corrections)
	}
}

func TestReconciler_ReplicaDownSkipsCorrections(t *testing.T) {
	// An unreachable replica means the earned tier is unknown; the sweep
	// must not correct against a guess.
	reader := &fakeAccountReader{levels: map[string]int{"0xdrifted": 0}}
	volumes := &fakeVolumeSource{err: errors.New("replica unreachable")}
	writer := &fakeTierWriter{}

	r := vip.NewReconciler(reader, volumes, writer, staticTraders{"0xdrifted"}, ledger.NewGuard(3, zerolog.Nop()), nil, time.Hour, testMetrics, zerolog.Nop())
	r.Sweep(context.Background())

	if len(writer.corrections) != 0 {
		t.Errorf("no correction on unknown volume, got %v", writer.corrections)
	}
}

func TestReconciler_PerTraderIsolation(t *testing.T) {
	// The writer fails; the sweep still visits every trader without
	// aborting.
	reader := &fakeAccountReader{levels: map[string]int{"0xa": 0, "0xb": 0}}
	volumes := &fakeVolumeSource{volumes: map[string]string{
		"0xa": wadString(1000),
		"0xb": wadString(8000),
	}}
	writer := &fakeTierWriter{err: errors.New("tx failed")}

	r := vip.NewReconciler(reader, volumes, writer, staticTraders{"0xa", "0xb"}, ledger.NewGuard(3, zerolog.Nop()), nil, time.Hour, testMetrics, zerolog.Nop())
	r.Sweep(context.Background())
	// No panic and both traders read is the assertion; fetches counts
	// level reads.
	if reader.fetches.Load() != 2 {
		t.Errorf("level reads = %d, want 2", reader.fetches.Load())
	}
}

func TestReconciler_GuardSkipsSweep(t *testing.T) {
	reader := &fakeAccountReader{levels: map[string]int{"0xdrifted": 0}}
	volumes := &fakeVolumeSource{volumes: map[string]string{"0xdrifted": wadString(9000)}}
	writer := &fakeTierWriter{}
	guard := ledger.NewGuard(1, zerolog.Nop())
	guard.RecordFailure()

	r := vip.NewReconciler(reader, volumes, writer, staticTraders{"0xdrifted"}, guard, nil, time.Hour, testMetrics, zerolog.Nop())
	r.Sweep(context.Background())

	if len(writer.corrections) != 0 {
		t.Error("tripped guard must suspend reconciliation")
	}
}

// ============================================================================
// Test: Loader
// ============================================================================

func TestLoader_DebounceServesCache(t *testing.T) {
	reader := &fakeAccountReader{
		levels:  map[string]int{"0xabc": 2},
		volumes: map[string]*big.Int{"0xabc": fixed.WadFromInt(3000)},
	}
	loader := vip.NewLoader(reader, ledger.NewGuard(3, zerolog.Nop()), time.Second, time.Minute, zerolog.Nop())

	first, live := loader.Load(context.Background(), "0xABC")
	if !live {
		t.Fatal("first load should be live")
	}
	if first.Level != 2 {
		t.Errorf("level = %d, want 2", first.Level)
	}

	before := reader.fetches.Load()
	second, live := loader.Load(context.Background(), "0xabc")
	if !live {
		t.Fatal("cached load should be live")
	}
	if reader.fetches.Load() != before {
		t.Error("load inside the debounce window must not hit the gateway")
	}
	if second.Level != first.Level {
		t.Error("cached info should match")
	}
}

func TestLoader_DefaultsOnError(t *testing.T) {
	reader := &fakeAccountReader{err: errors.New("gateway down")}
	loader := vip.NewLoader(reader, ledger.NewGuard(5, zerolog.Nop()), time.Second, time.Minute, zerolog.Nop())

	info, live := loader.Load(context.Background(), "0xabc")
	if live {
		t.Fatal("failed load must be flagged as not live")
	}
	if info.Level != 0 || info.FeeRateBps != 10 {
		t.Errorf("defaults = %+v", info)
	}
	if info.VolumeToNext != fixed.WadFromInt(1000).String() {
		t.Errorf("default volumeToNext = %s, want 1000e18", info.VolumeToNext)
	}
}

func TestLoader_GuardTrippedServesDefaults(t *testing.T) {
	reader := &fakeAccountReader{
		levels:  map[string]int{"0xabc": 3},
		volumes: map[string]*big.Int{"0xabc": fixed.WadFromInt(6000)},
	}
	guard := ledger.NewGuard(1, zerolog.Nop())
	guard.RecordFailure()
	loader := vip.NewLoader(reader, guard, time.Second, time.Minute, zerolog.Nop())

	info, live := loader.Load(context.Background(), "0xabc")
	if live {
		t.Fatal("tripped guard must serve defaults")
	}
	if info.Level != 0 {
		t.Errorf("level = %d, want default 0", info.Level)
	}
	if reader.fetches.Load() != 0 {
		t.Error("tripped guard must not read the gateway")
	}
}

func TestLoader_InvalidateForcesRefetch(t *testing.T) {
	reader := &fakeAccountReader{
		levels:  map[string]int{"0xabc": 1},
		volumes: map[string]*big.Int{"0xabc": fixed.WadFromInt(1200)},
	}
	loader := vip.NewLoader(reader, ledger.NewGuard(3, zerolog.Nop()), time.Second, time.Minute, zerolog.Nop())

	loader.Load(context.Background(), "0xabc")
	before := reader.fetches.Load()
	loader.Invalidate("0xABC")
	loader.Load(context.Background(), "0xabc")
	if reader.fetches.Load() == before {
		t.Error("invalidated entry must refetch")
	}
}
