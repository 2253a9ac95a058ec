package book_test

import (
	"testing"

	"perpkeeper/internal/book"
	"perpkeeper/internal/ledger"
	fixed "perpkeeper/internal/math"
)

// ============================================================================
// Test: AggregateDepth
// ============================================================================

func TestAggregateDepth_Ordering(t *testing.T) {
	orders := map[int64]*ledger.Order{
		1: mkOrder(1, true, 98, 1, 0),
		2: mkOrder(2, true, 99, 1, 0),
		3: mkOrder(3, true, 97, 1, 0),
		4: mkOrder(4, false, 101, 1, 0),
		5: mkOrder(5, false, 100, 1, 0),
		6: mkOrder(6, false, 102, 1, 0),
	}

	bids, asks := book.AggregateDepth(orders)

	wantBids := []string{
		fixed.WadFromInt(99).String(),
		fixed.WadFromInt(98).String(),
		fixed.WadFromInt(97).String(),
	}
	for i, want := range wantBids {
		if bids[i].Price != want {
			t.Errorf("bids[%d].Price = %s, want %s", i, bids[i].Price, want)
		}
	}

	wantAsks := []string{
		fixed.WadFromInt(100).String(),
		fixed.WadFromInt(101).String(),
		fixed.WadFromInt(102).String(),
	}
	for i, want := range wantAsks {
		if asks[i].Price != want {
			t.Errorf("asks[%d].Price = %s, want %s", i, asks[i].Price, want)
		}
	}
}

func TestAggregateDepth_BucketsSamePrice(t *testing.T) {
	orders := map[int64]*ledger.Order{
		1: mkOrder(1, true, 99, 2, 0),
		2: mkOrder(2, true, 99, 3, 0),
	}

	bids, _ := book.AggregateDepth(orders)
	if len(bids) != 1 {
		t.Fatalf("want 1 bucket, got %d", len(bids))
	}
	if bids[0].Amount != fixed.WadFromInt(5).String() {
		t.Errorf("bucket amount = %s, want 5e18", bids[0].Amount)
	}
	if bids[0].Orders != 2 {
		t.Errorf("bucket orders = %d, want 2", bids[0].Orders)
	}
}

func TestAggregateDepth_CumulativeAndPercent(t *testing.T) {
	orders := map[int64]*ledger.Order{
		1: mkOrder(1, true, 100, 1, 0),
		2: mkOrder(2, true, 99, 3, 0),
	}

	bids, _ := book.AggregateDepth(orders)
	if len(bids) != 2 {
		t.Fatalf("want 2 buckets, got %d", len(bids))
	}
	if bids[0].Cumulative != fixed.WadFromInt(1).String() {
		t.Errorf("top cumulative = %s, want 1e18", bids[0].Cumulative)
	}
	if bids[1].Cumulative != fixed.WadFromInt(4).String() {
		t.Errorf("deep cumulative = %s, want 4e18", bids[1].Cumulative)
	}
	if bids[0].DepthPercent != 25 {
		t.Errorf("top depthPercent = %v, want 25", bids[0].DepthPercent)
	}
	if bids[1].DepthPercent != 100 {
		t.Errorf("deepest depthPercent = %v, want 100", bids[1].DepthPercent)
	}
}

func TestAggregateDepth_PercentRoundsToWhole(t *testing.T) {
	// Sizes 2+3 at 100 and 1 at 99: cumulative 5 of 6 is 83.33..., which
	// must surface as the rounded whole 83, and the deepest row as 100.
	orders := map[int64]*ledger.Order{
		1: mkOrder(1, true, 100, 2, 0),
		2: mkOrder(2, true, 100, 3, 0),
		3: mkOrder(3, true, 99, 1, 0),
	}

	bids, _ := book.AggregateDepth(orders)
	if len(bids) != 2 {
		t.Fatalf("want 2 buckets, got %d", len(bids))
	}
	if bids[0].Amount != fixed.WadFromInt(5).String() || bids[0].Cumulative != fixed.WadFromInt(5).String() {
		t.Errorf("top row = {%s, %s}, want {5e18, 5e18}", bids[0].Amount, bids[0].Cumulative)
	}
	if bids[1].Cumulative != fixed.WadFromInt(6).String() {
		t.Errorf("deep cumulative = %s, want 6e18", bids[1].Cumulative)
	}
	if bids[0].DepthPercent != 83 {
		t.Errorf("top depthPercent = %v, want 83", bids[0].DepthPercent)
	}
	if bids[1].DepthPercent != 100 {
		t.Errorf("deepest depthPercent = %v, want 100", bids[1].DepthPercent)
	}
}

func TestAggregateDepth_Empty(t *testing.T) {
	bids, asks := book.AggregateDepth(nil)
	if len(bids) != 0 || len(asks) != 0 {
		t.Errorf("empty input should yield empty sides: %d bids, %d asks", len(bids), len(asks))
	}
}

// ============================================================================
// Test: Snapshot / View
// ============================================================================

func TestView_PublishAndTruncate(t *testing.T) {
	view := book.NewView()
	if view.Current() == nil {
		t.Fatal("fresh view must serve a non-nil snapshot")
	}

	snapshot := &book.Snapshot{
		Bids: []book.DepthLevel{{Price: "3"}, {Price: "2"}, {Price: "1"}},
		Asks: []book.DepthLevel{{Price: "4"}, {Price: "5"}},
	}
	view.Publish(snapshot)

	got := view.Current().Truncate(2)
	if len(got.Bids) != 2 || len(got.Asks) != 2 {
		t.Errorf("truncated to %d bids / %d asks, want 2/2", len(got.Bids), len(got.Asks))
	}

	// Truncate must not touch the published snapshot.
	if len(view.Current().Bids) != 3 {
		t.Error("Truncate mutated the published snapshot")
	}

	if got := view.Current().Truncate(0); len(got.Bids) != 3 {
		t.Errorf("Truncate(0) should return all rows, got %d", len(got.Bids))
	}
}
