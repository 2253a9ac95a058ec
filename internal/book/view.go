package book

import (
	"sync/atomic"
	"time"
)

// Snapshot is one published view of the book. Snapshots are immutable
// after publication; readers must not mutate the level slices.
type Snapshot struct {
	Bids        []DepthLevel `json:"bids"`
	Asks        []DepthLevel `json:"asks"`
	MarkPrice   string       `json:"markPrice"`
	IndexPrice  string       `json:"indexPrice"`
	FundingRate float64      `json:"fundingRate"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// View publishes snapshots from the single refresher goroutine to any
// number of concurrent readers.
type View struct {
	current atomic.Pointer[Snapshot]
}

func NewView() *View {
	v := &View{}
	v.current.Store(&Snapshot{})
	return v
}

func (v *View) Publish(s *Snapshot) {
	v.current.Store(s)
}

// Current returns the latest snapshot; never nil.
func (v *View) Current() *Snapshot {
	return v.current.Load()
}

// Truncate returns a copy of the snapshot limited to n rows per side.
// A non-positive n returns the snapshot unchanged.
func (s *Snapshot) Truncate(n int) *Snapshot {
	if n <= 0 {
		return s
	}
	out := *s
	if len(out.Bids) > n {
		out.Bids = out.Bids[:n]
	}
	if len(out.Asks) > n {
		out.Asks = out.Asks[:n]
	}
	return &out
}
