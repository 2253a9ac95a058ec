package book

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"perpkeeper/internal/ledger"
)

// BookReader is the slice of the gateway client the reconstructor needs.
type BookReader interface {
	BestBidID(ctx context.Context) (int64, error)
	BestAskID(ctx context.Context) (int64, error)
	OrderByID(ctx context.Context, id int64) (*ledger.Order, error)
}

const (
	// MaxChainHops bounds one linked-list walk. The contract caps resting
	// orders well below this; hitting the bound means a corrupt chain.
	MaxChainHops = 128

	// SlotScanLimit bounds the brute-force slot sweep.
	SlotScanLimit = 20
)

// Reconstructor rebuilds the resting order set from contract storage. The
// bid and ask sides are singly-linked lists ordered by price; a
// brute-force sweep of the low order-id slots backstops the walk, since a
// mid-walk write can detach orders from the chains.
type Reconstructor struct {
	reader    BookReader
	scanLimit int64
	log       zerolog.Logger
}

func NewReconstructor(reader BookReader, log zerolog.Logger) *Reconstructor {
	return &Reconstructor{
		reader:    reader,
		scanLimit: SlotScanLimit,
		log:       log,
	}
}

// Load returns every live resting order, keyed by order id. Chain results
// and sweep results are merged with the sweep winning on conflict (the
// sweep reads each slot later, so its copy is at least as fresh), and the
// liveness filter runs over the merged set so a re-read that finds an
// order filled evicts the chain's stale live copy.
func (r *Reconstructor) Load(ctx context.Context) (map[int64]*ledger.Order, error) {
	orders := make(map[int64]*ledger.Order)

	bidHead, err := r.reader.BestBidID(ctx)
	if err != nil {
		return nil, fmt.Errorf("best bid: %w", err)
	}
	if err := r.walkChain(ctx, bidHead, orders); err != nil {
		return nil, fmt.Errorf("bid chain: %w", err)
	}

	askHead, err := r.reader.BestAskID(ctx)
	if err != nil {
		return nil, fmt.Errorf("best ask: %w", err)
	}
	if err := r.walkChain(ctx, askHead, orders); err != nil {
		return nil, fmt.Errorf("ask chain: %w", err)
	}

	r.scanSlots(ctx, orders)

	for id, order := range orders {
		if !order.IsLive() {
			delete(orders, id)
		}
	}
	return orders, nil
}

// walkChain follows next pointers from head, collecting every order the
// chain still references. A
// visited set guards against cycles: concurrent matching can rewire next
// pointers under the walk, and a revisited id means the remaining chain
// was already seen.
func (r *Reconstructor) walkChain(ctx context.Context, head int64, orders map[int64]*ledger.Order) error {
	visited := make(map[int64]bool)
	id := head
	for hops := 0; id != 0; hops++ {
		if hops >= MaxChainHops {
			r.log.Warn().Int64("head", head).Int("hops", hops).Msg("chain walk hit hop bound")
			return nil
		}
		if visited[id] {
			r.log.Warn().Int64("order_id", id).Msg("chain walk detected cycle")
			return nil
		}
		visited[id] = true

		order, err := r.reader.OrderByID(ctx, id)
		if err != nil {
			return fmt.Errorf("order %d: %w", id, err)
		}
		if !order.Exists() {
			return nil
		}
		orders[order.ID] = order
		id = order.NextID
	}
	return nil
}

// scanSlots sweeps order ids 1..scanLimit. The sweep is best-effort: the
// first read error ends it, keeping whatever the chains produced.
func (r *Reconstructor) scanSlots(ctx context.Context, orders map[int64]*ledger.Order) {
	for id := int64(1); id <= r.scanLimit; id++ {
		order, err := r.reader.OrderByID(ctx, id)
		if err != nil {
			r.log.Debug().Err(err).Int64("order_id", id).Msg("slot sweep stopped")
			return
		}
		if order.Exists() {
			orders[order.ID] = order
		}
	}
}
