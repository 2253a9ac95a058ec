package book

import (
	"math"
	"math/big"

	"github.com/google/btree"

	"perpkeeper/internal/ledger"
)

// PriceLevel accumulates the resting amount at one price.
type PriceLevel struct {
	Price  *big.Int
	Amount *big.Int
	Orders int
}

type bidLevelItem struct {
	level *PriceLevel
}

// Less sorts bids descending (highest price first)
func (p *bidLevelItem) Less(than btree.Item) bool {
	other := than.(*bidLevelItem)
	return p.level.Price.Cmp(other.level.Price) > 0
}

type askLevelItem struct {
	level *PriceLevel
}

// Less sorts asks ascending (lowest price first)
func (p *askLevelItem) Less(than btree.Item) bool {
	other := than.(*askLevelItem)
	return p.level.Price.Cmp(other.level.Price) < 0
}

// DepthLevel is one row of the aggregated book view. Cumulative sums the
// amounts from the top of the side down to this level; DepthPercent is
// that cumulative total relative to the side's deepest row, on 0..100.
type DepthLevel struct {
	Price        string  `json:"price"`
	Amount       string  `json:"amount"`
	Cumulative   string  `json:"cumulative"`
	DepthPercent float64 `json:"depthPercent"`
	Orders       int     `json:"orders"`
}

// AggregateDepth buckets live orders by exact price and produces both
// sides of the depth view, bids best-first descending and asks best-first
// ascending.
func AggregateDepth(orders map[int64]*ledger.Order) (bids, asks []DepthLevel) {
	bidTree := btree.New(32)
	askTree := btree.New(32)

	for _, order := range orders {
		if !order.IsLive() {
			continue
		}
		if order.IsBuy {
			insertLevel(bidTree, &bidLevelItem{level: &PriceLevel{Price: order.Price}}, order)
		} else {
			insertLevel(askTree, &askLevelItem{level: &PriceLevel{Price: order.Price}}, order)
		}
	}

	return flattenLevels(bidTree, func(it btree.Item) *PriceLevel { return it.(*bidLevelItem).level }),
		flattenLevels(askTree, func(it btree.Item) *PriceLevel { return it.(*askLevelItem).level })
}

func insertLevel(tree *btree.BTree, probe btree.Item, order *ledger.Order) {
	var level *PriceLevel
	if existing := tree.Get(probe); existing != nil {
		switch it := existing.(type) {
		case *bidLevelItem:
			level = it.level
		case *askLevelItem:
			level = it.level
		}
	} else {
		switch it := probe.(type) {
		case *bidLevelItem:
			level = it.level
		case *askLevelItem:
			level = it.level
		}
		level.Amount = new(big.Int)
		tree.ReplaceOrInsert(probe)
	}
	level.Amount.Add(level.Amount, order.Amount)
	level.Orders++
}

func flattenLevels(tree *btree.BTree, unwrap func(btree.Item) *PriceLevel) []DepthLevel {
	out := make([]DepthLevel, 0, tree.Len())
	cumulative := new(big.Int)
	tree.Ascend(func(it btree.Item) bool {
		level := unwrap(it)
		cumulative.Add(cumulative, level.Amount)
		out = append(out, DepthLevel{
			Price:      level.Price.String(),
			Amount:     level.Amount.String(),
			Cumulative: cumulative.String(),
			Orders:     level.Orders,
		})
		return true
	})

	// The deepest row carries the side's full cumulative total. Percentages
	// are rounded whole numbers clamped to [0, 100].
	if len(out) > 0 && cumulative.Sign() > 0 {
		max := new(big.Float).SetInt(cumulative)
		for i := range out {
			c, _ := new(big.Float).SetString(out[i].Cumulative)
			pct, _ := new(big.Float).Quo(c, max).Float64()
			pct = math.Round(pct * 100)
			if pct < 0 {
				pct = 0
			} else if pct > 100 {
				pct = 100
			}
			out[i].DepthPercent = pct
		}
	}
	return out
}
