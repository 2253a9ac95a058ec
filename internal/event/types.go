package event

import (
	"math/big"
	"time"
)

// Type discriminator for event payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeOrderPlaced
	TypeOrderRemoved
	TypeTradeExecuted
	TypeMarginDeposited
	TypeMarginWithdrawn
	TypePositionUpdated
	TypeFundingUpdated
	TypeFundingPaid
	TypeLiquidated
	TypeVIPLevelChanged
	TypeReferralRegistered
)

// Event is the interface all contract event payloads implement.
type Event interface {
	// EventType returns the payload discriminator
	EventType() Type

	// Traders returns the addresses this event touches, normalized.
	// Used to keep the active-trader set current.
	Traders() []string

	// BlockTime returns the on-chain timestamp of the emitting block
	BlockTime() time.Time
}

// OrderPlaced is emitted when a resting order enters the book.
type OrderPlaced struct {
	OrderID   int64
	Trader    string
	IsBuy     bool
	Price     *big.Int // 1e18 fixed-point
	Amount    *big.Int // 1e18 fixed-point
	Timestamp time.Time
}

func (e *OrderPlaced) EventType() Type      { return TypeOrderPlaced }
func (e *OrderPlaced) Traders() []string    { return []string{e.Trader} }
func (e *OrderPlaced) BlockTime() time.Time { return e.Timestamp }

// OrderRemoved is emitted on cancel or full fill.
type OrderRemoved struct {
	OrderID   int64
	Trader    string
	Timestamp time.Time
}

func (e *OrderRemoved) EventType() Type      { return TypeOrderRemoved }
func (e *OrderRemoved) Traders() []string    { return []string{e.Trader} }
func (e *OrderRemoved) BlockTime() time.Time { return e.Timestamp }

// TradeExecuted is emitted once per match between two resting orders.
type TradeExecuted struct {
	Buyer       string
	Seller      string
	BuyOrderID  int64
	SellOrderID int64
	Price       *big.Int // 1e18 fixed-point
	Amount      *big.Int // 1e18 fixed-point
	Timestamp   time.Time
}

func (e *TradeExecuted) EventType() Type      { return TypeTradeExecuted }
func (e *TradeExecuted) Traders() []string    { return []string{e.Buyer, e.Seller} }
func (e *TradeExecuted) BlockTime() time.Time { return e.Timestamp }

// Side reports the taker direction using the order-id heuristic: order ids
// are assigned monotonically, so the younger order is the taker.
func (e *TradeExecuted) Side() string {
	if e.BuyOrderID > e.SellOrderID {
		return "buy"
	}
	return "sell"
}

// MarginDeposited is emitted when collateral enters a trader's account.
type MarginDeposited struct {
	Trader    string
	Amount    *big.Int // 1e18 fixed-point
	Timestamp time.Time
}

func (e *MarginDeposited) EventType() Type      { return TypeMarginDeposited }
func (e *MarginDeposited) Traders() []string    { return []string{e.Trader} }
func (e *MarginDeposited) BlockTime() time.Time { return e.Timestamp }

// MarginWithdrawn is emitted when collateral leaves a trader's account.
type MarginWithdrawn struct {
	Trader    string
	Amount    *big.Int // 1e18 fixed-point
	Timestamp time.Time
}

func (e *MarginWithdrawn) EventType() Type      { return TypeMarginWithdrawn }
func (e *MarginWithdrawn) Traders() []string    { return []string{e.Trader} }
func (e *MarginWithdrawn) BlockTime() time.Time { return e.Timestamp }

// PositionUpdated is emitted after any fill or settlement changes a
// trader's position.
type PositionUpdated struct {
	Trader     string
	Size       *big.Int // signed, 1e18 fixed-point
	EntryPrice *big.Int // 1e18 fixed-point
	Timestamp  time.Time
}

func (e *PositionUpdated) EventType() Type      { return TypePositionUpdated }
func (e *PositionUpdated) Traders() []string    { return []string{e.Trader} }
func (e *PositionUpdated) BlockTime() time.Time { return e.Timestamp }

// FundingUpdated is emitted when the contract snapshots a new funding rate.
type FundingUpdated struct {
	Rate      *big.Int // signed, 1e18 fixed-point
	Timestamp time.Time
}

func (e *FundingUpdated) EventType() Type      { return TypeFundingUpdated }
func (e *FundingUpdated) Traders() []string    { return nil }
func (e *FundingUpdated) BlockTime() time.Time { return e.Timestamp }

// FundingPaid is emitted per trader when a funding epoch settles.
type FundingPaid struct {
	Trader    string
	Amount    *big.Int // signed, 1e18 fixed-point; negative means paid out
	Timestamp time.Time
}

func (e *FundingPaid) EventType() Type      { return TypeFundingPaid }
func (e *FundingPaid) Traders() []string    { return []string{e.Trader} }
func (e *FundingPaid) BlockTime() time.Time { return e.Timestamp }

// Liquidated is emitted when a position is forcibly closed.
type Liquidated struct {
	Trader     string
	Liquidator string
	Amount     *big.Int // 1e18 fixed-point
	Timestamp  time.Time
}

func (e *Liquidated) EventType() Type      { return TypeLiquidated }
func (e *Liquidated) Traders() []string    { return []string{e.Trader, e.Liquidator} }
func (e *Liquidated) BlockTime() time.Time { return e.Timestamp }

// VIPLevelChanged is emitted when a trader's fee tier moves.
type VIPLevelChanged struct {
	Trader    string
	OldLevel  int
	NewLevel  int
	Timestamp time.Time
}

func (e *VIPLevelChanged) EventType() Type      { return TypeVIPLevelChanged }
func (e *VIPLevelChanged) Traders() []string    { return []string{e.Trader} }
func (e *VIPLevelChanged) BlockTime() time.Time { return e.Timestamp }

// ReferralRegistered is emitted when a trader binds a referrer.
type ReferralRegistered struct {
	Trader    string
	Referrer  string
	Timestamp time.Time
}

func (e *ReferralRegistered) EventType() Type      { return TypeReferralRegistered }
func (e *ReferralRegistered) Traders() []string    { return []string{e.Trader, e.Referrer} }
func (e *ReferralRegistered) BlockTime() time.Time { return e.Timestamp }
