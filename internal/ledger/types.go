package ledger

import (
	"math/big"
	"strings"
)

// ZeroAddress is the contract's "unset" sentinel for address-valued reads.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Order is one record from the contract's order storage. Orders form two
// singly-linked lists (one per side) threaded through NextID; NextID == 0
// terminates a chain. An all-zero record (ID == 0) means the slot is vacant.
type Order struct {
	ID            int64
	Trader        string
	IsBuy         bool
	Price         *big.Int // Wad
	Amount        *big.Int // Wad, remaining
	InitialAmount *big.Int // Wad
	Timestamp     int64
	NextID        int64
}

// Exists reports whether the slot holds an order at all.
func (o *Order) Exists() bool {
	return o != nil && o.ID != 0
}

// IsLive reports whether the order still belongs in the book. Fully filled
// orders linger in storage with Amount == 0 and must never surface.
func (o *Order) IsLive() bool {
	return o.Exists() && o.Amount != nil && o.Amount.Sign() > 0
}

// Position is the contract's position record for one trader. Size is signed:
// positive long, negative short, zero flat.
type Position struct {
	Size       *big.Int // Wad
	EntryPrice *big.Int // Wad
}

// IsFlat reports whether the trader has no exposure.
func (p *Position) IsFlat() bool {
	return p == nil || p.Size == nil || p.Size.Sign() == 0
}

// VIPAccount bundles the contract's per-trader VIP reads.
type VIPAccount struct {
	Level            int
	CumulativeVolume *big.Int // Wad notional
	VolumeToNext     *big.Int // Wad notional
	FeeRateBps       int64
}

// Receipt is the inclusion result of a submitted transaction. Any status
// other than "success" is treated as a failure by the writer.
type Receipt struct {
	TxHash      string `json:"txHash"`
	Status      string `json:"status"`
	BlockNumber int64  `json:"blockNumber"`
	GasUsed     int64  `json:"gasUsed"`
}

// Succeeded reports whether the transaction was included and did not revert.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == "success"
}

// NormalizeAddress lower-cases an address the way the indexer stores keys.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// IsZeroAddress reports whether addr is absent or the unset sentinel.
func IsZeroAddress(addr string) bool {
	return addr == "" || NormalizeAddress(addr) == ZeroAddress
}
