package math

import (
	"fmt"
	"math/big"
	"sync"
)

// WadDecimals is the fixed-point precision used by the exchange contract:
// every price, amount, and volume on the ledger is an integer scaled by 10^18.
const WadDecimals = 18

var (
	// WadScale is 10^18 as a big.Int. Treat as read-only.
	WadScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals), nil)

	wadScaleFloat = new(big.Float).SetInt(WadScale)
)

// Wad values routinely exceed int64 (100 ETH = 10^20), so all ledger
// arithmetic goes through big.Int. A pool keeps the hot refresh path from
// allocating a fresh big.Int per order read.
var bigIntPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigIntPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigIntPool.Put(v)
}

// WadFromInt converts a whole-unit integer into its Wad representation.
func WadFromInt(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), WadScale)
}

// WadToFloat converts a Wad fixed-point integer to a float64 in whole units.
// Display-side only: the reconstructed book and the funding estimate both
// operate on the float form, matching how the presentation layer consumes
// ledger values.
func WadToFloat(v *big.Int) float64 {
	if v == nil || v.Sign() == 0 {
		return 0
	}
	f := new(big.Float).SetInt(v)
	f.Quo(f, wadScaleFloat)
	out, _ := f.Float64()
	return out
}

// ParseWad parses a base-10 decimal string into a Wad integer. The gateway
// serializes all fixed-point values as decimal strings to avoid JSON number
// precision loss.
func ParseWad(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse wad %q: not a base-10 integer", s)
	}
	return v, nil
}

// FormatWad renders a Wad integer as the decimal string the gateway expects.
func FormatWad(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// IsZero reports whether v is nil or exactly zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// MulWad computes a*b/1e18, the fixed-point product of two Wad values.
func MulWad(a, b *big.Int) *big.Int {
	tmp := getBig()
	tmp.Mul(a, b)
	result := new(big.Int).Quo(tmp, WadScale)
	putBig(tmp)
	return result
}

// Notional computes |size|*price/1e18 in Wad, the traded value used for
// VIP volume accounting.
func Notional(size, price *big.Int) *big.Int {
	abs := getBig()
	abs.Abs(size)
	tmp := getBig()
	tmp.Mul(abs, price)
	result := new(big.Int).Quo(tmp, WadScale)
	putBig(abs)
	putBig(tmp)
	return result
}
