package ledger

import (
	"fmt"
	"math/big"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	fixed "perpkeeper/internal/math"
)

// The gateway is not consistent about how it serializes order structs: some
// node versions return named fields, others return the raw positional tuple
// [id, trader, isBuy, price, amount, initialAmount, timestamp, next]. Both
// shapes are normalized here, at the read boundary, so nothing downstream
// ever sees the wire form.

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type orderJSON struct {
	ID            jsoniter.RawMessage `json:"id"`
	Trader        string              `json:"trader"`
	IsBuy         bool                `json:"isBuy"`
	Price         jsoniter.RawMessage `json:"price"`
	Amount        jsoniter.RawMessage `json:"amount"`
	InitialAmount jsoniter.RawMessage `json:"initialAmount"`
	Timestamp     jsoniter.RawMessage `json:"timestamp"`
	Next          jsoniter.RawMessage `json:"next"`
}

// DecodeOrder normalizes a raw order read into an Order, accepting both the
// named-field and the positional-array wire shapes.
func DecodeOrder(raw []byte) (*Order, error) {
	trimmed := firstNonSpace(raw)
	switch trimmed {
	case '{':
		return decodeNamedOrder(raw)
	case '[':
		return decodePositionalOrder(raw)
	default:
		return nil, fmt.Errorf("decode order: unrecognized shape (starts with %q)", string(trimmed))
	}
}

func decodeNamedOrder(raw []byte) (*Order, error) {
	var j orderJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("decode order object: %w", err)
	}

	id, err := rawInt64(j.ID, "id")
	if err != nil {
		return nil, err
	}
	price, err := rawWad(j.Price, "price")
	if err != nil {
		return nil, err
	}
	amount, err := rawWad(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	initial, err := rawWad(j.InitialAmount, "initialAmount")
	if err != nil {
		return nil, err
	}
	ts, err := rawInt64(j.Timestamp, "timestamp")
	if err != nil {
		return nil, err
	}
	next, err := rawInt64(j.Next, "next")
	if err != nil {
		return nil, err
	}

	return &Order{
		ID:            id,
		Trader:        NormalizeAddress(j.Trader),
		IsBuy:         j.IsBuy,
		Price:         price,
		Amount:        amount,
		InitialAmount: initial,
		Timestamp:     ts,
		NextID:        next,
	}, nil
}

func decodePositionalOrder(raw []byte) (*Order, error) {
	var fields []jsoniter.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode order tuple: %w", err)
	}
	if len(fields) < 8 {
		return nil, fmt.Errorf("decode order tuple: want 8 fields, got %d", len(fields))
	}

	id, err := rawInt64(fields[0], "id")
	if err != nil {
		return nil, err
	}
	var trader string
	if err := json.Unmarshal(fields[1], &trader); err != nil {
		return nil, fmt.Errorf("decode order trader: %w", err)
	}
	var isBuy bool
	if err := json.Unmarshal(fields[2], &isBuy); err != nil {
		return nil, fmt.Errorf("decode order isBuy: %w", err)
	}
	price, err := rawWad(fields[3], "price")
	if err != nil {
		return nil, err
	}
	amount, err := rawWad(fields[4], "amount")
	if err != nil {
		return nil, err
	}
	initial, err := rawWad(fields[5], "initialAmount")
	if err != nil {
		return nil, err
	}
	ts, err := rawInt64(fields[6], "timestamp")
	if err != nil {
		return nil, err
	}
	next, err := rawInt64(fields[7], "next")
	if err != nil {
		return nil, err
	}

	return &Order{
		ID:            id,
		Trader:        NormalizeAddress(trader),
		IsBuy:         isBuy,
		Price:         price,
		Amount:        amount,
		InitialAmount: initial,
		Timestamp:     ts,
		NextID:        next,
	}, nil
}

// rawInt64 accepts both JSON numbers and decimal strings for integer fields.
func rawInt64(raw jsoniter.RawMessage, field string) (int64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	if firstNonSpace(raw) == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("decode order %s: %w", field, err)
		}
		if s == "" {
			return 0, nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("decode order %s: %w", field, err)
		}
		return v, nil
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("decode order %s: %w", field, err)
	}
	return v, nil
}

// rawWad accepts both decimal strings and plain numbers for Wad fields.
// Strings are the canonical form; numbers only appear for small test values.
func rawWad(raw jsoniter.RawMessage, field string) (*big.Int, error) {
	if len(raw) == 0 {
		return big.NewInt(0), nil
	}
	if firstNonSpace(raw) == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", field, err)
		}
		v, err := fixed.ParseWad(s)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", field, err)
		}
		return v, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decode %s: %w", field, err)
	}
	return big.NewInt(n), nil
}

func firstNonSpace(raw []byte) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
