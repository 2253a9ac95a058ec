package event

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"perpkeeper/internal/ledger"
	fixed "perpkeeper/internal/math"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Parse converts a raw contract event (JSON payload + event name) into a
// typed Event. Raw events arrive on the message bus with the event name as
// the subject tail; the payload shape follows the indexer's emit format.
func Parse(name string, data []byte) (Event, error) {
	switch name {
	case "OrderPlaced":
		return parseOrderPlaced(data)
	case "OrderRemoved":
		return parseOrderRemoved(data)
	case "TradeExecuted":
		return parseTradeExecuted(data)
	case "MarginDeposited":
		return parseMarginDeposited(data)
	case "MarginWithdrawn":
		return parseMarginWithdrawn(data)
	case "PositionUpdated":
		return parsePositionUpdated(data)
	case "FundingUpdated":
		return parseFundingUpdated(data)
	case "FundingPaid":
		return parseFundingPaid(data)
	case "Liquidated":
		return parseLiquidated(data)
	case "VIPLevelChanged":
		return parseVIPLevelChanged(data)
	case "ReferralRegistered":
		return parseReferralRegistered(data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", name)
	}
}

// NameFromSubject extracts the event name from a bus subject like
// "exchange.events.TradeExecuted".
func NameFromSubject(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}

// --- JSON wire formats ---
// These structs mirror the payloads the indexer publishes. Fixed-point
// values travel as decimal strings; timestamps as unix seconds.

type orderPlacedJSON struct {
	OrderID   int64  `json:"orderId"`
	Trader    string `json:"trader"`
	IsBuy     bool   `json:"isBuy"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

func parseOrderPlaced(data []byte) (*OrderPlaced, error) {
	var j orderPlacedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OrderPlaced: %w", err)
	}
	price, err := fixed.ParseWad(j.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	amount, err := fixed.ParseWad(j.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &OrderPlaced{
		OrderID:   j.OrderID,
		Trader:    ledger.NormalizeAddress(j.Trader),
		IsBuy:     j.IsBuy,
		Price:     price,
		Amount:    amount,
		Timestamp: time.Unix(j.Timestamp, 0).UTC(),
	}, nil
}

type orderRemovedJSON struct {
	OrderID   int64  `json:"orderId"`
	Trader    string `json:"trader"`
	Timestamp int64  `json:"timestamp"`
}

func parseOrderRemoved(data []byte) (*OrderRemoved, error) {
	var j orderRemovedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OrderRemoved: %w", err)
	}
	return &OrderRemoved{
		OrderID:   j.OrderID,
		Trader:    ledger.NormalizeAddress(j.Trader),
		Timestamp: time.Unix(j.Timestamp, 0).UTC(),
	}, nil
}

type tradeExecutedJSON struct {
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	BuyOrderID  int64  `json:"buyOrderId"`
	SellOrderID int64  `json:"sellOrderId"`
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	Timestamp   int64  `json:"timestamp"`
}

func parseTradeExecuted(data []byte) (*TradeExecuted, error) {
	var j tradeExecutedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TradeExecuted: %w", err)
	}
	price, err := fixed.ParseWad(j.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	amount, err := fixed.ParseWad(j.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &TradeExecuted{
		Buyer:       ledger.NormalizeAddress(j.Buyer),
		Seller:      ledger.NormalizeAddress(j.Seller),
		BuyOrderID:  j.BuyOrderID,
		SellOrderID: j.SellOrderID,
		Price:       price,
		Amount:      amount,
		Timestamp:   time.Unix(j.Timestamp, 0).UTC(),
	}, nil
}

type traderAmountJSON struct {
	Trader    string `json:"trader"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

func parseTraderAmount(name string, data []byte) (string, *big.Int, time.Time, error) {
	var j traderAmountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return "", nil, time.Time{}, fmt.Errorf("parse %s: %w", name, err)
	}
	amount, err := fixed.ParseWad(j.Amount)
	if err != nil {
		return "", nil, time.Time{}, fmt.Errorf("parse amount: %w", err)
	}
	return ledger.NormalizeAddress(j.Trader), amount, time.Unix(j.Timestamp, 0).UTC(), nil
}

func parseMarginDeposited(data []byte) (*MarginDeposited, error) {
	trader, amount, ts, err := parseTraderAmount("MarginDeposited", data)
	if err != nil {
		return nil, err
	}
	return &MarginDeposited{Trader: trader, Amount: amount, Timestamp: ts}, nil
}

func parseMarginWithdrawn(data []byte) (*MarginWithdrawn, error) {
	trader, amount, ts, err := parseTraderAmount("MarginWithdrawn", data)
	if err != nil {
		return nil, err
	}
	return &MarginWithdrawn{Trader: trader, Amount: amount, Timestamp: ts}, nil
}

func parseFundingPaid(data []byte) (*FundingPaid, error) {
	trader, amount, ts, err := parseTraderAmount("FundingPaid", data)
	if err != nil {
		return nil, err
	}
	return &FundingPaid{Trader: trader, Amount: amount, Timestamp: ts}, nil
}

type positionUpdatedJSON struct {
	Trader     string `json:"trader"`
	Size       string `json:"size"`
	EntryPrice string `json:"entryPrice"`
	Timestamp  int64  `json:"timestamp"`
}

func parsePositionUpdated(data []byte) (*PositionUpdated, error) {
	var j positionUpdatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionUpdated: %w", err)
	}
	size, err := fixed.ParseWad(j.Size)
	if err != nil {
		return nil, fmt.Errorf("parse size: %w", err)
	}
	entry, err := fixed.ParseWad(j.EntryPrice)
	if err != nil {
		return nil, fmt.Errorf("parse entryPrice: %w", err)
	}
	return &PositionUpdated{
		Trader:     ledger.NormalizeAddress(j.Trader),
		Size:       size,
		EntryPrice: entry,
		Timestamp:  time.Unix(j.Timestamp, 0).UTC(),
	}, nil
}

type fundingUpdatedJSON struct {
	Rate      string `json:"rate"`
	Timestamp int64  `json:"timestamp"`
}

func parseFundingUpdated(data []byte) (*FundingUpdated, error) {
	var j fundingUpdatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FundingUpdated: %w", err)
	}
	rate, err := fixed.ParseWad(j.Rate)
	if err != nil {
		return nil, fmt.Errorf("parse rate: %w", err)
	}
	return &FundingUpdated{Rate: rate, Timestamp: time.Unix(j.Timestamp, 0).UTC()}, nil
}

type liquidatedJSON struct {
	Trader     string `json:"trader"`
	Liquidator string `json:"liquidator"`
	Amount     string `json:"amount"`
	Timestamp  int64  `json:"timestamp"`
}

func parseLiquidated(data []byte) (*Liquidated, error) {
	var j liquidatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Liquidated: %w", err)
	}
	amount, err := fixed.ParseWad(j.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &Liquidated{
		Trader:     ledger.NormalizeAddress(j.Trader),
		Liquidator: ledger.NormalizeAddress(j.Liquidator),
		Amount:     amount,
		Timestamp:  time.Unix(j.Timestamp, 0).UTC(),
	}, nil
}

type vipLevelChangedJSON struct {
	Trader    string `json:"trader"`
	OldLevel  int    `json:"oldLevel"`
	NewLevel  int    `json:"newLevel"`
	Timestamp int64  `json:"timestamp"`
}

func parseVIPLevelChanged(data []byte) (*VIPLevelChanged, error) {
	var j vipLevelChangedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse VIPLevelChanged: %w", err)
	}
	return &VIPLevelChanged{
		Trader:    ledger.NormalizeAddress(j.Trader),
		OldLevel:  j.OldLevel,
		NewLevel:  j.NewLevel,
		Timestamp: time.Unix(j.Timestamp, 0).UTC(),
	}, nil
}

type referralRegisteredJSON struct {
	Trader    string `json:"trader"`
	Referrer  string `json:"referrer"`
	Timestamp int64  `json:"timestamp"`
}

func parseReferralRegistered(data []byte) (*ReferralRegistered, error) {
	var j referralRegisteredJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ReferralRegistered: %w", err)
	}
	return &ReferralRegistered{
		Trader:    ledger.NormalizeAddress(j.Trader),
		Referrer:  ledger.NormalizeAddress(j.Referrer),
		Timestamp: time.Unix(j.Timestamp, 0).UTC(),
	}, nil
}
