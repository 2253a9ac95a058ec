package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"perpkeeper/internal/ledger"
	"perpkeeper/internal/observability"
)

// ErrReplicaUnavailable wraps any replica query failure so callers can
// switch to their in-memory fallback.
var ErrReplicaUnavailable = errors.New("read replica unavailable")

// Client reads the indexer's projection tables on the Postgres replica.
// The indexer consumes the same contract events the keeper does and
// materializes trade, candle, and order history; the keeper treats those
// tables as read-only.
type Client struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewClient(db *sql.DB, metrics *observability.Metrics) *Client {
	return &Client{db: db, metrics: metrics}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) fail(query string, err error) error {
	c.metrics.ReplicaQueries.WithLabelValues(query, "error").Inc()
	return fmt.Errorf("%s: %w: %v", query, ErrReplicaUnavailable, err)
}

func (c *Client) ok(query string) {
	c.metrics.ReplicaQueries.WithLabelValues(query, "ok").Inc()
}

// TradeRow is one executed trade from the projection tables.
type TradeRow struct {
	Price     string    `json:"price"`
	Amount    string    `json:"amount"`
	Side      string    `json:"side"`
	Buyer     string    `json:"buyer"`
	Seller    string    `json:"seller"`
	Timestamp time.Time `json:"timestamp"`
}

// RecentTrades returns the newest trades, newest first.
func (c *Client) RecentTrades(ctx context.Context, limit int) ([]TradeRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT price, amount, side, buyer, seller, executed_at
		FROM trades
		ORDER BY executed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, c.fail("recent_trades", err)
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var t TradeRow
		if err := rows.Scan(&t.Price, &t.Amount, &t.Side, &t.Buyer, &t.Seller, &t.Timestamp); err != nil {
			return nil, c.fail("recent_trades", err)
		}
		t.Buyer = ledger.NormalizeAddress(t.Buyer)
		t.Seller = ledger.NormalizeAddress(t.Seller)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail("recent_trades", err)
	}
	c.ok("recent_trades")
	return out, nil
}

// Candle is one OHLCV bucket.
type Candle struct {
	BucketStart time.Time `json:"bucketStart"`
	Open        string    `json:"open"`
	High        string    `json:"high"`
	Low         string    `json:"low"`
	Close       string    `json:"close"`
	Volume      string    `json:"volume"`
}

// Candles returns OHLCV buckets for the interval, oldest first. Interval
// is a projection-table key like "1m", "5m", "1h".
func (c *Client) Candles(ctx context.Context, interval string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT bucket_start, open, high, low, close, volume
		FROM candles
		WHERE interval = $1
		ORDER BY bucket_start DESC
		LIMIT $2
	`, interval, limit)
	if err != nil {
		return nil, c.fail("candles", err)
	}
	defer rows.Close()

	var out []Candle
	for rows.Next() {
		var cd Candle
		if err := rows.Scan(&cd.BucketStart, &cd.Open, &cd.High, &cd.Low, &cd.Close, &cd.Volume); err != nil {
			return nil, c.fail("candles", err)
		}
		out = append(out, cd)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail("candles", err)
	}
	c.ok("candles")

	// Serve oldest first; the query walks newest first to apply the limit.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// OpenOrderRow is one resting order belonging to a trader.
type OpenOrderRow struct {
	OrderID   int64     `json:"orderId"`
	IsBuy     bool      `json:"isBuy"`
	Price     string    `json:"price"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// OpenOrders returns a trader's live orders, newest first.
func (c *Client) OpenOrders(ctx context.Context, trader string) ([]OpenOrderRow, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT order_id, is_buy, price, remaining_amount, created_at
		FROM orders
		WHERE trader = $1 AND remaining_amount > 0
		ORDER BY created_at DESC
	`, ledger.NormalizeAddress(trader))
	if err != nil {
		return nil, c.fail("open_orders", err)
	}
	defer rows.Close()

	var out []OpenOrderRow
	for rows.Next() {
		var o OpenOrderRow
		if err := rows.Scan(&o.OrderID, &o.IsBuy, &o.Price, &o.Amount, &o.CreatedAt); err != nil {
			return nil, c.fail("open_orders", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail("open_orders", err)
	}
	c.ok("open_orders")
	return out, nil
}

// TradeHistory returns a trader's fills, newest first.
func (c *Client) TradeHistory(ctx context.Context, trader string, limit int) ([]TradeRow, error) {
	if limit <= 0 {
		limit = 100
	}
	addr := ledger.NormalizeAddress(trader)
	rows, err := c.db.QueryContext(ctx, `
		SELECT price, amount, side, buyer, seller, executed_at
		FROM trades
		WHERE buyer = $1 OR seller = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`, addr, limit)
	if err != nil {
		return nil, c.fail("trade_history", err)
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var t TradeRow
		if err := rows.Scan(&t.Price, &t.Amount, &t.Side, &t.Buyer, &t.Seller, &t.Timestamp); err != nil {
			return nil, c.fail("trade_history", err)
		}
		t.Buyer = ledger.NormalizeAddress(t.Buyer)
		t.Seller = ledger.NormalizeAddress(t.Seller)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail("trade_history", err)
	}
	c.ok("trade_history")
	return out, nil
}

// UserVolume returns a trader's total traded quote volume as recorded by
// the projections, as a decimal string in 1e18 fixed point. Traders with
// no fills report zero.
func (c *Client) UserVolume(ctx context.Context, trader string) (string, error) {
	var volume string
	err := c.db.QueryRowContext(ctx, `
		SELECT volume::text
		FROM user_volumes
		WHERE trader = $1
	`, ledger.NormalizeAddress(trader)).Scan(&volume)
	if errors.Is(err, sql.ErrNoRows) {
		c.ok("user_volume")
		return "0", nil
	}
	if err != nil {
		return "", c.fail("user_volume", err)
	}
	c.ok("user_volume")
	return volume, nil
}
