package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	fixed "perpkeeper/internal/math"
)

// ErrLedgerInvalid is returned when the validity guard has tripped and a
// transaction submission was refused.
var ErrLedgerInvalid = errors.New("ledger marked invalid")

// Client is the read/write boundary to the exchange gateway: a JSON-RPC 2.0
// endpoint exposing the contract's view functions, transaction submission,
// and receipt lookup. The client is stateless apart from the validity guard;
// it is safe for concurrent use by the independent control loops.
type Client struct {
	endpoint   string
	httpClient *http.Client
	guard      *Guard
	log        zerolog.Logger

	receiptPollInterval time.Duration
	receiptWaitBound    time.Duration

	// txSubmitted, when set, records each state-changing call's outcome.
	txSubmitted func(method, status string)

	nextID atomic.Int64
}

type Config struct {
	Endpoint            string
	RequestTimeout      time.Duration
	ReceiptPollInterval time.Duration
	ReceiptWaitBound    time.Duration
	GuardThreshold      int
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = 500 * time.Millisecond
	}
	if cfg.ReceiptWaitBound <= 0 {
		cfg.ReceiptWaitBound = 30 * time.Second
	}
	return &Client{
		endpoint:            cfg.Endpoint,
		httpClient:          &http.Client{Timeout: cfg.RequestTimeout},
		guard:               NewGuard(cfg.GuardThreshold, log),
		log:                 log,
		receiptPollInterval: cfg.ReceiptPollInterval,
		receiptWaitBound:    cfg.ReceiptWaitBound,
	}
}

// Guard exposes the validity guard for callers that gate their own reads.
func (c *Client) Guard() *Guard {
	return c.guard
}

// OnTxSubmitted registers a hook recording each write's method and outcome.
func (c *Client) OnTxSubmitted(fn func(method, status string)) {
	c.txSubmitted = fn
}

// --- JSON-RPC plumbing ---

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result jsoniter.RawMessage `json:"result"`
	Error  *RPCError           `json:"error"`
}

// RPCError is a gateway-reported call failure (reverts surface here).
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: gateway returned HTTP %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if out != nil {
		// jsoniter decodes a JSON null result into an empty RawMessage rather
		// than the literal "null"; restore the literal so a null result leaves
		// out untouched instead of failing the unmarshal.
		raw := rpcResp.Result
		if len(raw) == 0 {
			raw = jsoniter.RawMessage("null")
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) callWad(ctx context.Context, method string, params ...interface{}) (*big.Int, error) {
	var s string
	if err := c.call(ctx, method, params, &s); err != nil {
		return nil, err
	}
	return fixed.ParseWad(s)
}

// --- Price and book-head reads ---

func (c *Client) MarkPrice(ctx context.Context) (*big.Int, error) {
	return c.callWad(ctx, "exchange_markPrice")
}

func (c *Client) IndexPrice(ctx context.Context) (*big.Int, error) {
	return c.callWad(ctx, "exchange_indexPrice")
}

// BestBidID returns the head order id of the bid chain; 0 means empty side.
func (c *Client) BestBidID(ctx context.Context) (int64, error) {
	var id int64
	err := c.call(ctx, "exchange_bestBidId", nil, &id)
	return id, err
}

// BestAskID returns the head order id of the ask chain; 0 means empty side.
func (c *Client) BestAskID(ctx context.Context) (int64, error) {
	var id int64
	err := c.call(ctx, "exchange_bestAskId", nil, &id)
	return id, err
}

// OrderByID reads one order slot. Nonexistent ids return the all-zero
// sentinel record, which decodes to an Order with ID 0.
func (c *Client) OrderByID(ctx context.Context, id int64) (*Order, error) {
	var raw jsoniter.RawMessage
	if err := c.call(ctx, "exchange_getOrder", []interface{}{id}, &raw); err != nil {
		return nil, err
	}
	return DecodeOrder(raw)
}

// --- Trader reads ---

type positionJSON struct {
	Size       string `json:"size"`
	EntryPrice string `json:"entryPrice"`
}

func (c *Client) GetPosition(ctx context.Context, trader string) (*Position, error) {
	var j positionJSON
	if err := c.call(ctx, "exchange_getPosition", []interface{}{trader}, &j); err != nil {
		return nil, err
	}
	size, err := fixed.ParseWad(j.Size)
	if err != nil {
		return nil, fmt.Errorf("position size: %w", err)
	}
	entry, err := fixed.ParseWad(j.EntryPrice)
	if err != nil {
		return nil, fmt.Errorf("position entryPrice: %w", err)
	}
	return &Position{Size: size, EntryPrice: entry}, nil
}

func (c *Client) GetMargin(ctx context.Context, trader string) (*big.Int, error) {
	return c.callWad(ctx, "exchange_getMargin", trader)
}

// CanLiquidate asks the contract's liquidatable predicate for one trader.
func (c *Client) CanLiquidate(ctx context.Context, trader string) (bool, error) {
	var ok bool
	err := c.call(ctx, "exchange_canLiquidate", []interface{}{trader}, &ok)
	return ok, err
}

// --- VIP and referral reads ---

func (c *Client) GetVIPLevel(ctx context.Context, trader string) (int, error) {
	var level int
	err := c.call(ctx, "exchange_getVIPLevel", []interface{}{trader}, &level)
	return level, err
}

func (c *Client) GetCumulativeVolume(ctx context.Context, trader string) (*big.Int, error) {
	return c.callWad(ctx, "exchange_getCumulativeVolume", trader)
}

func (c *Client) GetVolumeToNextVIP(ctx context.Context, trader string) (*big.Int, error) {
	return c.callWad(ctx, "exchange_getVolumeToNextVIP", trader)
}

func (c *Client) GetFeeRateBps(ctx context.Context, trader string) (int64, error) {
	var bps int64
	err := c.call(ctx, "exchange_getFeeRate", []interface{}{trader}, &bps)
	return bps, err
}

// GetReferrer returns the trader's referrer address, or "" when unset
// (zero-address sentinel).
func (c *Client) GetReferrer(ctx context.Context, trader string) (string, error) {
	var addr string
	if err := c.call(ctx, "exchange_getReferrer", []interface{}{trader}, &addr); err != nil {
		return "", err
	}
	if IsZeroAddress(addr) {
		return "", nil
	}
	return NormalizeAddress(addr), nil
}

// --- Validity probe ---

// ProbeContract checks that the exchange address has deployed bytecode.
// A successful probe re-arms the validity guard; a missing-code result
// counts as a failure.
func (c *Client) ProbeContract(ctx context.Context) (bool, error) {
	var code string
	if err := c.call(ctx, "exchange_getCode", nil, &code); err != nil {
		c.guard.RecordFailure()
		return false, err
	}
	if code == "" || code == "0x" {
		c.guard.RecordFailure()
		return false, nil
	}
	c.guard.RecordSuccess()
	return true, nil
}
