package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	fixed "perpkeeper/internal/math"
)

// ErrTxReverted is returned when a submitted transaction was mined with a
// non-success status.
var ErrTxReverted = errors.New("transaction reverted")

// ErrReceiptTimeout is returned when a transaction was accepted but no
// receipt appeared within the wait bound. The transaction may still land.
var ErrReceiptTimeout = errors.New("timed out waiting for receipt")

// submitAndWait sends one state-changing call and blocks until its receipt
// confirms. Every submission carries a fresh correlation id so gateway-side
// logs can be joined with ours.
func (c *Client) submitAndWait(ctx context.Context, method string, params ...interface{}) (*Receipt, error) {
	if !c.guard.Allow() {
		c.recordTx(method, "guard_blocked")
		return nil, fmt.Errorf("%s: %w", method, ErrLedgerInvalid)
	}

	correlationID := uuid.New().String()
	log := c.log.With().Str("method", method).Str("correlation_id", correlationID).Logger()

	var txHash string
	sendParams := append(params, map[string]string{"correlationId": correlationID})
	if err := c.call(ctx, method, sendParams, &txHash); err != nil {
		c.recordTx(method, "submit_failed")
		return nil, err
	}
	log.Debug().Str("tx_hash", txHash).Msg("transaction submitted")

	receipt, err := c.waitReceipt(ctx, txHash)
	if err != nil {
		c.recordTx(method, "receipt_failed")
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if !receipt.Succeeded() {
		c.recordTx(method, "reverted")
		log.Warn().Str("tx_hash", txHash).Str("status", receipt.Status).Msg("transaction reverted")
		return receipt, fmt.Errorf("%s: %w", method, ErrTxReverted)
	}
	c.recordTx(method, "confirmed")
	log.Debug().Str("tx_hash", txHash).Int64("block", receipt.BlockNumber).Msg("transaction confirmed")
	return receipt, nil
}

func (c *Client) recordTx(method, status string) {
	if c.txSubmitted != nil {
		c.txSubmitted(method, status)
	}
}

// waitReceipt polls the gateway until the receipt is available or the wait
// bound elapses. A null result means the transaction is still pending.
func (c *Client) waitReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	deadline := time.Now().Add(c.receiptWaitBound)
	ticker := time.NewTicker(c.receiptPollInterval)
	defer ticker.Stop()

	for {
		var receipt *Receipt
		if err := c.call(ctx, "exchange_getReceipt", []interface{}{txHash}, &receipt); err != nil {
			return nil, err
		}
		if receipt != nil {
			receipt.TxHash = txHash
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrReceiptTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// --- Collateral ---

func (c *Client) Deposit(ctx context.Context, amount *big.Int) (*Receipt, error) {
	return c.submitAndWait(ctx, "exchange_deposit", fixed.FormatWad(amount))
}

func (c *Client) Withdraw(ctx context.Context, amount *big.Int) (*Receipt, error) {
	return c.submitAndWait(ctx, "exchange_withdraw", fixed.FormatWad(amount))
}

// --- Orders ---

// PlaceOrder submits a resting order. hintID names the resting order to
// start the contract's insertion walk from; zero means walk from the head.
func (c *Client) PlaceOrder(ctx context.Context, isBuy bool, price, amount *big.Int, hintID int64) (*Receipt, error) {
	return c.submitAndWait(ctx, "exchange_placeOrder", isBuy, fixed.FormatWad(price), fixed.FormatWad(amount), hintID)
}

func (c *Client) CancelOrder(ctx context.Context, orderID int64) (*Receipt, error) {
	return c.submitAndWait(ctx, "exchange_cancelOrder", orderID)
}

// --- Liquidation ---

// Liquidate closes the trader's position. A zero amount means the whole
// position.
func (c *Client) Liquidate(ctx context.Context, trader string, amount *big.Int) (*Receipt, error) {
	return c.submitAndWait(ctx, "exchange_liquidate", trader, fixed.FormatWad(amount))
}

// --- VIP and referrals ---

// CheckVIPUpgrade asks the contract to re-evaluate the caller's tier from
// its recorded volume. Reverts when no upgrade is due.
func (c *Client) CheckVIPUpgrade(ctx context.Context) (*Receipt, error) {
	return c.submitAndWait(ctx, "exchange_checkVIPUpgrade")
}

// SetVIPLevel force-sets a trader's tier. Privileged; only the keeper's
// configured operator key may call it.
func (c *Client) SetVIPLevel(ctx context.Context, trader string, level int) (*Receipt, error) {
	return c.submitAndWait(ctx, "exchange_setVIPLevel", trader, level)
}

func (c *Client) RegisterReferral(ctx context.Context, referrer string) (*Receipt, error) {
	return c.submitAndWait(ctx, "exchange_registerReferral", referrer)
}
