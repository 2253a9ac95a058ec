package ledger_test

import (
	"testing"

	"perpkeeper/internal/ledger"
	fixed "perpkeeper/internal/math"
)

// ============================================================================
// Test: DecodeOrder — named shape
// ============================================================================

func TestDecodeOrder_Named(t *testing.T) {
	raw := []byte(`{
		"id": 7,
		"trader": "0xABCDEF0000000000000000000000000000000001",
		"isBuy": true,
		"price": "50000000000000000000000",
		"amount": "1500000000000000000",
		"initialAmount": "2000000000000000000",
		"timestamp": 1700000000,
		"next": 9
	}`)

	order, err := ledger.DecodeOrder(raw)
	if err != nil {
		t.Fatalf("DecodeOrder: %v", err)
	}
	if order.ID != 7 {
		t.Errorf("ID = %d, want 7", order.ID)
	}
	if order.Trader != "0xabcdef0000000000000000000000000000000001" {
		t.Errorf("Trader not normalized: %q", order.Trader)
	}
	if !order.IsBuy {
		t.Error("IsBuy = false, want true")
	}
	if order.Price.Cmp(fixed.WadFromInt(50_000)) != 0 {
		t.Errorf("Price = %s", order.Price)
	}
	if order.NextID != 9 {
		t.Errorf("NextID = %d, want 9", order.NextID)
	}
	if !order.IsLive() {
		t.Error("order with remaining amount should be live")
	}
}

func TestDecodeOrder_NamedStringID(t *testing.T) {
	raw := []byte(`{"id":"12","trader":"0xa","isBuy":false,"price":"1","amount":"1","initialAmount":"1","timestamp":"99","next":"0"}`)
	order, err := ledger.DecodeOrder(raw)
	if err != nil {
		t.Fatalf("DecodeOrder: %v", err)
	}
	if order.ID != 12 || order.Timestamp != 99 || order.NextID != 0 {
		t.Errorf("string-typed ints misread: id=%d ts=%d next=%d", order.ID, order.Timestamp, order.NextID)
	}
}

// ============================================================================
// Test: DecodeOrder — positional shape
// ============================================================================

func TestDecodeOrder_Positional(t *testing.T) {
	raw := []byte(`[3, "0xB00000000000000000000000000000000000000b", false, "1000000000000000000", "500000000000000000", "1000000000000000000", 1700000001, 5]`)

	order, err := ledger.DecodeOrder(raw)
	if err != nil {
		t.Fatalf("DecodeOrder: %v", err)
	}
	if order.ID != 3 {
		t.Errorf("ID = %d, want 3", order.ID)
	}
	if order.IsBuy {
		t.Error("IsBuy = true, want false")
	}
	if order.Trader != "0xb00000000000000000000000000000000000000b" {
		t.Errorf("Trader not normalized: %q", order.Trader)
	}
	if order.NextID != 5 {
		t.Errorf("NextID = %d, want 5", order.NextID)
	}
}

func TestDecodeOrder_PositionalShort(t *testing.T) {
	if _, err := ledger.DecodeOrder([]byte(`[1, "0xa", true]`)); err == nil {
		t.Error("expected error for truncated tuple")
	}
}

// ============================================================================
// Test: vacant slot and filled orders
// ============================================================================

func TestDecodeOrder_VacantSlot(t *testing.T) {
	raw := []byte(`{"id":0,"trader":"0x0000000000000000000000000000000000000000","isBuy":false,"price":"0","amount":"0","initialAmount":"0","timestamp":0,"next":0}`)
	order, err := ledger.DecodeOrder(raw)
	if err != nil {
		t.Fatalf("DecodeOrder: %v", err)
	}
	if order.Exists() {
		t.Error("all-zero record should not exist")
	}
	if order.IsLive() {
		t.Error("all-zero record should not be live")
	}
}

func TestDecodeOrder_FilledOrderNotLive(t *testing.T) {
	raw := []byte(`{"id":4,"trader":"0xa","isBuy":true,"price":"1000000000000000000","amount":"0","initialAmount":"1000000000000000000","timestamp":1,"next":0}`)
	order, err := ledger.DecodeOrder(raw)
	if err != nil {
		t.Fatalf("DecodeOrder: %v", err)
	}
	if !order.Exists() {
		t.Error("filled order still exists in storage")
	}
	if order.IsLive() {
		t.Error("fully filled order must not be live")
	}
}

func TestDecodeOrder_UnknownShape(t *testing.T) {
	if _, err := ledger.DecodeOrder([]byte(`"just a string"`)); err == nil {
		t.Error("expected error for non-object non-array payload")
	}
}
