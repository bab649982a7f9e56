package ingestion_test

import (
	"fmt"
	"testing"

	"FlowBreaker/internal/event"
	"FlowBreaker/internal/ingestion"
	"FlowBreaker/internal/state"

	"cosmossdk.io/math"
)

var pairID = state.HashPair("WETH/USDC")

func flowJSON(opID, identifier string) []byte {
	return []byte(fmt.Sprintf(`{
		"op_id": %q,
		"identifier": %q,
		"amount": "2000000000000000000000",
		"token": "WETH",
		"settlement_amount": "2000000000000000000000",
		"caller": "pool-contract-0001",
		"timestamp": 1700000400
	}`, opID, identifier))
}

const opID = "550e8400-e29b-41d4-a716-446655440000"

func TestParseLiquidityIncrease_Valid(t *testing.T) {
	op, err := ingestion.ParseLiquidityIncrease(flowJSON(opID, string(pairID)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if op.Ident != pairID {
		t.Errorf("identifier = %s, want %s", op.Ident, pairID)
	}
	want := math.NewIntWithDecimal(2_000, 18)
	if !op.Amount.Equal(want) {
		t.Errorf("amount = %s, want %s", op.Amount, want)
	}
	if op.CallerAddr != "pool-contract-0001" {
		t.Errorf("caller = %q", op.CallerAddr)
	}
	if op.Timestamp != 1700000400 {
		t.Errorf("timestamp = %d", op.Timestamp)
	}
}

func TestParseLiquidityDecrease_InvalidIdentifier(t *testing.T) {
	_, err := ingestion.ParseLiquidityDecrease(flowJSON(opID, "not-a-hash"))
	if err == nil {
		t.Fatal("expected error for invalid identifier")
	}
}

func TestParseLiquidityIncrease_MissingAmount(t *testing.T) {
	data := []byte(fmt.Sprintf(`{
		"op_id": %q,
		"identifier": %q,
		"caller": "pool-contract-0001",
		"timestamp": 1700000400
	}`, opID, string(pairID)))

	_, err := ingestion.ParseLiquidityIncrease(data)
	if err == nil {
		t.Fatal("expected error for missing amount")
	}
}

func TestParseLiquidityIncrease_BadOpID(t *testing.T) {
	_, err := ingestion.ParseLiquidityIncrease(flowJSON("nope", string(pairID)))
	if err == nil {
		t.Fatal("expected error for bad op_id")
	}
}

func TestParseLiquidityIncrease_MissingCaller(t *testing.T) {
	data := []byte(fmt.Sprintf(`{
		"op_id": %q,
		"identifier": %q,
		"amount": "100",
		"timestamp": 1700000400
	}`, opID, string(pairID)))

	_, err := ingestion.ParseLiquidityIncrease(data)
	if err == nil {
		t.Fatal("expected error for missing caller")
	}
}

func TestParseRawFlow_SubjectRouting(t *testing.T) {
	data := flowJSON(opID, string(pairID))

	op, err := ingestion.ParseRawFlow(ingestion.RawFlow{
		Subject: "breaker.flow.increase." + string(pairID),
		Data:    data,
	})
	if err != nil {
		t.Fatalf("parse increase: %v", err)
	}
	if op.Type() != event.TypeLiquidityIncrease {
		t.Errorf("type = %s, want LiquidityIncrease", op.Type())
	}

	op, err = ingestion.ParseRawFlow(ingestion.RawFlow{
		Subject: "breaker.flow.decrease." + string(pairID),
		Data:    data,
	})
	if err != nil {
		t.Fatalf("parse decrease: %v", err)
	}
	if op.Type() != event.TypeLiquidityDecrease {
		t.Errorf("type = %s, want LiquidityDecrease", op.Type())
	}

	_, err = ingestion.ParseRawFlow(ingestion.RawFlow{Subject: "breaker.flow.other", Data: data})
	if err == nil {
		t.Error("expected error for unknown subject")
	}
}
