package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"FlowBreaker/internal/event"
	"FlowBreaker/internal/state"

	"cosmossdk.io/math"
	"github.com/google/uuid"
)

// flowJSON is the wire format of a liquidity flow on NATS. Field names
// use snake_case to match upstream producers; amounts are decimal
// strings so 18-decimal token values survive the trip.
type flowJSON struct {
	OpID             string   `json:"op_id"`
	Identifier       string   `json:"identifier"`
	Amount           math.Int `json:"amount"`
	Token            string   `json:"token"`
	SettlementAmount math.Int `json:"settlement_amount"`
	Payload          []byte   `json:"payload,omitempty"`
	Caller           string   `json:"caller"`
	Timestamp        int64    `json:"timestamp"`
}

func (j *flowJSON) validate() (uuid.UUID, state.Identifier, error) {
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("parse op_id: %w", err)
	}
	id := state.Identifier(j.Identifier)
	if !id.Valid() {
		return uuid.Nil, "", fmt.Errorf("invalid identifier: %q", j.Identifier)
	}
	if j.Amount.IsNil() {
		return uuid.Nil, "", fmt.Errorf("missing amount")
	}
	if j.Caller == "" {
		return uuid.Nil, "", fmt.Errorf("missing caller")
	}
	if j.Timestamp <= 0 {
		return uuid.Nil, "", fmt.Errorf("invalid timestamp: %d", j.Timestamp)
	}
	return opID, id, nil
}

// ParseRawFlow converts a RawFlow into a typed operation based on its
// subject (breaker.flow.increase.* or breaker.flow.decrease.*).
func ParseRawFlow(raw RawFlow) (event.Operation, error) {
	switch {
	case strings.HasPrefix(raw.Subject, "breaker.flow.increase."):
		return ParseLiquidityIncrease(raw.Data)
	case strings.HasPrefix(raw.Subject, "breaker.flow.decrease."):
		return ParseLiquidityDecrease(raw.Data)
	default:
		return nil, fmt.Errorf("unknown flow subject: %s", raw.Subject)
	}
}

func ParseLiquidityIncrease(data []byte) (*event.LiquidityIncrease, error) {
	var j flowJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LiquidityIncrease: %w", err)
	}
	opID, id, err := j.validate()
	if err != nil {
		return nil, fmt.Errorf("parse LiquidityIncrease: %w", err)
	}

	return &event.LiquidityIncrease{
		OpID:             opID,
		Ident:            id,
		Amount:           j.Amount,
		Token:            j.Token,
		SettlementAmount: j.SettlementAmount,
		Payload:          j.Payload,
		CallerAddr:       j.Caller,
		Timestamp:        j.Timestamp,
	}, nil
}

func ParseLiquidityDecrease(data []byte) (*event.LiquidityDecrease, error) {
	var j flowJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LiquidityDecrease: %w", err)
	}
	opID, id, err := j.validate()
	if err != nil {
		return nil, fmt.Errorf("parse LiquidityDecrease: %w", err)
	}

	return &event.LiquidityDecrease{
		OpID:             opID,
		Ident:            id,
		Amount:           j.Amount,
		Token:            j.Token,
		SettlementAmount: j.SettlementAmount,
		Payload:          j.Payload,
		CallerAddr:       j.Caller,
		Timestamp:        j.Timestamp,
	}, nil
}
