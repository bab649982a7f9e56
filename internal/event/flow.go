package event

import (
	"FlowBreaker/internal/state"

	"cosmossdk.io/math"
	"github.com/google/uuid"
)

// LiquidityIncrease records a positive delta for an identifier. Inflows
// never trip the breaker.
type LiquidityIncrease struct {
	OpID             uuid.UUID
	Ident            state.Identifier
	Amount           math.Int
	Token            string
	SettlementAmount math.Int
	Payload          []byte // opaque caller payload, forwarded on diversion
	CallerAddr       string
	Timestamp        int64
}

func (e *LiquidityIncrease) IdempotencyKey() string { return e.OpID.String() }
func (e *LiquidityIncrease) Type() Type             { return TypeLiquidityIncrease }
func (e *LiquidityIncrease) Caller() string         { return e.CallerAddr }
func (e *LiquidityIncrease) OccurredAt() int64      { return e.Timestamp }

func (e *LiquidityIncrease) Identifier() *string {
	s := string(e.Ident)
	return &s
}

// LiquidityDecrease records a negative delta for an identifier, subject
// to the rate-limit decision. On trip the flow is diverted to the
// settlement module instead of completing as a normal outflow.
type LiquidityDecrease struct {
	OpID             uuid.UUID
	Ident            state.Identifier
	Amount           math.Int
	Token            string
	SettlementAmount math.Int
	Payload          []byte
	CallerAddr       string
	Timestamp        int64
}

func (e *LiquidityDecrease) IdempotencyKey() string { return e.OpID.String() }
func (e *LiquidityDecrease) Type() Type             { return TypeLiquidityDecrease }
func (e *LiquidityDecrease) Caller() string         { return e.CallerAddr }
func (e *LiquidityDecrease) OccurredAt() int64      { return e.Timestamp }

func (e *LiquidityDecrease) Identifier() *string {
	s := string(e.Ident)
	return &s
}

// Diversion is the settlement hand-off emitted when a decrease trips:
// the requested amount is not released to the caller but pushed to the
// configured settlement module, queued on JetStream.
type Diversion struct {
	OpID             uuid.UUID        `json:"op_id"`
	Identifier       state.Identifier `json:"identifier"`
	SettlementModule string           `json:"settlement_module"`
	Amount           math.Int         `json:"amount"`
	Token            string           `json:"token"`
	SettlementAmount math.Int         `json:"settlement_amount"`
	Payload          []byte           `json:"payload,omitempty"`
	Caller           string           `json:"caller"`
	TrippedAt        int64            `json:"tripped_at"`
}
