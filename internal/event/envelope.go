package event

// Type discriminates operation and notification payloads.
type Type int32

const (
	TypeUnknown Type = iota
	TypeLiquidityIncrease
	TypeLiquidityDecrease
	TypeBreakerTripped
	TypeParameterAdded
	TypeParameterUpdated
	TypeProtectedContractsAdded
	TypeProtectedContractsRemoved
	TypeOperationalStatusSet
	TypeGracePeriodStarted
	TypeRateLimitOverridden
	TypeLimiterOverrideSet
	TypeBacklogCleared
)

func (t Type) String() string {
	switch t {
	case TypeLiquidityIncrease:
		return "LiquidityIncrease"
	case TypeLiquidityDecrease:
		return "LiquidityDecrease"
	case TypeBreakerTripped:
		return "BreakerTripped"
	case TypeParameterAdded:
		return "ParameterAdded"
	case TypeParameterUpdated:
		return "ParameterUpdated"
	case TypeProtectedContractsAdded:
		return "ProtectedContractsAdded"
	case TypeProtectedContractsRemoved:
		return "ProtectedContractsRemoved"
	case TypeOperationalStatusSet:
		return "OperationalStatusSet"
	case TypeGracePeriodStarted:
		return "GracePeriodStarted"
	case TypeRateLimitOverridden:
		return "RateLimitOverridden"
	case TypeLimiterOverrideSet:
		return "LimiterOverrideSet"
	case TypeBacklogCleared:
		return "BacklogCleared"
	default:
		return "Unknown"
	}
}

// Envelope wraps every applied operation in the event log.
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key from the caller
	IdempotencyKey string

	Type Type

	// Identifier context (nil for gate-wide operations)
	Identifier *string

	// Caller-supplied timestamp, unix seconds (the engine never reads
	// the wall clock)
	Timestamp int64

	// JSON-encoded operation payload
	Payload []byte
}

// Operation is the interface all inbound mutations implement.
type Operation interface {
	// IdempotencyKey returns the stable dedup key.
	IdempotencyKey() string

	// Type returns the discriminator.
	Type() Type

	// Identifier returns the scoped identifier (nil for gate-wide ops).
	Identifier() *string

	// Caller returns the invoking address.
	Caller() string

	// OccurredAt returns the operation timestamp, unix seconds.
	OccurredAt() int64
}
