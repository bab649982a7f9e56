package event

import (
	"FlowBreaker/internal/state"

	"cosmossdk.io/math"
	"github.com/google/uuid"
)

// AdminOp carries the fields shared by every owner-gated operation.
type AdminOp struct {
	OpID       uuid.UUID
	CallerAddr string
	Timestamp  int64
}

func (a *AdminOp) IdempotencyKey() string { return a.OpID.String() }
func (a *AdminOp) Caller() string         { return a.CallerAddr }
func (a *AdminOp) OccurredAt() int64      { return a.Timestamp }
func (a *AdminOp) Identifier() *string    { return nil }

func newAdminMeta(caller string, ts int64) AdminOp {
	return AdminOp{OpID: uuid.New(), CallerAddr: caller, Timestamp: ts}
}

// IdentOp is an AdminOp scoped to a single identifier.
type IdentOp struct {
	AdminOp
	Ident state.Identifier
}

func (i *IdentOp) Identifier() *string {
	s := string(i.Ident)
	return &s
}

// AddSecurityParameter registers a new identifier.
type AddSecurityParameter struct {
	IdentOp
	MinLiqRetainedBps   int64
	LimitBeginThreshold math.Int
	SettlementModule    string
}

func NewAddSecurityParameter(caller string, ts int64, id state.Identifier, bps int64, threshold math.Int, module string) *AddSecurityParameter {
	return &AddSecurityParameter{
		IdentOp:             IdentOp{AdminOp: newAdminMeta(caller, ts), Ident: id},
		MinLiqRetainedBps:   bps,
		LimitBeginThreshold: threshold,
		SettlementModule:    module,
	}
}

func (e *AddSecurityParameter) Type() Type { return TypeParameterAdded }

// UpdateSecurityParameter replaces an existing identifier's configuration.
type UpdateSecurityParameter struct {
	IdentOp
	MinLiqRetainedBps   int64
	LimitBeginThreshold math.Int
	SettlementModule    string
}

func NewUpdateSecurityParameter(caller string, ts int64, id state.Identifier, bps int64, threshold math.Int, module string) *UpdateSecurityParameter {
	return &UpdateSecurityParameter{
		IdentOp:             IdentOp{AdminOp: newAdminMeta(caller, ts), Ident: id},
		MinLiqRetainedBps:   bps,
		LimitBeginThreshold: threshold,
		SettlementModule:    module,
	}
}

func (e *UpdateSecurityParameter) Type() Type { return TypeParameterUpdated }

// AddProtectedContracts extends the protected-contract set.
type AddProtectedContracts struct {
	AdminOp
	Contracts []string
}

func NewAddProtectedContracts(caller string, ts int64, contracts []string) *AddProtectedContracts {
	return &AddProtectedContracts{AdminOp: newAdminMeta(caller, ts), Contracts: contracts}
}

func (e *AddProtectedContracts) Type() Type { return TypeProtectedContractsAdded }

// RemoveProtectedContracts shrinks the protected-contract set.
type RemoveProtectedContracts struct {
	AdminOp
	Contracts []string
}

func NewRemoveProtectedContracts(caller string, ts int64, contracts []string) *RemoveProtectedContracts {
	return &RemoveProtectedContracts{AdminOp: newAdminMeta(caller, ts), Contracts: contracts}
}

func (e *RemoveProtectedContracts) Type() Type { return TypeProtectedContractsRemoved }

// SetOperationalStatus flips the global kill switch.
type SetOperationalStatus struct {
	AdminOp
	Operational bool
}

func NewSetOperationalStatus(caller string, ts int64, operational bool) *SetOperationalStatus {
	return &SetOperationalStatus{AdminOp: newAdminMeta(caller, ts), Operational: operational}
}

func (e *SetOperationalStatus) Type() Type { return TypeOperationalStatusSet }

// StartGracePeriod suspends enforcement globally until EndTimestamp.
type StartGracePeriod struct {
	AdminOp
	EndTimestamp int64
}

func NewStartGracePeriod(caller string, ts, end int64) *StartGracePeriod {
	return &StartGracePeriod{AdminOp: newAdminMeta(caller, ts), EndTimestamp: end}
}

func (e *StartGracePeriod) Type() Type { return TypeGracePeriodStarted }

// OverrideRateLimit clears a live trip after the cooldown has elapsed.
type OverrideRateLimit struct {
	IdentOp
}

func NewOverrideRateLimit(caller string, ts int64, id state.Identifier) *OverrideRateLimit {
	return &OverrideRateLimit{IdentOp: IdentOp{AdminOp: newAdminMeta(caller, ts), Ident: id}}
}

func (e *OverrideRateLimit) Type() Type { return TypeRateLimitOverridden }

// SetLimiterOverridden toggles the per-identifier enforcement bypass.
type SetLimiterOverridden struct {
	IdentOp
	Overridden bool
}

func NewSetLimiterOverridden(caller string, ts int64, id state.Identifier, overridden bool) *SetLimiterOverridden {
	return &SetLimiterOverridden{
		IdentOp:    IdentOp{AdminOp: newAdminMeta(caller, ts), Ident: id},
		Overridden: overridden,
	}
}

func (e *SetLimiterOverridden) Type() Type { return TypeLimiterOverrideSet }

// ClearBackLog evicts up to MaxIterations stale tick nodes.
type ClearBackLog struct {
	IdentOp
	MaxIterations int
}

func NewClearBackLog(caller string, ts int64, id state.Identifier, maxIterations int) *ClearBackLog {
	return &ClearBackLog{
		IdentOp:       IdentOp{AdminOp: newAdminMeta(caller, ts), Ident: id},
		MaxIterations: maxIterations,
	}
}

func (e *ClearBackLog) Type() Type { return TypeBacklogCleared }
