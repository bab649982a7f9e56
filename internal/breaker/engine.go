package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FlowBreaker/internal/event"
	"FlowBreaker/internal/gate"
	"FlowBreaker/internal/ledger"
	"FlowBreaker/internal/observability"
	"FlowBreaker/internal/state"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"
)

// Default engine configuration, unix seconds.
const (
	DefaultTickLength          int64 = 600     // 10 minutes
	DefaultWithdrawalPeriod    int64 = 172_800 // 48 hours
	DefaultRateLimitCooldown   int64 = 3_600   // 1 hour
	DefaultIdempotencyCapacity       = 1_000_000
)

// Config holds the engine's time parameters. All durations are unix
// seconds; the engine never reads the wall clock, every timestamp is an
// operation input.
type Config struct {
	TickLength        int64
	WithdrawalPeriod  int64
	RateLimitCooldown int64

	IdempotencyCapacity int
}

func DefaultConfig() Config {
	return Config{
		TickLength:          DefaultTickLength,
		WithdrawalPeriod:    DefaultWithdrawalPeriod,
		RateLimitCooldown:   DefaultRateLimitCooldown,
		IdempotencyCapacity: DefaultIdempotencyCapacity,
	}
}

func (c Config) Validate() error {
	if c.TickLength <= 0 {
		return fmt.Errorf("tick length must be positive, got %d", c.TickLength)
	}
	if c.WithdrawalPeriod <= 0 {
		return fmt.Errorf("withdrawal period must be positive, got %d", c.WithdrawalPeriod)
	}
	if c.WithdrawalPeriod%c.TickLength != 0 {
		return fmt.Errorf("withdrawal period %d must be a multiple of tick length %d",
			c.WithdrawalPeriod, c.TickLength)
	}
	if c.RateLimitCooldown < 0 {
		return fmt.Errorf("rate limit cooldown must be non-negative, got %d", c.RateLimitCooldown)
	}
	if c.IdempotencyCapacity <= 0 {
		return fmt.Errorf("idempotency capacity must be positive, got %d", c.IdempotencyCapacity)
	}
	return nil
}

// TickUpsert is a touched tick node destined for persistence.
type TickUpsert struct {
	Identifier state.Identifier
	Node       ledger.TickNode
}

// GateSnapshot is the full gate row after a gate-affecting operation.
type GateSnapshot struct {
	Owner             string
	Operational       bool
	GracePeriodEnd    int64
	GlobalRateLimited bool
	Protected         []string
}

// Output is one applied operation with its state deltas. The persist
// channel receives every Output (blocking); the publish channel gets a
// best-effort copy for notifications.
type Output struct {
	Envelope event.Envelope

	// State deltas, nil/empty when the operation did not touch them
	ParamUpsert *state.SecurityParams
	TickUpserts []TickUpsert
	TickDeletes []int64 // tick timestamps, identifier from Envelope.Identifier
	Gate        *GateSnapshot
}

// Result is the synchronous outcome returned to the submitter.
type Result struct {
	Sequence  int64
	Decision  Decision
	Duplicate bool

	// Removed is the tick node count evicted by a backlog clear.
	Removed int

	// Overridden is the new flag value after a limiter override toggle.
	Overridden bool
}

type submitResult struct {
	res *Result
	err error
}

type submission struct {
	op    event.Operation
	reply chan submitResult
}

type query struct {
	fn   func()
	done chan struct{}
}

// Engine is the single-threaded rate-limit processor. All state it owns
// (gate, registry, tick ledger, grace period) is mutated only inside
// Run's goroutine; callers interact through Submit and the view methods.
type Engine struct {
	cfg      Config
	sequence int64

	gate     *gate.AccessGate
	registry *state.Registry
	ledger   *ledger.Ledger
	grace    *state.GraceController
	dedup    *opLRU

	persistChan chan<- Output
	publishChan chan<- Output
	settleChan  chan<- event.Diversion

	opChan    chan submission
	queryChan chan query

	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewEngine(
	cfg Config,
	startSequence int64,
	owner string,
	persistChan, publishChan chan<- Output,
	settleChan chan<- event.Diversion,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		cfg:         cfg,
		sequence:    startSequence,
		gate:        gate.NewAccessGate(owner),
		registry:    state.NewRegistry(),
		ledger:      ledger.NewLedger(cfg.TickLength),
		grace:       state.NewGraceController(),
		dedup:       newOpLRU(cfg.IdempotencyCapacity),
		persistChan: persistChan,
		publishChan: publishChan,
		settleChan:  settleChan,
		opChan:      make(chan submission, 1024),
		queryChan:   make(chan query, 64),
		log:         observability.NewLogger("engine"),
		metrics:     metrics,
	}
}

// Run drains submissions and queries until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info().Int64("sequence", e.sequence).Msg("breaker engine started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Int64("sequence", e.sequence).Msg("breaker engine stopped")
			return
		case sub := <-e.opChan:
			res, err := e.process(sub.op)
			sub.reply <- submitResult{res: res, err: err}
		case q := <-e.queryChan:
			q.fn()
			close(q.done)
		}
	}
}

// Submit hands an operation to the engine and waits for its result.
func (e *Engine) Submit(ctx context.Context, op event.Operation) (*Result, error) {
	sub := submission{op: op, reply: make(chan submitResult, 1)}

	select {
	case e.opChan <- sub:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-sub.reply:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// process is the per-operation pipeline: dedup, dispatch, emit, mark.
func (e *Engine) process(op event.Operation) (*Result, error) {
	start := time.Now()
	opType := op.Type().String()
	key := opType + ":" + op.IdempotencyKey()

	if e.dedup.Contains(key) {
		if e.metrics != nil {
			e.metrics.OpsRejected.WithLabelValues(opType, "duplicate").Inc()
		}
		return &Result{Duplicate: true}, nil
	}

	res, outputs, diversion, err := e.apply(op)
	if err != nil {
		if e.metrics != nil {
			e.metrics.OpsRejected.WithLabelValues(opType, rejectReason(err)).Inc()
		}
		return nil, err
	}

	for _, out := range outputs {
		// Persistence: blocking send. The engine stalls until the
		// persistence worker drains, so no applied operation is lost.
		e.persistChan <- out

		// Notifications: non-blocking send, drop on full. Subscribers
		// can rebuild from the event log.
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	if diversion != nil {
		// Blocking send: a diversion is a funds hand-off and must
		// reach the settlement publisher.
		e.settleChan <- *diversion
	}

	e.dedup.Add(key)

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(opType).Inc()
		e.metrics.OpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
		e.metrics.Sequence.Set(float64(e.sequence))
	}
	return res, nil
}

func (e *Engine) apply(op event.Operation) (*Result, []Output, *event.Diversion, error) {
	switch o := op.(type) {
	case *event.LiquidityIncrease:
		return e.applyIncrease(o)
	case *event.LiquidityDecrease:
		return e.applyDecrease(o)
	case *event.AddSecurityParameter:
		return e.applyAddParams(o)
	case *event.UpdateSecurityParameter:
		return e.applyUpdateParams(o)
	case *event.AddProtectedContracts:
		return e.applyAddProtected(o)
	case *event.RemoveProtectedContracts:
		return e.applyRemoveProtected(o)
	case *event.SetOperationalStatus:
		return e.applySetOperational(o)
	case *event.StartGracePeriod:
		return e.applyStartGrace(o)
	case *event.OverrideRateLimit:
		return e.applyOverride(o)
	case *event.SetLimiterOverridden:
		return e.applySetLimiterOverridden(o)
	case *event.ClearBackLog:
		return e.applyClearBackLog(o)
	default:
		return nil, nil, nil, fmt.Errorf("unhandled operation type %T", op)
	}
}

// envelope wraps an operation and consumes a sequence number.
func (e *Engine) envelope(op event.Operation) event.Envelope {
	payload, err := json.Marshal(op)
	if err != nil {
		e.log.Error().Err(err).Str("op_type", op.Type().String()).Msg("payload marshal failed")
	}
	env := event.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: op.IdempotencyKey(),
		Type:           op.Type(),
		Identifier:     op.Identifier(),
		Timestamp:      op.OccurredAt(),
		Payload:        payload,
	}
	e.sequence++
	return env
}

func tickUpserts(id state.Identifier, node, relinked *ledger.TickNode) []TickUpsert {
	ups := []TickUpsert{{Identifier: id, Node: *node}}
	if relinked != nil {
		ups = append(ups, TickUpsert{Identifier: id, Node: *relinked})
	}
	return ups
}

func validAmount(amount math.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// --- Flow operations ---

func (e *Engine) applyIncrease(op *event.LiquidityIncrease) (*Result, []Output, *event.Diversion, error) {
	if err := e.gate.AuthorizeFlow(op.CallerAddr); err != nil {
		return nil, nil, nil, err
	}
	if err := validAmount(op.Amount); err != nil {
		return nil, nil, nil, err
	}
	p, ok := e.registry.Get(op.Ident)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %s", state.ErrNotFound, op.Ident)
	}

	node, relinked := e.ledger.Record(op.Ident, op.Timestamp, op.Amount)
	p.LiquidityTotal = p.LiquidityTotal.Add(op.Amount)
	if e.metrics != nil {
		e.metrics.TicksRecorded.Inc()
	}

	out := Output{
		Envelope:    e.envelope(op),
		ParamUpsert: p.Clone(),
		TickUpserts: tickUpserts(op.Ident, node, relinked),
	}
	return &Result{Sequence: out.Envelope.Sequence, Decision: DecisionAllow}, []Output{out}, nil, nil
}

// tripNotice is the payload of the derived BreakerTripped envelope.
type tripNotice struct {
	Identifier       string   `json:"identifier"`
	Amount           math.Int `json:"amount"`
	Baseline         math.Int `json:"baseline"`
	LiquidityTotal   math.Int `json:"liquidity_total"`
	SettlementModule string   `json:"settlement_module"`
	TrippedAt        int64    `json:"tripped_at"`
}

func (e *Engine) applyDecrease(op *event.LiquidityDecrease) (*Result, []Output, *event.Diversion, error) {
	if err := e.gate.AuthorizeFlow(op.CallerAddr); err != nil {
		return nil, nil, nil, err
	}
	if err := validAmount(op.Amount); err != nil {
		return nil, nil, nil, err
	}
	p, ok := e.registry.Get(op.Ident)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %s", state.ErrNotFound, op.Ident)
	}

	// The decrease is recorded unconditionally; tripping changes where
	// the funds go, not whether the flow is accounted.
	node, relinked := e.ledger.Record(op.Ident, op.Timestamp, op.Amount.Neg())
	p.LiquidityTotal = p.LiquidityTotal.Sub(op.Amount)
	if e.metrics != nil {
		e.metrics.TicksRecorded.Inc()
	}

	decision := DecisionAllow
	baseline := math.ZeroInt()

	bypass := e.grace.InGracePeriod(op.Timestamp) ||
		p.Overridden ||
		op.Amount.LT(p.LimitBeginThreshold)

	if !bypass {
		windowDelta, visited := e.ledger.WindowedSum(op.Ident, op.Timestamp, e.cfg.WithdrawalPeriod)
		if e.metrics != nil {
			e.metrics.WindowWalkNodes.Observe(float64(visited))
		}

		// Liquidity as it stood at the start of the rolling window.
		baseline = p.LiquidityTotal.Sub(windowDelta)

		if shouldTrip(baseline, p.LiquidityTotal, p.MinLiqRetainedBps) {
			decision = DecisionTrip
			if err := e.registry.MarkTripped(op.Ident, op.Timestamp); err != nil {
				return nil, nil, nil, err
			}
			e.log.Warn().
				Str("identifier", string(op.Ident)).
				Str("amount", op.Amount.String()).
				Str("baseline", baseline.String()).
				Str("liquidity_total", p.LiquidityTotal.String()).
				Str("settlement_module", p.SettlementModule).
				Msg("rate limit tripped, flow diverted to settlement")
			if e.metrics != nil {
				e.metrics.BreakerTrips.WithLabelValues(string(op.Ident)).Inc()
				e.metrics.Diversions.Inc()
				e.metrics.GlobalRateLimited.Set(1)
			}
		}
	}

	outputs := []Output{{
		Envelope:    e.envelope(op),
		ParamUpsert: p.Clone(),
		TickUpserts: tickUpserts(op.Ident, node, relinked),
	}}

	var diversion *event.Diversion
	if decision == DecisionTrip {
		notice, err := json.Marshal(tripNotice{
			Identifier:       string(op.Ident),
			Amount:           op.Amount,
			Baseline:         baseline,
			LiquidityTotal:   p.LiquidityTotal,
			SettlementModule: p.SettlementModule,
			TrippedAt:        op.Timestamp,
		})
		if err != nil {
			e.log.Error().Err(err).Msg("trip notice marshal failed")
		}

		// Derived notification with its own sequence number.
		ident := string(op.Ident)
		tripEnv := event.Envelope{
			Sequence:       e.sequence,
			IdempotencyKey: op.IdempotencyKey() + ":trip",
			Type:           event.TypeBreakerTripped,
			Identifier:     &ident,
			Timestamp:      op.Timestamp,
			Payload:        notice,
		}
		e.sequence++

		outputs = append(outputs, Output{
			Envelope:    tripEnv,
			ParamUpsert: p.Clone(),
			Gate:        e.gateSnapshot(),
		})

		diversion = &event.Diversion{
			OpID:             op.OpID,
			Identifier:       op.Ident,
			SettlementModule: p.SettlementModule,
			Amount:           op.Amount,
			Token:            op.Token,
			SettlementAmount: op.SettlementAmount,
			Payload:          op.Payload,
			Caller:           op.CallerAddr,
			TrippedAt:        op.Timestamp,
		}
	}

	return &Result{Sequence: outputs[0].Envelope.Sequence, Decision: decision}, outputs, diversion, nil
}

// --- Admin operations ---

func (e *Engine) applyAddParams(op *event.AddSecurityParameter) (*Result, []Output, *event.Diversion, error) {
	if err := e.gate.RequireOwner(op.CallerAddr); err != nil {
		return nil, nil, nil, err
	}
	p, err := e.registry.Add(op.Ident, op.MinLiqRetainedBps, op.LimitBeginThreshold, op.SettlementModule)
	if err != nil {
		return nil, nil, nil, err
	}

	e.log.Info().
		Str("identifier", string(op.Ident)).
		Int64("min_liq_retained_bps", op.MinLiqRetainedBps).
		Str("settlement_module", op.SettlementModule).
		Msg("security parameter registered")

	out := Output{Envelope: e.envelope(op), ParamUpsert: p.Clone()}
	return &Result{Sequence: out.Envelope.Sequence}, []Output{out}, nil, nil
}

func (e *Engine) applyUpdateParams(op *event.UpdateSecurityParameter) (*Result, []Output, *event.Diversion, error) {
	if err := e.gate.RequireOwner(op.CallerAddr); err != nil {
		return nil, nil, nil, err
	}
	p, err := e.registry.Update(op.Ident, op.MinLiqRetainedBps, op.LimitBeginThreshold, op.SettlementModule)
	if err != nil {
		return nil, nil, nil, err
	}

	out := Output{Envelope: e.envelope(op), ParamUpsert: p.Clone()}
	return &Result{Sequence: out.Envelope.Sequence}, []Output{out}, nil, nil
}

func (e *Engine) applyAddProtected(op *event.AddProtectedContracts) (*Result, []Output, *event.Diversion, error) {
	if err := e.gate.RequireOwner(op.CallerAddr); err != nil {
		return nil, nil, nil, err
	}
	e.gate.AddProtected(op.Contracts)

	out := Output{Envelope: e.envelope(op), Gate: e.gateSnapshot()}
	return &Result{Sequence: out.Envelope.Sequence}, []Output{out}, nil, nil
}

func (e *Engine) applyRemoveProtected(op *event.RemoveProtectedContracts) (*Result, []Output, *event.Diversion, error) {
	if err := e.gate.RequireOwner(op.CallerAddr); err != nil {
		return nil, nil, nil, err
	}
	e.gate.RemoveProtected(op.Contracts)

	out := Output{Envelope: e.envelope(op), Gate: e.gateSnapshot()}
	return &Result{Sequence: out.Envelope.Sequence}, []Output{out}, nil, nil
}

func (e *Engine) applySetOperational(op *event.SetOperationalStatus) (*Result, []Output, *event.Diversion, error) {
	if err := e.gate.RequireOwner(op.CallerAddr); err != nil {
		return nil, nil, nil, err
	}
	e.gate.SetOperational(op.Operational)
	e.log.Warn().Bool("operational", op.Operational).Msg("operational status changed")

	out := Output{Envelope: e.envelope(op), Gate: e.gateSnapshot()}
	return &Result{Sequence: out.Envelope.Sequence}, []Output{out}, nil, nil
}

func (e *Engine) applyStartGrace(op *event.StartGracePeriod) (*Result, []Output, *event.Diversion, error) {
	if err := e.gate.RequireOwner(op.CallerAddr); err != nil {
		return nil, nil, nil, err
	}
	if err := e.grace.Start(op.Timestamp, op.EndTimestamp); err != nil {
		return nil, nil, nil, err
	}
	e.log.Info().Int64("end_timestamp", op.EndTimestamp).Msg("grace period started")
	if e.metrics != nil {
		e.metrics.GraceActive.Set(1)
	}

	out := Output{Envelope: e.envelope(op), Gate: e.gateSnapshot()}
	return &Result{Sequence: out.Envelope.Sequence}, []Output{out}, nil, nil
}

func (e *Engine) applyOverride(op *event.OverrideRateLimit) (*Result, []Output, *event.Diversion, error) {
	if err := e.gate.RequireOwner(op.CallerAddr); err != nil {
		return nil, nil, nil, err
	}
	if err := e.registry.ClearTrip(op.Ident, op.Timestamp, e.cfg.RateLimitCooldown); err != nil {
		return nil, nil, nil, err
	}
	p, _ := e.registry.Get(op.Ident)

	e.log.Info().Str("identifier", string(op.Ident)).Msg("rate limit cleared")
	if e.metrics != nil {
		if e.registry.IsGlobalRateLimited() {
			e.metrics.GlobalRateLimited.Set(1)
		} else {
			e.metrics.GlobalRateLimited.Set(0)
		}
	}

	out := Output{Envelope: e.envelope(op), ParamUpsert: p.Clone(), Gate: e.gateSnapshot()}
	return &Result{Sequence: out.Envelope.Sequence}, []Output{out}, nil, nil
}

func (e *Engine) applySetLimiterOverridden(op *event.SetLimiterOverridden) (*Result, []Output, *event.Diversion, error) {
	if err := e.gate.RequireOwner(op.CallerAddr); err != nil {
		return nil, nil, nil, err
	}
	v, err := e.registry.SetOverride(op.Ident, op.Overridden)
	if err != nil {
		return nil, nil, nil, err
	}
	p, _ := e.registry.Get(op.Ident)

	out := Output{Envelope: e.envelope(op), ParamUpsert: p.Clone()}
	return &Result{Sequence: out.Envelope.Sequence, Overridden: v}, []Output{out}, nil, nil
}

func (e *Engine) applyClearBackLog(op *event.ClearBackLog) (*Result, []Output, *event.Diversion, error) {
	if err := e.gate.RequireOwner(op.CallerAddr); err != nil {
		return nil, nil, nil, err
	}
	if op.MaxIterations <= 0 {
		return nil, nil, nil, ErrInvalidMaxIterations
	}

	removed := e.ledger.Evict(op.Ident, op.Timestamp, e.cfg.WithdrawalPeriod, op.MaxIterations)
	if e.metrics != nil {
		e.metrics.TicksEvicted.Add(float64(len(removed)))
	}

	out := Output{Envelope: e.envelope(op), TickDeletes: removed}
	return &Result{Sequence: out.Envelope.Sequence, Removed: len(removed)}, []Output{out}, nil, nil
}

func (e *Engine) gateSnapshot() *GateSnapshot {
	return &GateSnapshot{
		Owner:             e.gate.Owner(),
		Operational:       e.gate.IsOperational(),
		GracePeriodEnd:    e.grace.EndTimestamp(),
		GlobalRateLimited: e.registry.IsGlobalRateLimited(),
		Protected:         e.gate.Protected(),
	}
}

// --- Warm restart ---
//
// The Restore methods reinstate persisted state loaded at startup. They
// mutate engine-owned structures directly and must complete before Run
// is started.

func (e *Engine) RestoreParams(p *state.SecurityParams) {
	e.registry.Restore(p)
}

// RestoreTick rows must be fed in chain order per identifier.
func (e *Engine) RestoreTick(id state.Identifier, n ledger.TickNode) {
	e.ledger.RestoreNode(id, n)
}

func (e *Engine) RestoreGate(operational bool, protected []string) {
	e.gate.Restore(operational, protected)
}

func (e *Engine) RestoreGrace(endTimestamp int64) {
	e.grace.Restore(endTimestamp)
}

func (e *Engine) RestoreGlobalRateLimited(v bool) {
	e.registry.RestoreGlobalRateLimited(v)
}

func (e *Engine) WarmIdempotency(keys []string) {
	e.dedup.WarmFromKeys(keys)
}
