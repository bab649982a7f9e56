package ingestion

import (
	"context"
	"errors"

	"FlowBreaker/internal/breaker"
	"FlowBreaker/internal/event"
	"FlowBreaker/internal/observability"

	"github.com/rs/zerolog"
)

// Submitter is the engine surface the runner needs.
type Submitter interface {
	Submit(ctx context.Context, op event.Operation) (*breaker.Result, error)
}

// Runner drains raw flows from NATS, parses them, and submits to the
// engine. Deterministic rejections (bad payload, unauthorized caller,
// unregistered identifier) are ACKed: redelivery cannot change the
// outcome, and max_deliver would only delay the poison message. Only a
// cancelled submit NAKs for redelivery.
type Runner struct {
	engine   Submitter
	flowChan <-chan RawFlow
	log      zerolog.Logger
}

func NewRunner(engine Submitter, flowChan <-chan RawFlow) *Runner {
	return &Runner{
		engine:   engine,
		flowChan: flowChan,
		log:      observability.NewLogger("runner"),
	}
}

func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-r.flowChan:
			if !ok {
				return nil
			}
			r.handle(ctx, raw)
		}
	}
}

func (r *Runner) handle(ctx context.Context, raw RawFlow) {
	op, err := ParseRawFlow(raw)
	if err != nil {
		r.log.Warn().Err(err).Str("subject", raw.Subject).Msg("unparseable flow dropped")
		raw.AckFunc()
		return
	}

	res, err := r.engine.Submit(ctx, op)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			raw.NakFunc()
			return
		}
		r.log.Warn().Err(err).
			Str("op_type", op.Type().String()).
			Str("caller", op.Caller()).
			Msg("flow rejected")
		raw.AckFunc()
		return
	}

	if res.Decision == breaker.DecisionTrip {
		r.log.Warn().
			Str("op_type", op.Type().String()).
			Int64("sequence", res.Sequence).
			Msg("flow diverted to settlement")
	}
	raw.AckFunc()
}
