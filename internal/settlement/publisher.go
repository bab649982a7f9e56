// Package settlement queues diverted flows for settlement modules.
// Diversions are a funds hand-off: the publisher consumes the engine's
// blocking settle channel and retries until each diversion is durably
// queued on JetStream or the process shuts down.
package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FlowBreaker/internal/event"
	"FlowBreaker/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	Stream = "BREAKER_SETTLEMENT"

	subjectPrefix = "breaker.settlement"
)

// EnsureStream creates the settlement stream if it does not exist.
// Unlike the notification streams this one uses WorkQueue retention:
// each diversion is consumed exactly once, by its settlement module.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      Stream,
		Subjects:  []string{subjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", Stream, err)
	}
	streamLog := observability.NewLogger("settlement")
	streamLog.Info().Str("stream", Stream).Msg("ensured stream")
	return nil
}

// Publisher drains the engine's settle channel.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.Diversion
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan event.Diversion, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:        js,
		inputChan: inputChan,
		log:       observability.NewLogger("settlement"),
		metrics:   metrics,
	}
}

func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case div, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if err := p.publishWithRetry(ctx, div); err != nil {
				return err
			}
			if p.metrics != nil {
				p.metrics.SettlementsPublished.Inc()
			}
		}
	}
}

// publishWithRetry retries with exponential backoff. Diversions are
// never dropped: the loop gives up only on context cancellation, and the
// engine's blocking settle channel stalls flows behind an outage.
func (p *Publisher) publishWithRetry(ctx context.Context, div event.Diversion) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	data, err := json.Marshal(div)
	if err != nil {
		// A diversion built by the engine always marshals; this guards
		// against future field types that cannot.
		p.log.Error().Err(err).Str("op_id", div.OpID.String()).Msg("diversion marshal failed")
		return nil
	}

	subject := fmt.Sprintf("%s.%s", subjectPrefix, div.SettlementModule)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			p.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Str("op_id", div.OpID.String()).
				Str("settlement_module", div.SettlementModule).
				Msg("settlement publish retry")
			if p.metrics != nil {
				p.metrics.SettlementRetries.Inc()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if _, err := p.js.Publish(ctx, subject, data); err == nil {
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		} else {
			p.log.Warn().Err(err).Str("subject", subject).Msg("settlement publish failed")
		}
	}
}
