package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"FlowBreaker/internal/breaker"
	"FlowBreaker/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Notification is the outbound wire format for applied operations.
type Notification struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Identifier     *string         `json:"identifier,omitempty"`
	Timestamp      int64           `json:"timestamp"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Notifier publishes applied operations to breaker.events.{type} (with
// the identifier appended when the operation is scoped to one). Publish
// failures are non-fatal; consumers can replay from the event log.
type Notifier struct {
	js        jetstream.JetStream
	inputChan <-chan breaker.Output
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewNotifier(js jetstream.JetStream, inputChan <-chan breaker.Output, metrics *observability.Metrics) *Notifier {
	return &Notifier{
		js:        js,
		inputChan: inputChan,
		log:       observability.NewLogger("notifier"),
		metrics:   metrics,
	}
}

func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-n.inputChan:
			if !ok {
				return nil
			}
			if err := n.publish(ctx, out); err != nil {
				n.log.Warn().Err(err).
					Int64("sequence", out.Envelope.Sequence).
					Msg("notification publish failed")
				continue
			}
			if n.metrics != nil {
				n.metrics.EventsPublished.WithLabelValues(out.Envelope.Type.String()).Inc()
			}
		}
	}
}

func (n *Notifier) publish(ctx context.Context, out breaker.Output) error {
	env := out.Envelope
	data, err := json.Marshal(Notification{
		Sequence:       env.Sequence,
		EventType:      env.Type.String(),
		IdempotencyKey: env.IdempotencyKey,
		Identifier:     env.Identifier,
		Timestamp:      env.Timestamp,
		Payload:        env.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	subject := fmt.Sprintf("breaker.events.%s", env.Type.String())
	if env.Identifier != nil {
		subject = fmt.Sprintf("%s.%s", subject, *env.Identifier)
	}

	_, err = n.js.Publish(ctx, subject, data)
	return err
}
