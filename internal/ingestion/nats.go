package ingestion

import (
	"context"
	"fmt"
	"time"

	"FlowBreaker/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Stream and subject layout. Inbound flows arrive on breaker.flow.>;
// applied operations are announced on breaker.events.>; diverted flows
// are queued for settlement modules on breaker.settlement.>.
const (
	FlowStream       = "BREAKER_FLOW"
	EventsStream     = "BREAKER_EVENTS"
	SettlementStream = "BREAKER_SETTLEMENT"

	SubjectIncrease = "breaker.flow.increase.>"
	SubjectDecrease = "breaker.flow.decrease.>"
)

// RawFlow is a parsed-but-untyped message from NATS, ready for the shell
// to convert into a typed operation before submitting to the engine.
type RawFlow struct {
	Subject string
	Data    []byte
	AckFunc func()
	NakFunc func()
}

// SubjectConfig maps a NATS subject to a durable consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: SubjectIncrease, ConsumerName: "breaker-flow-increase", StreamName: FlowStream},
		{Subject: SubjectDecrease, ConsumerName: "breaker-flow-decrease", StreamName: FlowStream},
	}
}

// Subscriber attaches JetStream consumers and feeds raw flows into
// flowChan for the runner to parse and submit.
type Subscriber struct {
	js        jetstream.JetStream
	flowChan  chan<- RawFlow
	consumers []jetstream.ConsumeContext
}

func NewSubscriber(js jetstream.JetStream, flowChan chan<- RawFlow) *Subscriber {
	return &Subscriber{
		js:       js,
		flowChan: flowChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (s *Subscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	log := observability.NewLogger("ingestion")

	for _, cfg := range subjects {
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawFlow{
				Subject: msg.Subject(),
				Data:    msg.Data(),
				AckFunc: func() { msg.Ack() },
				NakFunc: func() { msg.Nak() },
			}

			select {
			case s.flowChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		s.consumers = append(s.consumers, consumerContext)
		log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (s *Subscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	stopLog := observability.NewLogger("ingestion")
	stopLog.Info().Msg("NATS subscribers stopped")
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	log := observability.NewLogger("ingestion")

	streams := []jetstream.StreamConfig{
		{
			Name:      FlowStream,
			Subjects:  []string{"breaker.flow.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      EventsStream,
			Subjects:  []string{"breaker.events.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("nats")

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
