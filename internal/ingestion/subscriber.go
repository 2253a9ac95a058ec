package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber consumes contract events from NATS JetStream and feeds
// them into the keeper via the eventChan. The indexer publishes one subject
// per event name under the exchange.events.> hierarchy.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawEvent is the undecoded event off the bus, ready for the feed to parse
// into a typed event.Event.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps JetStream subjects to durable consumers.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration. Book and
// trade events are split from account events so each can scale its
// consumer independently.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "exchange.events.OrderPlaced", ConsumerName: "keeper-order-placed", StreamName: "EXCHANGE_BOOK"},
		{Subject: "exchange.events.OrderRemoved", ConsumerName: "keeper-order-removed", StreamName: "EXCHANGE_BOOK"},
		{Subject: "exchange.events.TradeExecuted", ConsumerName: "keeper-trades", StreamName: "EXCHANGE_BOOK"},
		{Subject: "exchange.events.MarginDeposited", ConsumerName: "keeper-margin-deposit", StreamName: "EXCHANGE_ACCOUNTS"},
		{Subject: "exchange.events.MarginWithdrawn", ConsumerName: "keeper-margin-withdraw", StreamName: "EXCHANGE_ACCOUNTS"},
		{Subject: "exchange.events.PositionUpdated", ConsumerName: "keeper-positions", StreamName: "EXCHANGE_ACCOUNTS"},
		{Subject: "exchange.events.FundingUpdated", ConsumerName: "keeper-funding-rate", StreamName: "EXCHANGE_FUNDING"},
		{Subject: "exchange.events.FundingPaid", ConsumerName: "keeper-funding-paid", StreamName: "EXCHANGE_FUNDING"},
		{Subject: "exchange.events.Liquidated", ConsumerName: "keeper-liquidations", StreamName: "EXCHANGE_ACCOUNTS"},
		{Subject: "exchange.events.VIPLevelChanged", ConsumerName: "keeper-vip", StreamName: "EXCHANGE_ACCOUNTS"},
		{Subject: "exchange.events.ReferralRegistered", ConsumerName: "keeper-referrals", StreamName: "EXCHANGE_ACCOUNTS"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		log:       log,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
				// Successfully queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "EXCHANGE_BOOK",
			Subjects:  []string{"exchange.events.OrderPlaced", "exchange.events.OrderRemoved", "exchange.events.TradeExecuted"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "EXCHANGE_ACCOUNTS",
			Subjects:  []string{"exchange.events.MarginDeposited", "exchange.events.MarginWithdrawn", "exchange.events.PositionUpdated", "exchange.events.Liquidated", "exchange.events.VIPLevelChanged", "exchange.events.ReferralRegistered"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "EXCHANGE_FUNDING",
			Subjects:  []string{"exchange.events.FundingUpdated", "exchange.events.FundingPaid"},
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

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
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
