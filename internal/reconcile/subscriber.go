package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"CourierLedger/internal/errs"
	"CourierLedger/internal/ledger"
)

const (
	PaymentStreamName  = "COURIER_PAYMENTS"
	paymentSubject     = "courier.payments.callback"
	paymentSubjectGlob = "courier.payments.>"
	consumerName       = "ledger-payment-callbacks"
)

// CallbackMessage is the wire shape payment providers (or the gateway
// fronting them) publish on courier.payments.callback.
type CallbackMessage struct {
	ProviderReference string    `json:"provider_reference"`
	AccountID         uuid.UUID `json:"account_id"`
	Amount            int64     `json:"amount"`
	Type              string    `json:"type"`
}

// Subscriber consumes payment callbacks from JetStream and feeds them
// through the Adapter. Delivery is at-least-once; the Adapter's dedup
// makes redelivery harmless.
type Subscriber struct {
	js      jetstream.JetStream
	adapter *Adapter
	log     zerolog.Logger
	cc      jetstream.ConsumeContext
}

func NewSubscriber(js jetstream.JetStream, adapter *Adapter, log zerolog.Logger) *Subscriber {
	return &Subscriber{js: js, adapter: adapter, log: log}
}

// Subscribe creates the durable consumer and starts processing.
// Explicit ACK, max_deliver=5, ack_wait=30s.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, PaymentStreamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: paymentSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}
	s.cc = cc
	s.log.Info().Str("subject", paymentSubject).Str("consumer", consumerName).
		Msg("subscribed to payment callbacks")
	return nil
}

func (s *Subscriber) handle(ctx context.Context, msg jetstream.Msg) {
	var cb CallbackMessage
	if err := json.Unmarshal(msg.Data(), &cb); err != nil {
		// Poison message, redelivery cannot fix it.
		s.log.Error().Err(err).Msg("unparseable payment callback, dropping")
		msg.Ack()
		return
	}

	_, err := s.adapter.ApplyExternalPayment(ctx, ExternalPayment{
		ProviderReference: cb.ProviderReference,
		AccountID:         cb.AccountID,
		Amount:            cb.Amount,
		Type:              ledger.TransactionType(cb.Type),
	})
	switch {
	case err == nil:
		msg.Ack()
	case errs.IsCode(err, errs.CodeInvalid):
		s.log.Error().Err(err).Str("provider_reference", cb.ProviderReference).
			Msg("invalid payment callback, dropping")
		msg.Ack()
	default:
		// Transient (contention, storage down): let JetStream redeliver.
		s.log.Warn().Err(err).Str("provider_reference", cb.ProviderReference).
			Msg("payment callback failed, will retry")
		msg.Nak()
	}
}

// Stop gracefully stops the consumer.
func (s *Subscriber) Stop() {
	if s.cc != nil {
		s.cc.Stop()
	}
}

// EnsurePaymentStream creates or updates the inbound payments stream.
func EnsurePaymentStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      PaymentStreamName,
		Subjects:  []string{paymentSubjectGlob},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create payments stream: %w", err)
	}
	return nil
}
