// Package events publishes fulfillment events to NATS JetStream for
// downstream consumers (notifications, analytics, settlement exports).
// Publishing happens after the storage transaction commits and is
// non-fatal: consumers can always rebuild from the status history and
// the transaction log.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Subjects follow the pattern: courier.orders.status.{new_status} and
// courier.ledger.tx.{type}.
const (
	StreamName        = "COURIER_EVENTS"
	statusSubjectFmt  = "courier.orders.status.%s"
	ledgerSubjectFmt  = "courier.ledger.tx.%s"
	streamSubjectGlob = "courier.orders.>"
	ledgerSubjectGlob = "courier.ledger.>"
)

// StatusChanged is emitted once per applied order transition.
type StatusChanged struct {
	OrderID        uuid.UUID `json:"order_id"`
	OrderNumber    string    `json:"order_number"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	ActorType      string    `json:"actor_type"`
	ActorID        uuid.UUID `json:"actor_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// LedgerRecorded is emitted once per ledger transaction.
type LedgerRecorded struct {
	TransactionID uuid.UUID  `json:"transaction_id"`
	AccountID     uuid.UUID  `json:"account_id"`
	Amount        int64      `json:"amount"`
	Type          string     `json:"type"`
	ReferenceID   *uuid.UUID `json:"reference_id,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Publisher publishes fulfillment events.
type Publisher struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, log: log}
}

// PublishStatusChange emits a StatusChanged event. Errors are logged,
// not returned: the transition already committed.
func (p *Publisher) PublishStatusChange(ctx context.Context, evt StatusChanged) {
	if p == nil || p.js == nil {
		return
	}
	subject := fmt.Sprintf(statusSubjectFmt, evt.NewStatus)
	p.publish(ctx, subject, evt)
}

// PublishLedgerEvent emits a LedgerRecorded event.
func (p *Publisher) PublishLedgerEvent(ctx context.Context, evt LedgerRecorded) {
	if p == nil || p.js == nil {
		return
	}
	subject := fmt.Sprintf(ledgerSubjectFmt, evt.Type)
	p.publish(ctx, subject, evt)
}

func (p *Publisher) publish(ctx context.Context, subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("event marshal failed")
		return
	}
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{streamSubjectGlob, ledgerSubjectGlob},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	return nil
}
