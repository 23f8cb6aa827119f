// Package queue implements a durable work queue on Redis with at-least-once
// delivery, stalled-lease recovery and a lifecycle event stream.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrDeliveryNotFound is returned when the queue no longer holds metadata for
// a delivery id (never existed, or removed after completion/failure).
var ErrDeliveryNotFound = errors.New("queue: delivery not found")

// State is the queue-side state of one delivery.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// EventType names a lifecycle transition published by the queue.
type EventType string

const (
	EventActive    EventType = "active"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventStalled   EventType = "stalled"
)

// Event is one lifecycle notification, keyed by delivery id.
type Event struct {
	Type         EventType `json:"event"`
	DeliveryID   string    `json:"deliveryId"`
	FailedReason string    `json:"failedReason,omitempty"`
}

// Delivery is one unit of work as held by the queue.
type Delivery struct {
	ID           string
	JobID        string
	Data         json.RawMessage
	State        State
	Attempts     int
	FailedReason string
	EnqueuedAt   time.Time
}

// Decode unmarshals the delivery payload into v.
func (d *Delivery) Decode(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Counts reports how many deliveries are pending and in flight.
type Counts struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
}

// Idle reports whether nothing is pending or in flight.
func (c Counts) Idle() bool {
	return c.Waiting == 0 && c.Active == 0
}

// Handler processes one delivery. A nil return completes the delivery; an
// error fails it with the error text as the failed reason.
type Handler func(ctx context.Context, d *Delivery) error

// Engine is the queue surface used by workers, the worker manager and the
// event bridge.
type Engine interface {
	Ping(ctx context.Context) error
	Enqueue(ctx context.Context, jobID string, payload any) (string, error)
	Delivery(ctx context.Context, deliveryID string) (*Delivery, error)
	Counts(ctx context.Context) (Counts, error)
	Claim(ctx context.Context) (*Delivery, error)
	Complete(ctx context.Context, deliveryID string) error
	Fail(ctx context.Context, deliveryID, reason string) error
	RecoverStalled(ctx context.Context, now time.Time) (int, error)
}
