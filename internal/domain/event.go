package domain

import (
	"encoding/json"
	"time"
)

type ExternalEventType string

const (
	ExternalEventCheckoutCompleted ExternalEventType = "checkout.completed"
	ExternalEventCheckoutRefunded  ExternalEventType = "checkout.refunded"
)

// ExternalEvent is one notification from the payment processor. The row is
// keyed by the processor's own event id, which is the first line of defense
// against duplicate webhook delivery: two concurrent deliveries produce one
// successful insert and one rejected no-op.
type ExternalEvent struct {
	ID          string
	Type        ExternalEventType
	Payload     json.RawMessage
	Processed   bool
	ProcessedAt *time.Time
	CreatedAt   time.Time
}
