package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OwnershipSource string

const (
	OwnershipSourceCheckout OwnershipSource = "checkout"
	OwnershipSourceWallet   OwnershipSource = "wallet_purchase"
	OwnershipSourceManual   OwnershipSource = "manual_grant"
)

// Ownership records that a user may access a product. At most one row ever
// exists per (user, product): re-grants reactivate the existing row.
type Ownership struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ProductID uuid.UUID
	Source    OwnershipSource
	Metadata  json.RawMessage
	GrantedAt time.Time
	RevokedAt *time.Time
}

func (o *Ownership) Active() bool {
	return o.RevokedAt == nil
}
