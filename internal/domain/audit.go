package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditOperation string

const (
	AuditWalletDeposit     AuditOperation = "WALLET_DEPOSIT"
	AuditWalletWithdrawal  AuditOperation = "WALLET_WITHDRAWAL"
	AuditWalletTransfer    AuditOperation = "WALLET_TRANSFER"
	AuditPurchaseCompleted AuditOperation = "PURCHASE_COMPLETED"
	AuditPurchaseRefunded  AuditOperation = "PURCHASE_REFUNDED"
	AuditOwnershipGranted  AuditOperation = "OWNERSHIP_GRANTED"
	AuditOwnershipRevoked  AuditOperation = "OWNERSHIP_REVOKED"
	AuditEscrowHeld        AuditOperation = "ESCROW_HELD"
	AuditEscrowReleased    AuditOperation = "ESCROW_RELEASED"
	AuditEventRejected     AuditOperation = "EVENT_REJECTED"
)

// AuditRecord is written in the same transaction as the state change it
// describes, one record per operation.
type AuditRecord struct {
	ID        uuid.UUID
	Operation AuditOperation
	Actor     string
	RefType   string
	RefID     string
	Detail    json.RawMessage
	CreatedAt time.Time
}
