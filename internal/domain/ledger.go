package domain

import (
	"time"

	"github.com/google/uuid"
)

type EntryKind string

const (
	EntryKindDeposit       EntryKind = "deposit"
	EntryKindWithdrawal    EntryKind = "withdrawal"
	EntryKindPurchase      EntryKind = "purchase"
	EntryKindRoyalty       EntryKind = "royalty"
	EntryKindTransfer      EntryKind = "transfer"
	EntryKindPlatformFee   EntryKind = "platform_fee"
	EntryKindEscrowHold    EntryKind = "escrow_hold"
	EntryKindEscrowRelease EntryKind = "escrow_release"
)

// Entry is one signed leg of a transaction group. Amounts are integer cents;
// the legs of a committed group always sum to exactly zero.
type Entry struct {
	ID          uuid.UUID
	GroupID     uuid.UUID
	WalletID    uuid.UUID
	AmountCents int64
	Currency    Currency
	Kind        EntryKind
	Bucket      BalanceBucket
	RefType     string
	RefID       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Group is the set of entries posted atomically for one business operation.
// IdempotencyKey is globally unique: posting the same key again returns the
// stored group instead of reapplying it.
type Group struct {
	ID             uuid.UUID
	GroupKey       string
	IdempotencyKey string
	Currency       Currency
	CreatedAt      time.Time
	Entries        []Entry
}

// RefundKeySuffix derives the idempotency key under which a group's reversal
// is posted, so a second refund attempt collides instead of double-posting.
const RefundKeySuffix = ":refund"
