package domain

import (
	"time"

	"github.com/google/uuid"
)

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

func (c Currency) IsValid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return true
	default:
		return false
	}
}

type WalletKind string

const (
	WalletKindStudent    WalletKind = "student"
	WalletKindInstructor WalletKind = "instructor"
	// Platform wallets have no owner. They mirror money held by or owed to
	// the external processor, so their available balance may go negative.
	WalletKindPlatform WalletKind = "platform"
)

type Wallet struct {
	ID        uuid.UUID
	OwnerID   *uuid.UUID
	Kind      WalletKind
	CreatedAt time.Time
}

type BalanceBucket string

const (
	BucketAvailable BalanceBucket = "available"
	BucketPending   BalanceBucket = "pending"
	BucketLifetime  BalanceBucket = "lifetime"
)

// Balance is one (wallet, currency) bucket row. Rows are created lazily on
// first touch; a wallet/currency pair never seen reads as all zeroes.
type Balance struct {
	WalletID  uuid.UUID
	Currency  Currency
	Available int64
	Pending   int64
	Lifetime  int64
	UpdatedAt time.Time
}
