package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/domain"
)

// Platform wallet ids seeded by the init migration.
var (
	SettlementWalletID      = uuid.MustParse("00000000-0000-0000-0000-000000000b01")
	PlatformRevenueWalletID = uuid.MustParse("00000000-0000-0000-0000-000000000b02")
)

func SeedWallet(t *testing.T, db *sql.DB, ownerID uuid.UUID, kind domain.WalletKind) *domain.Wallet {
	t.Helper()

	w := &domain.Wallet{
		ID:        uuid.New(),
		OwnerID:   &ownerID,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO wallets (id, owner_id, kind, created_at) VALUES ($1, $2, $3, $4)`,
		w.ID, w.OwnerID, w.Kind, w.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed wallet %s/%s: %v", ownerID, kind, err)
	}
	return w
}

func SeedBalance(t *testing.T, db *sql.DB, walletID uuid.UUID, currency domain.Currency, available int64) {
	t.Helper()

	_, err := db.Exec(
		`INSERT INTO wallet_balances (wallet_id, currency, available)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (wallet_id, currency) DO UPDATE SET available = $3`,
		walletID, currency, available,
	)
	if err != nil {
		t.Fatalf("seed balance %s/%s: %v", walletID, currency, err)
	}
}

func GetBucket(t *testing.T, db *sql.DB, walletID uuid.UUID, currency domain.Currency, bucket domain.BalanceBucket) int64 {
	t.Helper()

	var available, pending, lifetime int64
	err := db.QueryRow(
		`SELECT available, pending, lifetime FROM wallet_balances WHERE wallet_id = $1 AND currency = $2`,
		walletID, currency,
	).Scan(&available, &pending, &lifetime)
	if err == sql.ErrNoRows {
		return 0
	}
	if err != nil {
		t.Fatalf("get balance %s/%s: %v", walletID, currency, err)
	}

	switch bucket {
	case domain.BucketPending:
		return pending
	case domain.BucketLifetime:
		return lifetime
	default:
		return available
	}
}

func GetAvailable(t *testing.T, db *sql.DB, walletID uuid.UUID, currency domain.Currency) int64 {
	t.Helper()
	return GetBucket(t, db, walletID, currency, domain.BucketAvailable)
}

func CountGroupEntries(t *testing.T, db *sql.DB, groupKey string) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM transaction_entries e
		 JOIN transaction_groups g ON g.id = e.group_id
		 WHERE g.group_key = $1`, groupKey,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count entries for group %s: %v", groupKey, err)
	}
	return count
}

func CountGroupsByIdempotencyKey(t *testing.T, db *sql.DB, key string) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM transaction_groups WHERE idempotency_key = $1`, key,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count groups for key %s: %v", key, err)
	}
	return count
}
