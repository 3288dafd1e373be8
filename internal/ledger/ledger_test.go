package ledger_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courseloom/monetization/internal/domain"
	"github.com/courseloom/monetization/internal/ledger"
	"github.com/courseloom/monetization/internal/repository"
	"github.com/courseloom/monetization/internal/testutil"
)

func setupCore(t *testing.T, db *sql.DB) *ledger.Core {
	t.Helper()
	return ledger.NewCore(
		repository.NewLedgerRepository(db),
		repository.NewWalletRepository(db),
		db,
	)
}

func twoLegSpec(fromID, toID uuid.UUID, amount int64) ledger.GroupSpec {
	return ledger.GroupSpec{
		IdempotencyKey: uuid.NewString(),
		Currency:       domain.CurrencyUSD,
		Entries: []ledger.EntrySpec{
			{WalletID: fromID, AmountCents: -amount, Kind: domain.EntryKindTransfer},
			{WalletID: toID, AmountCents: amount, Kind: domain.EntryKindTransfer},
		},
	}
}

func TestGroupSpecValidate(t *testing.T) {
	walletA := uuid.New()
	walletB := uuid.New()

	tests := []struct {
		name      string
		spec      ledger.GroupSpec
		wantErrIs error
	}{
		{
			name: "balanced two-leg group",
			spec: ledger.GroupSpec{
				IdempotencyKey: "key-1",
				Currency:       domain.CurrencyUSD,
				Entries: []ledger.EntrySpec{
					{WalletID: walletA, AmountCents: -500},
					{WalletID: walletB, AmountCents: 500},
				},
			},
		},
		{
			name: "missing idempotency key",
			spec: ledger.GroupSpec{
				Currency: domain.CurrencyUSD,
				Entries: []ledger.EntrySpec{
					{WalletID: walletA, AmountCents: -500},
					{WalletID: walletB, AmountCents: 500},
				},
			},
			wantErrIs: domain.ErrInvalidRequest,
		},
		{
			name: "invalid currency",
			spec: ledger.GroupSpec{
				IdempotencyKey: "key-2",
				Currency:       "JPY",
				Entries: []ledger.EntrySpec{
					{WalletID: walletA, AmountCents: -500},
					{WalletID: walletB, AmountCents: 500},
				},
			},
			wantErrIs: domain.ErrCurrencyMismatch,
		},
		{
			name: "single leg",
			spec: ledger.GroupSpec{
				IdempotencyKey: "key-3",
				Currency:       domain.CurrencyUSD,
				Entries: []ledger.EntrySpec{
					{WalletID: walletA, AmountCents: 0},
				},
			},
			wantErrIs: domain.ErrUnbalancedGroup,
		},
		{
			name: "zero-amount leg",
			spec: ledger.GroupSpec{
				IdempotencyKey: "key-4",
				Currency:       domain.CurrencyUSD,
				Entries: []ledger.EntrySpec{
					{WalletID: walletA, AmountCents: 0},
					{WalletID: walletB, AmountCents: 0},
				},
			},
			wantErrIs: domain.ErrUnbalancedGroup,
		},
		{
			name: "legs do not sum to zero",
			spec: ledger.GroupSpec{
				IdempotencyKey: "key-5",
				Currency:       domain.CurrencyUSD,
				Entries: []ledger.EntrySpec{
					{WalletID: walletA, AmountCents: -500},
					{WalletID: walletB, AmountCents: 499},
				},
			},
			wantErrIs: domain.ErrUnbalancedGroup,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.wantErrIs == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErrIs)
			}
		})
	}
}

func TestPostGroup_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	core := setupCore(t, db)
	ctx := context.Background()

	from := testutil.SeedWallet(t, db, uuid.New(), domain.WalletKindStudent)
	to := testutil.SeedWallet(t, db, uuid.New(), domain.WalletKindInstructor)
	testutil.SeedBalance(t, db, from.ID, domain.CurrencyUSD, 10000)

	spec := twoLegSpec(from.ID, to.ID, 3000)
	g, err := core.PostGroup(ctx, spec)

	require.NoError(t, err)
	assert.NotEmpty(t, g.GroupKey)
	assert.Equal(t, spec.IdempotencyKey, g.IdempotencyKey)
	assert.Len(t, g.Entries, 2)

	assert.Equal(t, int64(7000), testutil.GetAvailable(t, db, from.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(3000), testutil.GetAvailable(t, db, to.ID, domain.CurrencyUSD))
	assert.Equal(t, 2, testutil.CountGroupEntries(t, db, g.GroupKey))
}

func TestPostGroup_ReplayReturnsOriginal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	core := setupCore(t, db)
	ctx := context.Background()

	from := testutil.SeedWallet(t, db, uuid.New(), domain.WalletKindStudent)
	to := testutil.SeedWallet(t, db, uuid.New(), domain.WalletKindInstructor)
	testutil.SeedBalance(t, db, from.ID, domain.CurrencyUSD, 10000)

	spec := twoLegSpec(from.ID, to.ID, 3000)

	first, err := core.PostGroup(ctx, spec)
	require.NoError(t, err)

	second, err := core.PostGroup(ctx, spec)
	require.NoError(t, err)

	assert.Equal(t, first.GroupKey, second.GroupKey)
	assert.Equal(t, 1, testutil.CountGroupsByIdempotencyKey(t, db, spec.IdempotencyKey))

	// Balances moved exactly once.
	assert.Equal(t, int64(7000), testutil.GetAvailable(t, db, from.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(3000), testutil.GetAvailable(t, db, to.ID, domain.CurrencyUSD))
}

func TestPostGroup_InsufficientFundsRollsBack(t *testing.T) {
	db := testutil.SetupTestDB(t)
	core := setupCore(t, db)
	ctx := context.Background()

	from := testutil.SeedWallet(t, db, uuid.New(), domain.WalletKindStudent)
	to := testutil.SeedWallet(t, db, uuid.New(), domain.WalletKindInstructor)
	testutil.SeedBalance(t, db, from.ID, domain.CurrencyUSD, 1000)

	spec := twoLegSpec(from.ID, to.ID, 5000)
	_, err := core.PostGroup(ctx, spec)

	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(1000), testutil.GetAvailable(t, db, from.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(0), testutil.GetAvailable(t, db, to.ID, domain.CurrencyUSD))
	assert.Equal(t, 0, testutil.CountGroupsByIdempotencyKey(t, db, spec.IdempotencyKey))
}

func TestPostGroup_PlatformWalletMayGoNegative(t *testing.T) {
	db := testutil.SetupTestDB(t)
	core := setupCore(t, db)
	ctx := context.Background()

	to := testutil.SeedWallet(t, db, uuid.New(), domain.WalletKindStudent)

	// Settlement wallet mirrors external money and has no floor.
	spec := twoLegSpec(testutil.SettlementWalletID, to.ID, 2500)
	_, err := core.PostGroup(ctx, spec)

	require.NoError(t, err)
	assert.Equal(t, int64(-2500), testutil.GetAvailable(t, db, testutil.SettlementWalletID, domain.CurrencyUSD))
	assert.Equal(t, int64(2500), testutil.GetAvailable(t, db, to.ID, domain.CurrencyUSD))
}

func TestPostGroup_ConcurrentSameKey(t *testing.T) {
	db := testutil.SetupTestDB(t)
	core := setupCore(t, db)
	ctx := context.Background()

	from := testutil.SeedWallet(t, db, uuid.New(), domain.WalletKindStudent)
	to := testutil.SeedWallet(t, db, uuid.New(), domain.WalletKindInstructor)
	testutil.SeedBalance(t, db, from.ID, domain.CurrencyUSD, 10000)

	spec := twoLegSpec(from.ID, to.ID, 3000)

	var wg sync.WaitGroup
	results := make(chan error, 4)

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := core.PostGroup(ctx, spec)
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	for err := range results {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, testutil.CountGroupsByIdempotencyKey(t, db, spec.IdempotencyKey))
	assert.Equal(t, int64(7000), testutil.GetAvailable(t, db, from.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(3000), testutil.GetAvailable(t, db, to.ID, domain.CurrencyUSD))
}

func TestPostGroup_ConcurrentOverdraft(t *testing.T) {
	db := testutil.SetupTestDB(t)
	core := setupCore(t, db)
	ctx := context.Background()

	from := testutil.SeedWallet(t, db, uuid.New(), domain.WalletKindStudent)
	to := testutil.SeedWallet(t, db, uuid.New(), domain.WalletKindInstructor)
	testutil.SeedBalance(t, db, from.ID, domain.CurrencyUSD, 10000)

	var wg sync.WaitGroup
	results := make(chan error, 2)

	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := core.PostGroup(ctx, twoLegSpec(from.ID, to.ID, 7000))
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	var succeeded, failed int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, domain.ErrInsufficientFunds)
			failed++
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, int64(3000), testutil.GetAvailable(t, db, from.ID, domain.CurrencyUSD))
}
