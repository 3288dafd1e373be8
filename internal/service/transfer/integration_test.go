package transfer_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courseloom/monetization/internal/cache"
	"github.com/courseloom/monetization/internal/domain"
	"github.com/courseloom/monetization/internal/ledger"
	"github.com/courseloom/monetization/internal/repository"
	"github.com/courseloom/monetization/internal/service/transfer"
	"github.com/courseloom/monetization/internal/testutil"
)

type mockProcessor struct {
	mu       sync.Mutex
	deposits []transfer.ProcessorRequest
	payouts  []transfer.ProcessorRequest
	err      error
}

func (m *mockProcessor) ConfirmDeposit(_ context.Context, req transfer.ProcessorRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.deposits = append(m.deposits, req)
	return nil
}

func (m *mockProcessor) ConfirmPayout(_ context.Context, req transfer.ProcessorRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.payouts = append(m.payouts, req)
	return nil
}

type mockTrust struct {
	score int
}

func (m *mockTrust) Score(_ context.Context, _ uuid.UUID) (int, error) {
	return m.score, nil
}

type mockCatalog struct {
	missing bool
}

func (m *mockCatalog) GetProduct(_ context.Context, productID uuid.UUID) (*transfer.Product, error) {
	if m.missing {
		return nil, domain.ErrProductNotFound
	}
	return &transfer.Product{ID: productID, PriceCents: 10000, Currency: domain.CurrencyUSD}, nil
}

type testEnv struct {
	svc       *transfer.Service
	db        *sql.DB
	processor *mockProcessor
	trust     *mockTrust
	catalog   *mockCatalog
	events    *repository.EventRepository
}

func setupEnv(t *testing.T, trustScore int) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)

	wallets := repository.NewWalletRepository(db)
	ledgers := repository.NewLedgerRepository(db)
	ownerships := repository.NewOwnershipRepository(db)
	events := repository.NewEventRepository(db)
	audits := repository.NewAuditRepository(db)
	core := ledger.NewCore(ledgers, wallets, db)

	processor := &mockProcessor{}
	trust := &mockTrust{score: trustScore}
	catalog := &mockCatalog{}

	svc := transfer.NewService(
		core, ledgers, wallets, ownerships, audits, events,
		processor, trust, catalog, cache.NewBalanceCache(nil, 0), db,
	)

	return &testEnv{svc: svc, db: db, processor: processor, trust: trust, catalog: catalog, events: events}
}

func registerCheckoutEvent(t *testing.T, env *testEnv, eventID string, amount int64, productID, buyerID, sellerID uuid.UUID) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"eventId":     eventID,
		"type":        "checkout.completed",
		"amountCents": amount,
		"currency":    "USD",
		"metadata": map[string]string{
			"productId": productID.String(),
			"buyerId":   buyerID.String(),
			"sellerId":  sellerID.String(),
		},
	})
	require.NoError(t, err)

	require.NoError(t, env.events.Register(context.Background(), &domain.ExternalEvent{
		ID:        eventID,
		Type:      domain.ExternalEventCheckoutCompleted,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}))
}

func eventProcessed(t *testing.T, db *sql.DB, eventID string) bool {
	t.Helper()
	var processed bool
	require.NoError(t, db.QueryRow(
		`SELECT processed FROM external_events WHERE id = $1`, eventID,
	).Scan(&processed))
	return processed
}

func ownershipRow(t *testing.T, db *sql.DB, userID, productID uuid.UUID) (id uuid.UUID, revokedAt *time.Time) {
	t.Helper()
	require.NoError(t, db.QueryRow(
		`SELECT id, revoked_at FROM ownerships WHERE user_id = $1 AND product_id = $2`,
		userID, productID,
	).Scan(&id, &revokedAt))
	return id, revokedAt
}

func TestSettleExternalCheckout_SplitsByTrustScore(t *testing.T) {
	env := setupEnv(t, 750)
	ctx := context.Background()

	buyerID := uuid.New()
	sellerID := uuid.New()
	productID := uuid.New()
	seller := testutil.SeedWallet(t, env.db, sellerID, domain.WalletKindInstructor)

	eventID := "evt_" + uuid.NewString()
	registerCheckoutEvent(t, env, eventID, 10000, productID, buyerID, sellerID)

	g, err := env.svc.SettleExternalCheckout(ctx, transfer.CheckoutEvent{
		EventID:     eventID,
		AmountCents: 10000,
		Currency:    domain.CurrencyUSD,
		ProductID:   productID,
		BuyerID:     buyerID,
		SellerID:    sellerID,
	})
	require.NoError(t, err)
	require.Len(t, g.Entries, 3)

	// Trust 750 -> commission 16.25%: seller 8375, platform 1625.
	assert.Equal(t, int64(-10000), testutil.GetAvailable(t, env.db, testutil.SettlementWalletID, domain.CurrencyUSD))
	assert.Equal(t, int64(8375), testutil.GetAvailable(t, env.db, seller.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(1625), testutil.GetAvailable(t, env.db, testutil.PlatformRevenueWalletID, domain.CurrencyUSD))
	assert.Equal(t, int64(8375), testutil.GetBucket(t, env.db, seller.ID, domain.CurrencyUSD, domain.BucketLifetime))

	_, revokedAt := ownershipRow(t, env.db, buyerID, productID)
	assert.Nil(t, revokedAt)
	assert.True(t, eventProcessed(t, env.db, eventID))
}

func TestSettleExternalCheckout_DuplicateEventID(t *testing.T) {
	env := setupEnv(t, 750)
	ctx := context.Background()

	buyerID := uuid.New()
	sellerID := uuid.New()
	productID := uuid.New()
	seller := testutil.SeedWallet(t, env.db, sellerID, domain.WalletKindInstructor)

	eventID := "evt_" + uuid.NewString()
	registerCheckoutEvent(t, env, eventID, 10000, productID, buyerID, sellerID)

	ev := transfer.CheckoutEvent{
		EventID:     eventID,
		AmountCents: 10000,
		Currency:    domain.CurrencyUSD,
		ProductID:   productID,
		BuyerID:     buyerID,
		SellerID:    sellerID,
	}

	_, err := env.svc.SettleExternalCheckout(ctx, ev)
	require.NoError(t, err)

	_, err = env.svc.SettleExternalCheckout(ctx, ev)
	require.ErrorIs(t, err, domain.ErrDuplicateGroup)

	assert.Equal(t, 1, testutil.CountGroupsByIdempotencyKey(t, env.db, eventID))
	assert.Equal(t, int64(8375), testutil.GetAvailable(t, env.db, seller.ID, domain.CurrencyUSD))
}

func TestPurchaseWithWallet_HappyPath(t *testing.T) {
	env := setupEnv(t, 1000)
	ctx := context.Background()

	buyerUserID := uuid.New()
	sellerUserID := uuid.New()
	productID := uuid.New()

	buyer := testutil.SeedWallet(t, env.db, buyerUserID, domain.WalletKindStudent)
	seller := testutil.SeedWallet(t, env.db, sellerUserID, domain.WalletKindInstructor)
	testutil.SeedBalance(t, env.db, buyer.ID, domain.CurrencyUSD, 20000)

	g, err := env.svc.PurchaseWithWallet(ctx, transfer.PurchaseRequest{
		BuyerWalletID:  buyer.ID,
		SellerWalletID: seller.ID,
		AmountCents:    10000,
		Currency:       domain.CurrencyUSD,
		ProductID:      productID,
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	require.Len(t, g.Entries, 3)

	// Max trust: commission 5%.
	assert.Equal(t, int64(10000), testutil.GetAvailable(t, env.db, buyer.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(9500), testutil.GetAvailable(t, env.db, seller.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(500), testutil.GetAvailable(t, env.db, testutil.PlatformRevenueWalletID, domain.CurrencyUSD))

	_, revokedAt := ownershipRow(t, env.db, buyerUserID, productID)
	assert.Nil(t, revokedAt)
}

func TestPurchaseWithWallet_InsufficientFunds(t *testing.T) {
	env := setupEnv(t, 500)
	ctx := context.Background()

	buyerUserID := uuid.New()
	buyer := testutil.SeedWallet(t, env.db, buyerUserID, domain.WalletKindStudent)
	seller := testutil.SeedWallet(t, env.db, uuid.New(), domain.WalletKindInstructor)
	testutil.SeedBalance(t, env.db, buyer.ID, domain.CurrencyUSD, 500)

	key := uuid.NewString()
	_, err := env.svc.PurchaseWithWallet(ctx, transfer.PurchaseRequest{
		BuyerWalletID:  buyer.ID,
		SellerWalletID: seller.ID,
		AmountCents:    10000,
		Currency:       domain.CurrencyUSD,
		ProductID:      uuid.New(),
		IdempotencyKey: key,
	})

	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(500), testutil.GetAvailable(t, env.db, buyer.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(0), testutil.GetAvailable(t, env.db, seller.ID, domain.CurrencyUSD))
	assert.Equal(t, 0, testutil.CountGroupsByIdempotencyKey(t, env.db, key))

	var ownerships int
	require.NoError(t, env.db.QueryRow(`SELECT COUNT(*) FROM ownerships WHERE user_id = $1`, buyerUserID).Scan(&ownerships))
	assert.Equal(t, 0, ownerships)
}

func TestPurchaseWithWallet_Replay(t *testing.T) {
	env := setupEnv(t, 1000)
	ctx := context.Background()

	buyer := testutil.SeedWallet(t, env.db, uuid.New(), domain.WalletKindStudent)
	seller := testutil.SeedWallet(t, env.db, uuid.New(), domain.WalletKindInstructor)
	testutil.SeedBalance(t, env.db, buyer.ID, domain.CurrencyUSD, 20000)

	req := transfer.PurchaseRequest{
		BuyerWalletID:  buyer.ID,
		SellerWalletID: seller.ID,
		AmountCents:    10000,
		Currency:       domain.CurrencyUSD,
		ProductID:      uuid.New(),
		IdempotencyKey: uuid.NewString(),
	}

	first, err := env.svc.PurchaseWithWallet(ctx, req)
	require.NoError(t, err)

	second, err := env.svc.PurchaseWithWallet(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.GroupKey, second.GroupKey)
	assert.Equal(t, int64(10000), testutil.GetAvailable(t, env.db, buyer.ID, domain.CurrencyUSD))
	assert.Equal(t, 1, testutil.CountGroupsByIdempotencyKey(t, env.db, req.IdempotencyKey))
}

func TestRefund_RestoresBalancesAndRevokesOwnership(t *testing.T) {
	env := setupEnv(t, 750)
	ctx := context.Background()

	buyerUserID := uuid.New()
	productID := uuid.New()
	buyer := testutil.SeedWallet(t, env.db, buyerUserID, domain.WalletKindStudent)
	seller := testutil.SeedWallet(t, env.db, uuid.New(), domain.WalletKindInstructor)
	testutil.SeedBalance(t, env.db, buyer.ID, domain.CurrencyUSD, 20000)

	g, err := env.svc.PurchaseWithWallet(ctx, transfer.PurchaseRequest{
		BuyerWalletID:  buyer.ID,
		SellerWalletID: seller.ID,
		AmountCents:    10000,
		Currency:       domain.CurrencyUSD,
		ProductID:      productID,
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	originalOwnershipID, _ := ownershipRow(t, env.db, buyerUserID, productID)

	refund, err := env.svc.Refund(ctx, g.GroupKey, "user:"+buyerUserID.String())
	require.NoError(t, err)
	require.Len(t, refund.Entries, 3)

	assert.Equal(t, int64(20000), testutil.GetAvailable(t, env.db, buyer.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(0), testutil.GetAvailable(t, env.db, seller.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(0), testutil.GetAvailable(t, env.db, testutil.PlatformRevenueWalletID, domain.CurrencyUSD))
	assert.Equal(t, int64(0), testutil.GetBucket(t, env.db, seller.ID, domain.CurrencyUSD, domain.BucketLifetime))

	_, revokedAt := ownershipRow(t, env.db, buyerUserID, productID)
	require.NotNil(t, revokedAt)

	// Second refund of the same group is rejected.
	_, err = env.svc.Refund(ctx, g.GroupKey, "admin")
	require.ErrorIs(t, err, domain.ErrAlreadyRefunded)

	// Re-purchase reactivates the same ownership row.
	_, err = env.svc.PurchaseWithWallet(ctx, transfer.PurchaseRequest{
		BuyerWalletID:  buyer.ID,
		SellerWalletID: seller.ID,
		AmountCents:    10000,
		Currency:       domain.CurrencyUSD,
		ProductID:      productID,
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	reactivatedID, revokedAt := ownershipRow(t, env.db, buyerUserID, productID)
	assert.Equal(t, originalOwnershipID, reactivatedID)
	assert.Nil(t, revokedAt)
}

func TestDepositAndWithdraw(t *testing.T) {
	env := setupEnv(t, 0)
	ctx := context.Background()

	wallet := testutil.SeedWallet(t, env.db, uuid.New(), domain.WalletKindInstructor)

	dep, err := env.svc.Deposit(ctx, transfer.FundingRequest{
		WalletID:       wallet.ID,
		AmountCents:    5000,
		Currency:       domain.CurrencyUSD,
		IdempotencyKey: "dep-" + uuid.NewString(),
	})
	require.NoError(t, err)
	require.Len(t, dep.Entries, 2)
	require.Len(t, env.processor.deposits, 1)

	assert.Equal(t, int64(5000), testutil.GetAvailable(t, env.db, wallet.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(-5000), testutil.GetAvailable(t, env.db, testutil.SettlementWalletID, domain.CurrencyUSD))

	_, err = env.svc.Withdraw(ctx, transfer.FundingRequest{
		WalletID:       wallet.ID,
		AmountCents:    2000,
		Currency:       domain.CurrencyUSD,
		IdempotencyKey: "wd-" + uuid.NewString(),
	})
	require.NoError(t, err)
	require.Len(t, env.processor.payouts, 1)

	assert.Equal(t, int64(3000), testutil.GetAvailable(t, env.db, wallet.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(-3000), testutil.GetAvailable(t, env.db, testutil.SettlementWalletID, domain.CurrencyUSD))
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	env := setupEnv(t, 0)
	ctx := context.Background()

	wallet := testutil.SeedWallet(t, env.db, uuid.New(), domain.WalletKindInstructor)
	testutil.SeedBalance(t, env.db, wallet.ID, domain.CurrencyUSD, 1000)

	_, err := env.svc.Withdraw(ctx, transfer.FundingRequest{
		WalletID:       wallet.ID,
		AmountCents:    5000,
		Currency:       domain.CurrencyUSD,
		IdempotencyKey: uuid.NewString(),
	})

	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Empty(t, env.processor.payouts)
	assert.Equal(t, int64(1000), testutil.GetAvailable(t, env.db, wallet.ID, domain.CurrencyUSD))
}

func TestDeposit_ProcessorFailureLeavesLedgerUntouched(t *testing.T) {
	env := setupEnv(t, 0)
	ctx := context.Background()

	wallet := testutil.SeedWallet(t, env.db, uuid.New(), domain.WalletKindStudent)
	env.processor.err = fmt.Errorf("boom: %w", domain.ErrProcessorUnavailable)

	key := uuid.NewString()
	_, err := env.svc.Deposit(ctx, transfer.FundingRequest{
		WalletID:       wallet.ID,
		AmountCents:    5000,
		Currency:       domain.CurrencyUSD,
		IdempotencyKey: key,
	})

	require.ErrorIs(t, err, domain.ErrProcessorUnavailable)
	assert.Equal(t, int64(0), testutil.GetAvailable(t, env.db, wallet.ID, domain.CurrencyUSD))
	assert.Equal(t, 0, testutil.CountGroupsByIdempotencyKey(t, env.db, key))
}

func TestTransferBetweenWallets(t *testing.T) {
	env := setupEnv(t, 0)
	ctx := context.Background()

	from := testutil.SeedWallet(t, env.db, uuid.New(), domain.WalletKindStudent)
	to := testutil.SeedWallet(t, env.db, uuid.New(), domain.WalletKindStudent)
	testutil.SeedBalance(t, env.db, from.ID, domain.CurrencyGBP, 8000)

	g, err := env.svc.TransferBetweenWallets(ctx, transfer.TransferRequest{
		FromWalletID:   from.ID,
		ToWalletID:     to.ID,
		AmountCents:    3000,
		Currency:       domain.CurrencyGBP,
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	require.Len(t, g.Entries, 2)

	assert.Equal(t, int64(5000), testutil.GetAvailable(t, env.db, from.ID, domain.CurrencyGBP))
	assert.Equal(t, int64(3000), testutil.GetAvailable(t, env.db, to.ID, domain.CurrencyGBP))

	_, err = env.svc.TransferBetweenWallets(ctx, transfer.TransferRequest{
		FromWalletID:   from.ID,
		ToWalletID:     from.ID,
		AmountCents:    100,
		Currency:       domain.CurrencyGBP,
		IdempotencyKey: uuid.NewString(),
	})
	require.ErrorIs(t, err, domain.ErrSelfTransfer)
}

func TestEscrowHoldAndRelease(t *testing.T) {
	env := setupEnv(t, 0)
	ctx := context.Background()

	wallet := testutil.SeedWallet(t, env.db, uuid.New(), domain.WalletKindInstructor)
	testutil.SeedBalance(t, env.db, wallet.ID, domain.CurrencyUSD, 5000)

	_, err := env.svc.HoldEscrow(ctx, transfer.EscrowRequest{
		WalletID:       wallet.ID,
		AmountCents:    2000,
		Currency:       domain.CurrencyUSD,
		RefType:        "payout_review",
		RefID:          "rev-1",
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3000), testutil.GetAvailable(t, env.db, wallet.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(2000), testutil.GetBucket(t, env.db, wallet.ID, domain.CurrencyUSD, domain.BucketPending))

	_, err = env.svc.ReleaseEscrow(ctx, transfer.EscrowRequest{
		WalletID:       wallet.ID,
		AmountCents:    2000,
		Currency:       domain.CurrencyUSD,
		RefType:        "payout_review",
		RefID:          "rev-1",
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5000), testutil.GetAvailable(t, env.db, wallet.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(0), testutil.GetBucket(t, env.db, wallet.ID, domain.CurrencyUSD, domain.BucketPending))
}

func TestReleaseEscrow_MoreThanHeld(t *testing.T) {
	env := setupEnv(t, 0)
	ctx := context.Background()

	wallet := testutil.SeedWallet(t, env.db, uuid.New(), domain.WalletKindInstructor)
	testutil.SeedBalance(t, env.db, wallet.ID, domain.CurrencyUSD, 5000)

	_, err := env.svc.HoldEscrow(ctx, transfer.EscrowRequest{
		WalletID:       wallet.ID,
		AmountCents:    1000,
		Currency:       domain.CurrencyUSD,
		RefType:        "payout_review",
		RefID:          "rev-2",
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	_, err = env.svc.ReleaseEscrow(ctx, transfer.EscrowRequest{
		WalletID:       wallet.ID,
		AmountCents:    3000,
		Currency:       domain.CurrencyUSD,
		RefType:        "payout_review",
		RefID:          "rev-2",
		IdempotencyKey: uuid.NewString(),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// The failed release left both buckets as the hold set them.
	assert.Equal(t, int64(4000), testutil.GetAvailable(t, env.db, wallet.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(1000), testutil.GetBucket(t, env.db, wallet.ID, domain.CurrencyUSD, domain.BucketPending))
}

func TestConcurrentPurchases_DistinctKeys(t *testing.T) {
	env := setupEnv(t, 1000)
	ctx := context.Background()

	buyer := testutil.SeedWallet(t, env.db, uuid.New(), domain.WalletKindStudent)
	seller := testutil.SeedWallet(t, env.db, uuid.New(), domain.WalletKindInstructor)
	testutil.SeedBalance(t, env.db, buyer.ID, domain.CurrencyUSD, 30000)

	var wg sync.WaitGroup
	results := make(chan error, 3)

	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.PurchaseWithWallet(ctx, transfer.PurchaseRequest{
				BuyerWalletID:  buyer.ID,
				SellerWalletID: seller.ID,
				AmountCents:    10000,
				Currency:       domain.CurrencyUSD,
				ProductID:      uuid.New(),
				IdempotencyKey: uuid.NewString(),
			})
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	for err := range results {
		require.NoError(t, err)
	}

	assert.Equal(t, int64(0), testutil.GetAvailable(t, env.db, buyer.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(28500), testutil.GetAvailable(t, env.db, seller.ID, domain.CurrencyUSD))
	assert.Equal(t, int64(1500), testutil.GetAvailable(t, env.db, testutil.PlatformRevenueWalletID, domain.CurrencyUSD))
}
