package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/cache"
	"github.com/courseloom/monetization/internal/domain"
	"github.com/courseloom/monetization/internal/logging"
)

type walletReader interface {
	Create(ctx context.Context, w *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetBalance(ctx context.Context, walletID uuid.UUID, currency domain.Currency) (*domain.Balance, error)
	GetBalances(ctx context.Context, walletID uuid.UUID) ([]domain.Balance, error)
}

type entryReader interface {
	GetEntriesByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.Entry, int, error)
}

type accessReader interface {
	Get(ctx context.Context, userID, productID uuid.UUID) (*domain.Ownership, error)
	HasActiveAccess(ctx context.Context, userID, productID uuid.UUID) (bool, error)
}

// WalletService serves the read surfaces: balances, entry history and
// product access checks. Balance reads go through the cache; writes
// elsewhere invalidate it.
type WalletService struct {
	wallets    walletReader
	entries    entryReader
	ownerships accessReader
	cache      *cache.BalanceCache
}

func NewWalletService(wallets walletReader, entries entryReader, ownerships accessReader, balances *cache.BalanceCache) *WalletService {
	return &WalletService{wallets: wallets, entries: entries, ownerships: ownerships, cache: balances}
}

func (s *WalletService) CreateWallet(ctx context.Context, ownerID uuid.UUID, kind domain.WalletKind) (*domain.Wallet, error) {
	if kind != domain.WalletKindStudent && kind != domain.WalletKindInstructor {
		return nil, fmt.Errorf("CreateWallet: kind %q: %w", kind, domain.ErrInvalidRequest)
	}

	w := &domain.Wallet{
		ID:        uuid.New(),
		OwnerID:   &ownerID,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.wallets.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("CreateWallet: %w", err)
	}

	logging.FromContext(ctx).Info("wallet created", "wallet_id", w.ID, "owner_id", ownerID, "kind", kind)
	return w, nil
}

func (s *WalletService) GetWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	w, err := s.wallets.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetWallet: %w", err)
	}
	return w, nil
}

// GetBalances returns all per-currency balances for a wallet, consulting
// the cache first. A cache failure degrades to the database, never to an
// error.
func (s *WalletService) GetBalances(ctx context.Context, walletID uuid.UUID) ([]domain.Balance, error) {
	if cached, ok := s.cache.Get(ctx, walletID); ok {
		return cached, nil
	}

	if _, err := s.wallets.GetByID(ctx, walletID); err != nil {
		return nil, fmt.Errorf("GetBalances: %w", err)
	}

	balances, err := s.wallets.GetBalances(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("GetBalances: %w", err)
	}

	s.cache.Set(ctx, walletID, balances)
	return balances, nil
}

func (s *WalletService) GetBalance(ctx context.Context, walletID uuid.UUID, currency domain.Currency) (*domain.Balance, error) {
	if !currency.IsValid() {
		return nil, fmt.Errorf("GetBalance: %w", domain.ErrCurrencyMismatch)
	}
	if _, err := s.wallets.GetByID(ctx, walletID); err != nil {
		return nil, fmt.Errorf("GetBalance: %w", err)
	}

	bal, err := s.wallets.GetBalance(ctx, walletID, currency)
	if err != nil {
		return nil, fmt.Errorf("GetBalance: %w", err)
	}
	return bal, nil
}

// GetHistory pages through a wallet's ledger entries, newest first.
func (s *WalletService) GetHistory(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.Entry, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	if _, err := s.wallets.GetByID(ctx, walletID); err != nil {
		return nil, 0, fmt.Errorf("GetHistory: %w", err)
	}

	entries, total, err := s.entries.GetEntriesByWallet(ctx, walletID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("GetHistory: %w", err)
	}
	return entries, total, nil
}

func (s *WalletService) HasAccess(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	ok, err := s.ownerships.HasActiveAccess(ctx, userID, productID)
	if err != nil {
		return false, fmt.Errorf("HasAccess: %w", err)
	}
	return ok, nil
}

func (s *WalletService) GetOwnership(ctx context.Context, userID, productID uuid.UUID) (*domain.Ownership, error) {
	o, err := s.ownerships.Get(ctx, userID, productID)
	if err != nil {
		return nil, fmt.Errorf("GetOwnership: %w", err)
	}
	return o, nil
}
