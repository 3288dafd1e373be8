package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courseloom/monetization/internal/cache"
	"github.com/courseloom/monetization/internal/domain"
)

type stubWalletStore struct {
	created []*domain.Wallet
}

func (s *stubWalletStore) Create(_ context.Context, w *domain.Wallet) error {
	s.created = append(s.created, w)
	return nil
}

func (s *stubWalletStore) GetByID(_ context.Context, _ uuid.UUID) (*domain.Wallet, error) {
	return nil, domain.ErrWalletNotFound
}

func (s *stubWalletStore) GetBalance(_ context.Context, walletID uuid.UUID, currency domain.Currency) (*domain.Balance, error) {
	return &domain.Balance{WalletID: walletID, Currency: currency}, nil
}

func (s *stubWalletStore) GetBalances(_ context.Context, _ uuid.UUID) ([]domain.Balance, error) {
	return nil, nil
}

func TestCreateWallet(t *testing.T) {
	store := &stubWalletStore{}
	svc := NewWalletService(store, nil, nil, cache.NewBalanceCache(nil, 0))

	ownerID := uuid.New()
	w, err := svc.CreateWallet(context.Background(), ownerID, domain.WalletKindInstructor)
	require.NoError(t, err)
	require.Len(t, store.created, 1)

	assert.NotEqual(t, uuid.Nil, w.ID)
	require.NotNil(t, w.OwnerID)
	assert.Equal(t, ownerID, *w.OwnerID)
	assert.Equal(t, domain.WalletKindInstructor, w.Kind)
	assert.False(t, w.CreatedAt.IsZero())
	assert.False(t, store.created[0].CreatedAt.IsZero())
}

func TestCreateWallet_RejectsPlatformKind(t *testing.T) {
	store := &stubWalletStore{}
	svc := NewWalletService(store, nil, nil, cache.NewBalanceCache(nil, 0))

	_, err := svc.CreateWallet(context.Background(), uuid.New(), domain.WalletKindPlatform)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Empty(t, store.created)
}
