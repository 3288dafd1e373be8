package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courseloom/monetization/internal/domain"
	"github.com/courseloom/monetization/internal/testutil"
)

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, fn(tx))
	require.NoError(t, tx.Commit())
}

func TestOwnershipRepository_GrantRevokeRegrant(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewOwnershipRepository(db)
	ctx := context.Background()

	userID := uuid.New()
	productID := uuid.New()

	first := &domain.Ownership{
		ID:        uuid.New(),
		UserID:    userID,
		ProductID: productID,
		Source:    domain.OwnershipSourceCheckout,
		Metadata:  json.RawMessage(`{"group_key":"grp-1"}`),
		GrantedAt: time.Now().UTC(),
	}
	inTx(t, db, func(tx *sql.Tx) error { return repo.GrantTx(ctx, tx, first) })

	o, err := repo.Get(ctx, userID, productID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, o.ID)
	assert.Nil(t, o.RevokedAt)

	active, err := repo.HasActiveAccess(ctx, userID, productID)
	require.NoError(t, err)
	assert.True(t, active)

	inTx(t, db, func(tx *sql.Tx) error {
		return repo.RevokeTx(ctx, tx, userID, productID, time.Now().UTC())
	})

	o, err = repo.Get(ctx, userID, productID)
	require.NoError(t, err)
	assert.NotNil(t, o.RevokedAt)

	active, err = repo.HasActiveAccess(ctx, userID, productID)
	require.NoError(t, err)
	assert.False(t, active)

	// A repeat purchase reactivates the existing row instead of inserting a
	// second one; the original id survives the upsert.
	regrant := &domain.Ownership{
		ID:        uuid.New(),
		UserID:    userID,
		ProductID: productID,
		Source:    domain.OwnershipSourceWallet,
		Metadata:  json.RawMessage(`{"group_key":"grp-2"}`),
		GrantedAt: time.Now().UTC(),
	}
	inTx(t, db, func(tx *sql.Tx) error { return repo.GrantTx(ctx, tx, regrant) })

	o, err = repo.Get(ctx, userID, productID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, o.ID)
	assert.Equal(t, domain.OwnershipSourceWallet, o.Source)
	assert.Nil(t, o.RevokedAt)

	var count int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM ownerships WHERE user_id = $1 AND product_id = $2`,
		userID, productID,
	).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOwnershipRepository_GetByGroupKey(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewOwnershipRepository(db)
	ctx := context.Background()

	o := &domain.Ownership{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		ProductID: uuid.New(),
		Source:    domain.OwnershipSourceCheckout,
		Metadata:  json.RawMessage(`{"group_key":"grp-lookup"}`),
		GrantedAt: time.Now().UTC(),
	}
	inTx(t, db, func(tx *sql.Tx) error { return repo.GrantTx(ctx, tx, o) })

	found, err := repo.GetByGroupKey(ctx, "grp-lookup")
	require.NoError(t, err)
	assert.Equal(t, o.ID, found.ID)

	_, err = repo.GetByGroupKey(ctx, "grp-unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOwnershipRepository_RevokeMissing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewOwnershipRepository(db)

	tx, err := db.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	err = repo.RevokeTx(context.Background(), tx, uuid.New(), uuid.New(), time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
