package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/domain"
)

const ownershipColumns = `id, user_id, product_id, source, metadata, granted_at, revoked_at`

type OwnershipRepository struct {
	db *sql.DB
}

func NewOwnershipRepository(db *sql.DB) *OwnershipRepository {
	return &OwnershipRepository{db: db}
}

// GrantTx upserts by the unique (user_id, product_id) key. A fresh grant
// inserts; a revoked row is reactivated in place with the new source and
// metadata. A second row per pair can never exist, so concurrent grants
// collapse into one.
func (r *OwnershipRepository) GrantTx(ctx context.Context, tx *sql.Tx, o *domain.Ownership) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ownerships (id, user_id, product_id, source, metadata, granted_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL)
		ON CONFLICT (user_id, product_id) DO UPDATE
		SET source = EXCLUDED.source,
			metadata = EXCLUDED.metadata,
			granted_at = EXCLUDED.granted_at,
			revoked_at = NULL`,
		o.ID, o.UserID, o.ProductID, o.Source, o.Metadata, o.GrantedAt,
	)
	if err != nil {
		return fmt.Errorf("GrantTx: %w", err)
	}
	return nil
}

func (r *OwnershipRepository) RevokeTx(ctx context.Context, tx *sql.Tx, userID, productID uuid.UUID, revokedAt time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE ownerships SET revoked_at = $1 WHERE user_id = $2 AND product_id = $3`,
		revokedAt, userID, productID,
	)
	if err != nil {
		return fmt.Errorf("RevokeTx: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RevokeTx: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("RevokeTx: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *OwnershipRepository) Get(ctx context.Context, userID, productID uuid.UUID) (*domain.Ownership, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ownershipColumns+` FROM ownerships WHERE user_id = $1 AND product_id = $2`,
		userID, productID,
	)
	o, err := scanOwnership(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("Get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	return o, nil
}

// GetByGroupKey resolves the ownership row granted by a specific posting,
// used by refunds to find what to revoke.
func (r *OwnershipRepository) GetByGroupKey(ctx context.Context, groupKey string) (*domain.Ownership, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ownershipColumns+` FROM ownerships WHERE metadata->>'group_key' = $1`,
		groupKey,
	)
	o, err := scanOwnership(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByGroupKey: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByGroupKey: %w", err)
	}
	return o, nil
}

func (r *OwnershipRepository) HasActiveAccess(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	var active bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM ownerships
			WHERE user_id = $1 AND product_id = $2 AND revoked_at IS NULL
		)`,
		userID, productID,
	).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("HasActiveAccess: %w", err)
	}
	return active, nil
}

func scanOwnership(s scanner) (*domain.Ownership, error) {
	var o domain.Ownership
	var metadata *[]byte
	err := s.Scan(&o.ID, &o.UserID, &o.ProductID, &o.Source, &metadata, &o.GrantedAt, &o.RevokedAt)
	if err != nil {
		return nil, err
	}
	if metadata != nil {
		o.Metadata = json.RawMessage(*metadata)
	}
	return &o, nil
}
