package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/domain"
)

const groupColumns = `id, group_key, idempotency_key, currency, created_at`

const entryColumns = `id, group_id, wallet_id, amount_cents, currency, kind,
	bucket, ref_type, ref_id, created_at, completed_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// CreateGroupTx inserts the group header. The unique index on
// idempotency_key is the storage-level guarantee that a key is applied at
// most once; a replay surfaces as a unique violation.
func (r *LedgerRepository) CreateGroupTx(ctx context.Context, tx *sql.Tx, g *domain.Group) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transaction_groups (id, group_key, idempotency_key, currency, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		g.ID, g.GroupKey, g.IdempotencyKey, g.Currency, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("CreateGroupTx: %w", err)
	}
	return nil
}

func (r *LedgerRepository) CreateEntryTx(ctx context.Context, tx *sql.Tx, e *domain.Entry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transaction_entries (
			id, group_id, wallet_id, amount_cents, currency, kind,
			bucket, ref_type, ref_id, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.GroupID, e.WalletID, e.AmountCents, e.Currency, e.Kind,
		e.Bucket, e.RefType, e.RefID, e.CreatedAt, e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("CreateEntryTx: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetGroupByKey(ctx context.Context, groupKey string) (*domain.Group, error) {
	return r.getGroup(ctx, `group_key`, groupKey)
}

func (r *LedgerRepository) GetGroupByIdempotencyKey(ctx context.Context, key string) (*domain.Group, error) {
	return r.getGroup(ctx, `idempotency_key`, key)
}

func (r *LedgerRepository) getGroup(ctx context.Context, column, value string) (*domain.Group, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM transaction_groups WHERE `+column+` = $1`, value,
	)
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("getGroup: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getGroup: %w", err)
	}

	entries, err := r.GetEntriesByGroupID(ctx, g.ID)
	if err != nil {
		return nil, fmt.Errorf("getGroup: %w", err)
	}
	g.Entries = entries
	return g, nil
}

func (r *LedgerRepository) GetEntriesByGroupID(ctx context.Context, groupID uuid.UUID) ([]domain.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM transaction_entries
		WHERE group_id = $1 ORDER BY created_at, id`, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetEntriesByGroupID: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r *LedgerRepository) GetEntriesByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.Entry, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transaction_entries WHERE wallet_id = $1`, walletID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("GetEntriesByWallet: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM transaction_entries
		WHERE wallet_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
		walletID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("GetEntriesByWallet: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("GetEntriesByWallet: %w", err)
	}
	return entries, total, nil
}

func collectEntries(rows *sql.Rows) ([]domain.Entry, error) {
	var entries []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("collectEntries: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collectEntries: rows: %w", err)
	}
	return entries, nil
}

func scanGroup(s scanner) (*domain.Group, error) {
	var g domain.Group
	err := s.Scan(&g.ID, &g.GroupKey, &g.IdempotencyKey, &g.Currency, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func scanEntry(s scanner) (*domain.Entry, error) {
	var e domain.Entry
	err := s.Scan(
		&e.ID, &e.GroupID, &e.WalletID, &e.AmountCents, &e.Currency, &e.Kind,
		&e.Bucket, &e.RefType, &e.RefID, &e.CreatedAt, &e.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
