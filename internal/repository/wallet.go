package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/domain"
)

const walletColumns = `id, owner_id, kind, created_at`

const balanceColumns = `wallet_id, currency, available, pending, lifetime, updated_at`

type WalletRepository struct {
	db *sql.DB
}

func NewWalletRepository(db *sql.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) Create(ctx context.Context, w *domain.Wallet) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO wallets (id, owner_id, kind, created_at) VALUES ($1, $2, $3, $4)`,
		w.ID, w.OwnerID, w.Kind, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *WalletRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id,
	)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrWalletNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return w, nil
}

func (r *WalletRepository) GetByOwnerAndKind(ctx context.Context, ownerID uuid.UUID, kind domain.WalletKind) (*domain.Wallet, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1 AND kind = $2`,
		ownerID, kind,
	)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByOwnerAndKind: %w", domain.ErrWalletNotFound)
		}
		return nil, fmt.Errorf("GetByOwnerAndKind: %w", err)
	}
	return w, nil
}

// GetBalance never fails on an unseen wallet/currency pair: it returns a
// zeroed record, matching the lazy initialization on the write path.
func (r *WalletRepository) GetBalance(ctx context.Context, walletID uuid.UUID, currency domain.Currency) (*domain.Balance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM wallet_balances WHERE wallet_id = $1 AND currency = $2`,
		walletID, currency,
	)
	b, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.Balance{WalletID: walletID, Currency: currency}, nil
		}
		return nil, fmt.Errorf("GetBalance: %w", err)
	}
	return b, nil
}

func (r *WalletRepository) GetBalances(ctx context.Context, walletID uuid.UUID) ([]domain.Balance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+balanceColumns+` FROM wallet_balances WHERE wallet_id = $1 ORDER BY currency`,
		walletID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetBalances: %w", err)
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("GetBalances: scan: %w", err)
		}
		balances = append(balances, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetBalances: rows: %w", err)
	}
	return balances, nil
}

// LockBalanceTx lazily creates the (wallet, currency) row and takes a
// FOR UPDATE lock on it, returning the current buckets together with the
// wallet kind. Callers lock multiple balances in sorted wallet-id order.
func (r *WalletRepository) LockBalanceTx(ctx context.Context, tx *sql.Tx, walletID uuid.UUID, currency domain.Currency) (*domain.Balance, domain.WalletKind, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO wallet_balances (wallet_id, currency) VALUES ($1, $2)
		ON CONFLICT (wallet_id, currency) DO NOTHING`,
		walletID, currency,
	)
	if err != nil {
		return nil, "", fmt.Errorf("LockBalanceTx: init: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT b.wallet_id, b.currency, b.available, b.pending, b.lifetime, b.updated_at, w.kind
		FROM wallet_balances b
		JOIN wallets w ON w.id = b.wallet_id
		WHERE b.wallet_id = $1 AND b.currency = $2
		FOR UPDATE OF b`,
		walletID, currency,
	)

	var b domain.Balance
	var kind domain.WalletKind
	err = row.Scan(&b.WalletID, &b.Currency, &b.Available, &b.Pending, &b.Lifetime, &b.UpdatedAt, &kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", fmt.Errorf("LockBalanceTx: %w", domain.ErrWalletNotFound)
		}
		return nil, "", fmt.Errorf("LockBalanceTx: %w", err)
	}
	return &b, kind, nil
}

// AdjustTx applies one signed delta to one bucket. The caller must already
// hold the row lock via LockBalanceTx; the insufficient-funds floor on
// available and pending debits is enforced here against the locked snapshot,
// so check and decrement are one atomic unit. Platform wallets are settlement
// accounts and may go negative. Lifetime is an unfloored aggregate.
func (r *WalletRepository) AdjustTx(ctx context.Context, tx *sql.Tx, locked *domain.Balance, kind domain.WalletKind, bucket domain.BalanceBucket, delta int64) error {
	var column string
	switch bucket {
	case domain.BucketAvailable:
		column = "available"
		if delta < 0 && kind != domain.WalletKindPlatform && locked.Available+delta < 0 {
			return fmt.Errorf("AdjustTx: wallet %s: %w", locked.WalletID, domain.ErrInsufficientFunds)
		}
	case domain.BucketPending:
		column = "pending"
		if delta < 0 && kind != domain.WalletKindPlatform && locked.Pending+delta < 0 {
			return fmt.Errorf("AdjustTx: wallet %s: %w", locked.WalletID, domain.ErrInsufficientFunds)
		}
	case domain.BucketLifetime:
		column = "lifetime"
	default:
		return fmt.Errorf("AdjustTx: unknown bucket %q", bucket)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE wallet_balances SET `+column+` = `+column+` + $1, updated_at = now()
		WHERE wallet_id = $2 AND currency = $3`,
		delta, locked.WalletID, locked.Currency,
	)
	if err != nil {
		return fmt.Errorf("AdjustTx: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("AdjustTx: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("AdjustTx: %w", domain.ErrWalletNotFound)
	}

	switch bucket {
	case domain.BucketAvailable:
		locked.Available += delta
	case domain.BucketPending:
		locked.Pending += delta
	case domain.BucketLifetime:
		locked.Lifetime += delta
	}
	return nil
}

func scanWallet(s scanner) (*domain.Wallet, error) {
	var w domain.Wallet
	var ownerID uuid.NullUUID
	err := s.Scan(&w.ID, &ownerID, &w.Kind, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	if ownerID.Valid {
		w.OwnerID = &ownerID.UUID
	}
	return &w, nil
}

func scanBalance(s scanner) (*domain.Balance, error) {
	var b domain.Balance
	var updatedAt sql.NullTime
	err := s.Scan(&b.WalletID, &b.Currency, &b.Available, &b.Pending, &b.Lifetime, &updatedAt)
	if err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		b.UpdatedAt = updatedAt.Time
	}
	return &b, nil
}
