// Package ledger posts balanced groups of signed entries and their balance
// deltas as one atomic unit. It is the only writer of ledger rows.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/domain"
	"github.com/courseloom/monetization/internal/repository"
)

type groupStore interface {
	CreateGroupTx(ctx context.Context, tx *sql.Tx, g *domain.Group) error
	CreateEntryTx(ctx context.Context, tx *sql.Tx, e *domain.Entry) error
	GetGroupByIdempotencyKey(ctx context.Context, key string) (*domain.Group, error)
}

type walletStore interface {
	LockBalanceTx(ctx context.Context, tx *sql.Tx, walletID uuid.UUID, currency domain.Currency) (*domain.Balance, domain.WalletKind, error)
	AdjustTx(ctx context.Context, tx *sql.Tx, locked *domain.Balance, kind domain.WalletKind, bucket domain.BalanceBucket, delta int64) error
}

type Core struct {
	groups  groupStore
	wallets walletStore
	db      *sql.DB
}

func NewCore(groups groupStore, wallets walletStore, db *sql.DB) *Core {
	return &Core{groups: groups, wallets: wallets, db: db}
}

// EntrySpec is one leg of a group to be posted. Bucket defaults to available.
type EntrySpec struct {
	WalletID    uuid.UUID
	AmountCents int64
	Kind        domain.EntryKind
	Bucket      domain.BalanceBucket
	RefType     string
	RefID       string
}

type GroupSpec struct {
	IdempotencyKey string
	Currency       domain.Currency
	Entries        []EntrySpec
}

// Validate rejects groups whose signed amounts do not sum to exactly zero,
// groups with fewer than two legs, zero-amount legs, or an invalid currency.
// These are integration defects and must never be committed.
func (spec GroupSpec) Validate() error {
	if spec.IdempotencyKey == "" {
		return fmt.Errorf("Validate: idempotency key required: %w", domain.ErrInvalidRequest)
	}
	if !spec.Currency.IsValid() {
		return fmt.Errorf("Validate: %w", domain.ErrCurrencyMismatch)
	}
	if len(spec.Entries) < 2 {
		return fmt.Errorf("Validate: group needs at least two legs: %w", domain.ErrUnbalancedGroup)
	}

	var sum int64
	for _, e := range spec.Entries {
		if e.AmountCents == 0 {
			return fmt.Errorf("Validate: zero-amount leg: %w", domain.ErrUnbalancedGroup)
		}
		sum += e.AmountCents
	}
	if sum != 0 {
		return fmt.Errorf("Validate: legs sum to %d: %w", sum, domain.ErrUnbalancedGroup)
	}
	return nil
}

// PostGroup posts a group in its own transaction. Replaying an idempotency
// key returns the previously committed group unchanged, including replays
// that race the original commit.
func (c *Core) PostGroup(ctx context.Context, spec GroupSpec) (*domain.Group, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("PostGroup: %w", err)
	}

	if existing, err := c.replay(ctx, spec.IdempotencyKey); err != nil {
		return nil, fmt.Errorf("PostGroup: %w", err)
	} else if existing != nil {
		return existing, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("PostGroup: begin tx: %w", err)
	}
	defer tx.Rollback()

	g, err := c.PostGroupTx(ctx, tx, spec)
	if err != nil {
		// A raced duplicate key fails the group insert itself.
		if repository.IsUniqueViolation(err) {
			return c.replayAfterRace(ctx, spec.IdempotencyKey)
		}
		return nil, fmt.Errorf("PostGroup: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if repository.IsUniqueViolation(err) {
			return c.replayAfterRace(ctx, spec.IdempotencyKey)
		}
		return nil, fmt.Errorf("PostGroup: commit: %w", err)
	}
	return g, nil
}

// PostGroupTx posts a group inside a caller-owned transaction, so ownership
// grants and event bookkeeping can commit atomically with the ledger writes.
// The caller is responsible for the replay check; a raced duplicate key
// aborts the whole transaction with a unique violation.
func (c *Core) PostGroupTx(ctx context.Context, tx *sql.Tx, spec GroupSpec) (*domain.Group, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("PostGroupTx: %w", err)
	}

	now := time.Now().UTC()
	g := &domain.Group{
		ID:             uuid.New(),
		GroupKey:       uuid.NewString(),
		IdempotencyKey: spec.IdempotencyKey,
		Currency:       spec.Currency,
		CreatedAt:      now,
	}
	if err := c.groups.CreateGroupTx(ctx, tx, g); err != nil {
		return nil, fmt.Errorf("PostGroupTx: %w", err)
	}

	locked, err := c.lockWalletsInOrder(ctx, tx, spec)
	if err != nil {
		return nil, fmt.Errorf("PostGroupTx: %w", err)
	}

	for _, e := range spec.Entries {
		bucket := e.Bucket
		if bucket == "" {
			bucket = domain.BucketAvailable
		}

		entry := domain.Entry{
			ID:          uuid.New(),
			GroupID:     g.ID,
			WalletID:    e.WalletID,
			AmountCents: e.AmountCents,
			Currency:    spec.Currency,
			Kind:        e.Kind,
			Bucket:      bucket,
			RefType:     e.RefType,
			RefID:       e.RefID,
			CreatedAt:   now,
			CompletedAt: &now,
		}
		if err := c.groups.CreateEntryTx(ctx, tx, &entry); err != nil {
			return nil, fmt.Errorf("PostGroupTx: entry %s: %w", e.WalletID, err)
		}

		lw := locked[e.WalletID]
		if err := c.wallets.AdjustTx(ctx, tx, lw.balance, lw.kind, bucket, e.AmountCents); err != nil {
			return nil, fmt.Errorf("PostGroupTx: %w", err)
		}

		g.Entries = append(g.Entries, entry)
	}

	return g, nil
}

type lockedWallet struct {
	balance *domain.Balance
	kind    domain.WalletKind
}

// Wallet locks are always taken in sorted id order so concurrent groups
// touching the same wallets cannot deadlock.
func (c *Core) lockWalletsInOrder(ctx context.Context, tx *sql.Tx, spec GroupSpec) (map[uuid.UUID]lockedWallet, error) {
	seen := make(map[uuid.UUID]struct{}, len(spec.Entries))
	ids := make([]uuid.UUID, 0, len(spec.Entries))
	for _, e := range spec.Entries {
		if _, ok := seen[e.WalletID]; ok {
			continue
		}
		seen[e.WalletID] = struct{}{}
		ids = append(ids, e.WalletID)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})

	locked := make(map[uuid.UUID]lockedWallet, len(ids))
	for _, id := range ids {
		bal, kind, err := c.wallets.LockBalanceTx(ctx, tx, id, spec.Currency)
		if err != nil {
			return nil, fmt.Errorf("lockWalletsInOrder: %w", err)
		}
		locked[id] = lockedWallet{balance: bal, kind: kind}
	}
	return locked, nil
}

func (c *Core) replay(ctx context.Context, key string) (*domain.Group, error) {
	existing, err := c.groups.GetGroupByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("replay: %w", err)
	}
	return existing, nil
}

func (c *Core) replayAfterRace(ctx context.Context, key string) (*domain.Group, error) {
	existing, err := c.replay(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("replayAfterRace: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("replayAfterRace: %w", domain.ErrDuplicateGroup)
	}
	return existing, nil
}
