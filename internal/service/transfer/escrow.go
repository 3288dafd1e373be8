package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/domain"
	"github.com/courseloom/monetization/internal/ledger"
	"github.com/courseloom/monetization/internal/logging"
	"github.com/courseloom/monetization/internal/repository"
)

type EscrowRequest struct {
	WalletID       uuid.UUID
	AmountCents    int64
	Currency       domain.Currency
	RefType        string
	RefID          string
	IdempotencyKey string
}

func (r EscrowRequest) validate() error {
	if r.AmountCents <= 0 {
		return domain.ErrInvalidAmount
	}
	if !r.Currency.IsValid() {
		return domain.ErrCurrencyMismatch
	}
	if r.IdempotencyKey == "" {
		return fmt.Errorf("idempotency key required: %w", domain.ErrInvalidRequest)
	}
	return nil
}

// HoldEscrow parks funds on the same wallet by moving them from available
// into pending. The group still nets to zero; only the bucket changes.
func (s *Service) HoldEscrow(ctx context.Context, req EscrowRequest) (*domain.Group, error) {
	g, err := s.moveEscrow(ctx, req, domain.EntryKindEscrowHold, domain.AuditEscrowHeld)
	if err != nil {
		return nil, fmt.Errorf("HoldEscrow: %w", err)
	}
	return g, nil
}

// ReleaseEscrow moves previously held funds from pending back to available.
func (s *Service) ReleaseEscrow(ctx context.Context, req EscrowRequest) (*domain.Group, error) {
	g, err := s.moveEscrow(ctx, req, domain.EntryKindEscrowRelease, domain.AuditEscrowReleased)
	if err != nil {
		return nil, fmt.Errorf("ReleaseEscrow: %w", err)
	}
	return g, nil
}

func (s *Service) moveEscrow(ctx context.Context, req EscrowRequest, kind domain.EntryKind, op domain.AuditOperation) (*domain.Group, error) {
	log := logging.FromContext(ctx)

	if err := req.validate(); err != nil {
		return nil, err
	}

	existing, err := s.replayedGroup(ctx, req.IdempotencyKey)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		log.Info("idempotent replay", "group_key", existing.GroupKey, "idempotency_key", req.IdempotencyKey)
		return existing, nil
	}

	w, err := s.wallets.GetByID(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}

	fromBucket, toBucket := domain.BucketAvailable, domain.BucketPending
	if kind == domain.EntryKindEscrowRelease {
		fromBucket, toBucket = domain.BucketPending, domain.BucketAvailable
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	spec := ledger.GroupSpec{
		IdempotencyKey: req.IdempotencyKey,
		Currency:       req.Currency,
		Entries: []ledger.EntrySpec{
			{WalletID: req.WalletID, AmountCents: -req.AmountCents, Kind: kind, Bucket: fromBucket, RefType: req.RefType, RefID: req.RefID},
			{WalletID: req.WalletID, AmountCents: req.AmountCents, Kind: kind, Bucket: toBucket, RefType: req.RefType, RefID: req.RefID},
		},
	}

	g, err := s.ledger.PostGroupTx(ctx, tx, spec)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			replayed, replayErr := s.replayedGroup(ctx, req.IdempotencyKey)
			if replayErr == nil {
				log.Info("idempotent replay (race)", "group_key", replayed.GroupKey)
				return replayed, nil
			}
			return nil, domain.ErrDuplicateGroup
		}
		return nil, err
	}

	actor := "wallet:" + req.WalletID.String()
	if w.OwnerID != nil {
		actor = "user:" + w.OwnerID.String()
	}
	detail := map[string]any{
		"wallet_id":    req.WalletID,
		"amount_cents": req.AmountCents,
		"ref_type":     req.RefType,
		"ref_id":       req.RefID,
	}
	if err := s.writeAuditTx(ctx, tx, op, actor, "group", g.GroupKey, detail); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.invalidateWallets(ctx, g)
	log.Info("escrow moved", "group_key", g.GroupKey, "wallet_id", req.WalletID, "kind", kind, "amount_cents", req.AmountCents)
	return g, nil
}
