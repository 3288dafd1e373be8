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

type TransferRequest struct {
	FromWalletID   uuid.UUID
	ToWalletID     uuid.UUID
	AmountCents    int64
	Currency       domain.Currency
	IdempotencyKey string
}

// TransferBetweenWallets moves funds directly between two wallets with no
// fee taken. Both balance rows are locked in sorted order by the posting.
func (s *Service) TransferBetweenWallets(ctx context.Context, req TransferRequest) (*domain.Group, error) {
	log := logging.FromContext(ctx)

	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("TransferBetweenWallets: %w", domain.ErrInvalidAmount)
	}
	if !req.Currency.IsValid() {
		return nil, fmt.Errorf("TransferBetweenWallets: %w", domain.ErrCurrencyMismatch)
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("TransferBetweenWallets: idempotency key required: %w", domain.ErrInvalidRequest)
	}
	if req.FromWalletID == req.ToWalletID {
		return nil, fmt.Errorf("TransferBetweenWallets: %w", domain.ErrSelfTransfer)
	}

	existing, err := s.replayedGroup(ctx, req.IdempotencyKey)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("TransferBetweenWallets: %w", err)
	}
	if existing != nil {
		log.Info("idempotent replay", "group_key", existing.GroupKey, "idempotency_key", req.IdempotencyKey)
		return existing, nil
	}

	from, err := s.wallets.GetByID(ctx, req.FromWalletID)
	if err != nil {
		return nil, fmt.Errorf("TransferBetweenWallets: source: %w", err)
	}
	if _, err := s.wallets.GetByID(ctx, req.ToWalletID); err != nil {
		return nil, fmt.Errorf("TransferBetweenWallets: destination: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("TransferBetweenWallets: begin tx: %w", err)
	}
	defer tx.Rollback()

	spec := ledger.GroupSpec{
		IdempotencyKey: req.IdempotencyKey,
		Currency:       req.Currency,
		Entries: []ledger.EntrySpec{
			{WalletID: req.FromWalletID, AmountCents: -req.AmountCents, Kind: domain.EntryKindTransfer, RefType: "wallet", RefID: req.ToWalletID.String()},
			{WalletID: req.ToWalletID, AmountCents: req.AmountCents, Kind: domain.EntryKindTransfer, RefType: "wallet", RefID: req.FromWalletID.String()},
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
			return nil, fmt.Errorf("TransferBetweenWallets: %w", domain.ErrDuplicateGroup)
		}
		return nil, fmt.Errorf("TransferBetweenWallets: %w", err)
	}

	actor := "wallet:" + req.FromWalletID.String()
	if from.OwnerID != nil {
		actor = "user:" + from.OwnerID.String()
	}
	detail := map[string]any{
		"from_wallet_id": req.FromWalletID,
		"to_wallet_id":   req.ToWalletID,
		"amount_cents":   req.AmountCents,
		"currency":       req.Currency,
	}
	if err := s.writeAuditTx(ctx, tx, domain.AuditWalletTransfer, actor, "group", g.GroupKey, detail); err != nil {
		return nil, fmt.Errorf("TransferBetweenWallets: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if repository.IsUniqueViolation(err) {
			replayed, replayErr := s.replayedGroup(ctx, req.IdempotencyKey)
			if replayErr == nil {
				return replayed, nil
			}
			return nil, fmt.Errorf("TransferBetweenWallets: %w", domain.ErrDuplicateGroup)
		}
		return nil, fmt.Errorf("TransferBetweenWallets: commit: %w", err)
	}

	s.invalidateWallets(ctx, g)
	log.Info("transfer completed",
		"group_key", g.GroupKey,
		"from_wallet", req.FromWalletID,
		"to_wallet", req.ToWalletID,
		"amount_cents", req.AmountCents,
	)
	return g, nil
}
