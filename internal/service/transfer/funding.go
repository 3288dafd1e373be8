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

type FundingRequest struct {
	WalletID       uuid.UUID
	AmountCents    int64
	Currency       domain.Currency
	IdempotencyKey string
}

func (r FundingRequest) validate() error {
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

// Deposit credits a wallet after the processor confirms the inbound payment.
// The settlement wallet takes the matching debit, mirroring money arriving
// from outside the platform.
func (s *Service) Deposit(ctx context.Context, req FundingRequest) (*domain.Group, error) {
	log := logging.FromContext(ctx)

	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("Deposit: %w", err)
	}

	existing, err := s.replayedGroup(ctx, req.IdempotencyKey)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("Deposit: %w", err)
	}
	if existing != nil {
		log.Info("idempotent replay", "group_key", existing.GroupKey, "idempotency_key", req.IdempotencyKey)
		return existing, nil
	}

	w, err := s.wallets.GetByID(ctx, req.WalletID)
	if err != nil {
		return nil, fmt.Errorf("Deposit: %w", err)
	}

	if err := s.processor.ConfirmDeposit(ctx, ProcessorRequest{
		Reference:   req.IdempotencyKey,
		WalletID:    req.WalletID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}); err != nil {
		return nil, fmt.Errorf("Deposit: %w", err)
	}

	g, err := s.postFunding(ctx, req, domain.EntryKindDeposit, domain.AuditWalletDeposit, w)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			replayed, replayErr := s.replayedGroup(ctx, req.IdempotencyKey)
			if replayErr == nil {
				log.Info("idempotent replay (race)", "group_key", replayed.GroupKey)
				return replayed, nil
			}
			return nil, fmt.Errorf("Deposit: %w", domain.ErrDuplicateGroup)
		}
		return nil, fmt.Errorf("Deposit: %w", err)
	}

	s.invalidateWallets(ctx, g)
	log.Info("deposit completed", "group_key", g.GroupKey, "wallet_id", req.WalletID, "amount_cents", req.AmountCents)
	return g, nil
}

// Withdraw debits a wallet and pushes the funds to the processor as a
// payout. The processor confirms before the ledger moves, and the row lock
// inside the posting enforces the non-negative available floor.
func (s *Service) Withdraw(ctx context.Context, req FundingRequest) (*domain.Group, error) {
	log := logging.FromContext(ctx)

	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}

	existing, err := s.replayedGroup(ctx, req.IdempotencyKey)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}
	if existing != nil {
		log.Info("idempotent replay", "group_key", existing.GroupKey, "idempotency_key", req.IdempotencyKey)
		return existing, nil
	}

	w, err := s.wallets.GetByID(ctx, req.WalletID)
	if err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}

	// Unlocked pre-check to fail fast before touching the processor; the
	// authoritative check happens under the row lock in the posting.
	bal, err := s.wallets.GetBalance(ctx, req.WalletID, req.Currency)
	if err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}
	if bal.Available < req.AmountCents {
		return nil, fmt.Errorf("Withdraw: %w", domain.ErrInsufficientFunds)
	}

	if err := s.processor.ConfirmPayout(ctx, ProcessorRequest{
		Reference:   req.IdempotencyKey,
		WalletID:    req.WalletID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}); err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}

	g, err := s.postFunding(ctx, req, domain.EntryKindWithdrawal, domain.AuditWalletWithdrawal, w)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			replayed, replayErr := s.replayedGroup(ctx, req.IdempotencyKey)
			if replayErr == nil {
				log.Info("idempotent replay (race)", "group_key", replayed.GroupKey)
				return replayed, nil
			}
			return nil, fmt.Errorf("Withdraw: %w", domain.ErrDuplicateGroup)
		}
		return nil, fmt.Errorf("Withdraw: %w", err)
	}

	s.invalidateWallets(ctx, g)
	log.Info("withdrawal completed", "group_key", g.GroupKey, "wallet_id", req.WalletID, "amount_cents", req.AmountCents)
	return g, nil
}

func (s *Service) postFunding(ctx context.Context, req FundingRequest, kind domain.EntryKind, op domain.AuditOperation, w *domain.Wallet) (*domain.Group, error) {
	walletDelta := req.AmountCents
	if kind == domain.EntryKindWithdrawal {
		walletDelta = -req.AmountCents
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postFunding: begin tx: %w", err)
	}
	defer tx.Rollback()

	spec := ledger.GroupSpec{
		IdempotencyKey: req.IdempotencyKey,
		Currency:       req.Currency,
		Entries: []ledger.EntrySpec{
			{WalletID: req.WalletID, AmountCents: walletDelta, Kind: kind, RefType: "wallet", RefID: req.WalletID.String()},
			{WalletID: SettlementWalletID, AmountCents: -walletDelta, Kind: kind, RefType: "wallet", RefID: req.WalletID.String()},
		},
	}

	g, err := s.ledger.PostGroupTx(ctx, tx, spec)
	if err != nil {
		return nil, fmt.Errorf("postFunding: %w", err)
	}

	actor := "wallet:" + req.WalletID.String()
	if w.OwnerID != nil {
		actor = "user:" + w.OwnerID.String()
	}
	detail := map[string]any{
		"wallet_id":    req.WalletID,
		"amount_cents": req.AmountCents,
		"currency":     req.Currency,
	}
	if err := s.writeAuditTx(ctx, tx, op, actor, "group", g.GroupKey, detail); err != nil {
		return nil, fmt.Errorf("postFunding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postFunding: commit: %w", err)
	}
	return g, nil
}
