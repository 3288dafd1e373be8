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

// CheckoutEvent is a parsed payment-completion notification. The buyer paid
// the processor directly, so settlement debits the platform settlement
// wallet rather than a buyer wallet.
type CheckoutEvent struct {
	EventID     string
	AmountCents int64
	Currency    domain.Currency
	ProductID   uuid.UUID
	BuyerID     uuid.UUID
	SellerID    uuid.UUID
}

// SettleExternalCheckout converts one processed payment into ledger entries
// and an access grant, and marks the event processed as the last write of
// the same transaction. The event id doubles as the idempotency key.
func (s *Service) SettleExternalCheckout(ctx context.Context, ev CheckoutEvent) (*domain.Group, error) {
	log := logging.FromContext(ctx)

	if ev.AmountCents <= 0 {
		return nil, fmt.Errorf("SettleExternalCheckout: %w", domain.ErrInvalidAmount)
	}
	if !ev.Currency.IsValid() {
		return nil, fmt.Errorf("SettleExternalCheckout: %w", domain.ErrCurrencyMismatch)
	}

	if _, err := s.catalog.GetProduct(ctx, ev.ProductID); err != nil {
		return nil, fmt.Errorf("SettleExternalCheckout: %w", err)
	}

	sellerWallet, err := s.wallets.GetByOwnerAndKind(ctx, ev.SellerID, domain.WalletKindInstructor)
	if err != nil {
		return nil, fmt.Errorf("SettleExternalCheckout: seller: %w", err)
	}

	sellerCut, platformCut, trustScore, err := s.splitForSeller(ctx, sellerWallet.ID, ev.AmountCents)
	if err != nil {
		return nil, fmt.Errorf("SettleExternalCheckout: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("SettleExternalCheckout: begin tx: %w", err)
	}
	defer tx.Rollback()

	spec := ledger.GroupSpec{
		IdempotencyKey: ev.EventID,
		Currency:       ev.Currency,
		Entries: []ledger.EntrySpec{
			{WalletID: SettlementWalletID, AmountCents: -ev.AmountCents, Kind: domain.EntryKindPurchase, RefType: "product", RefID: ev.ProductID.String()},
			{WalletID: sellerWallet.ID, AmountCents: sellerCut, Kind: domain.EntryKindRoyalty, RefType: "product", RefID: ev.ProductID.String()},
			{WalletID: PlatformRevenueWalletID, AmountCents: platformCut, Kind: domain.EntryKindPlatformFee, RefType: "product", RefID: ev.ProductID.String()},
		},
	}

	g, err := s.ledger.PostGroupTx(ctx, tx, spec)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("SettleExternalCheckout: %w", domain.ErrDuplicateGroup)
		}
		return nil, fmt.Errorf("SettleExternalCheckout: %w", err)
	}

	if err := s.grantOwnershipTx(ctx, tx, ev.BuyerID, ev.ProductID, domain.OwnershipSourceCheckout, g.GroupKey, ev.AmountCents); err != nil {
		return nil, fmt.Errorf("SettleExternalCheckout: %w", err)
	}

	if err := s.adjustLifetimeTx(ctx, tx, sellerWallet.ID, ev.Currency, sellerCut); err != nil {
		return nil, fmt.Errorf("SettleExternalCheckout: %w", err)
	}

	if err := s.events.MarkProcessedTx(ctx, tx, ev.EventID); err != nil {
		return nil, fmt.Errorf("SettleExternalCheckout: %w", err)
	}

	detail := map[string]any{
		"event_id":       ev.EventID,
		"buyer_id":       ev.BuyerID,
		"seller_id":      ev.SellerID,
		"product_id":     ev.ProductID,
		"amount_cents":   ev.AmountCents,
		"seller_cents":   sellerCut,
		"platform_cents": platformCut,
	}
	if err := s.writeAuditTx(ctx, tx, domain.AuditPurchaseCompleted, "processor", "group", g.GroupKey, detail); err != nil {
		return nil, fmt.Errorf("SettleExternalCheckout: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("SettleExternalCheckout: %w", domain.ErrDuplicateGroup)
		}
		return nil, fmt.Errorf("SettleExternalCheckout: commit: %w", err)
	}

	s.invalidateWallets(ctx, g)

	log.Info("external checkout settled",
		"event_id", ev.EventID,
		"group_key", g.GroupKey,
		"seller_wallet", sellerWallet.ID,
		"amount_cents", ev.AmountCents,
		"seller_cents", sellerCut,
		"platform_cents", platformCut,
		"trust_score", trustScore,
	)
	return g, nil
}

// RefundExternalCheckout reverses the settlement of an earlier checkout
// event, driven by a refund notification from the processor.
func (s *Service) RefundExternalCheckout(ctx context.Context, eventID, originalEventID string) (*domain.Group, error) {
	orig, err := s.groups.GetGroupByIdempotencyKey(ctx, originalEventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("RefundExternalCheckout: original settlement: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("RefundExternalCheckout: %w", err)
	}

	g, err := s.executeRefund(ctx, orig, "processor", eventID)
	if err != nil {
		return nil, fmt.Errorf("RefundExternalCheckout: %w", err)
	}
	return g, nil
}
