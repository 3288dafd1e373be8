package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/domain"
	"github.com/courseloom/monetization/internal/fee"
	"github.com/courseloom/monetization/internal/ledger"
	"github.com/courseloom/monetization/internal/logging"
	"github.com/courseloom/monetization/internal/repository"
)

type PurchaseRequest struct {
	BuyerWalletID  uuid.UUID
	SellerWalletID uuid.UUID
	AmountCents    int64
	Currency       domain.Currency
	ProductID      uuid.UUID
	IdempotencyKey string
}

// PurchaseWithWallet debits the buyer, splits the proceeds between seller
// and platform per the trust-score fee, and grants product access — all in
// one transaction. A replayed idempotency key returns the original group.
func (s *Service) PurchaseWithWallet(ctx context.Context, req PurchaseRequest) (*domain.Group, error) {
	log := logging.FromContext(ctx)

	if err := s.validatePurchase(req); err != nil {
		return nil, fmt.Errorf("PurchaseWithWallet: %w", err)
	}

	existing, err := s.replayedGroup(ctx, req.IdempotencyKey)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("PurchaseWithWallet: %w", err)
	}
	if existing != nil {
		log.Info("idempotent replay", "group_key", existing.GroupKey, "idempotency_key", req.IdempotencyKey)
		return existing, nil
	}

	if _, err := s.catalog.GetProduct(ctx, req.ProductID); err != nil {
		return nil, fmt.Errorf("PurchaseWithWallet: %w", err)
	}

	buyerWallet, err := s.wallets.GetByID(ctx, req.BuyerWalletID)
	if err != nil {
		return nil, fmt.Errorf("PurchaseWithWallet: buyer: %w", err)
	}
	if buyerWallet.OwnerID == nil {
		return nil, fmt.Errorf("PurchaseWithWallet: buyer wallet has no owner: %w", domain.ErrInvalidRequest)
	}

	sellerCut, platformCut, trustScore, err := s.splitForSeller(ctx, req.SellerWalletID, req.AmountCents)
	if err != nil {
		return nil, fmt.Errorf("PurchaseWithWallet: %w", err)
	}

	g, err := s.executePurchase(ctx, req, *buyerWallet.OwnerID, sellerCut, platformCut)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			replayed, replayErr := s.replayedGroup(ctx, req.IdempotencyKey)
			if replayErr == nil {
				log.Info("idempotent replay (race)", "group_key", replayed.GroupKey)
				return replayed, nil
			}
			return nil, fmt.Errorf("PurchaseWithWallet: %w", domain.ErrDuplicateGroup)
		}
		return nil, fmt.Errorf("PurchaseWithWallet: %w", err)
	}

	s.invalidateWallets(ctx, g)

	log.Info("purchase completed",
		"group_key", g.GroupKey,
		"buyer_wallet", req.BuyerWalletID,
		"seller_wallet", req.SellerWalletID,
		"product_id", req.ProductID,
		"amount_cents", req.AmountCents,
		"seller_cents", sellerCut,
		"platform_cents", platformCut,
		"trust_score", trustScore,
	)
	return g, nil
}

func (s *Service) validatePurchase(req PurchaseRequest) error {
	if req.AmountCents <= 0 {
		return fmt.Errorf("validatePurchase: %w", domain.ErrInvalidAmount)
	}
	if !req.Currency.IsValid() {
		return fmt.Errorf("validatePurchase: %w", domain.ErrCurrencyMismatch)
	}
	if req.IdempotencyKey == "" {
		return fmt.Errorf("validatePurchase: idempotency key required: %w", domain.ErrInvalidRequest)
	}
	if req.BuyerWalletID == req.SellerWalletID {
		return fmt.Errorf("validatePurchase: %w", domain.ErrSelfTransfer)
	}
	return nil
}

// splitForSeller resolves the seller's trust score and divides the amount.
// The platform leg absorbs the rounding remainder, so the group always nets
// to zero and the seller payout is reproducible from score and amount alone.
func (s *Service) splitForSeller(ctx context.Context, sellerWalletID uuid.UUID, amountCents int64) (sellerCut, platformCut int64, trustScore int, err error) {
	sellerWallet, err := s.wallets.GetByID(ctx, sellerWalletID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("splitForSeller: %w", err)
	}
	if sellerWallet.OwnerID == nil {
		return 0, 0, 0, fmt.Errorf("splitForSeller: seller wallet has no owner: %w", domain.ErrInvalidRequest)
	}

	trustScore, err = s.trust.Score(ctx, *sellerWallet.OwnerID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("splitForSeller: trust score: %w", err)
	}

	sellerCut, platformCut = fee.Split(amountCents, fee.Commission(trustScore))
	return sellerCut, platformCut, trustScore, nil
}

func (s *Service) executePurchase(ctx context.Context, req PurchaseRequest, buyerUserID uuid.UUID, sellerCut, platformCut int64) (*domain.Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("executePurchase: begin tx: %w", err)
	}
	defer tx.Rollback()

	spec := ledger.GroupSpec{
		IdempotencyKey: req.IdempotencyKey,
		Currency:       req.Currency,
		Entries: []ledger.EntrySpec{
			{WalletID: req.BuyerWalletID, AmountCents: -req.AmountCents, Kind: domain.EntryKindPurchase, RefType: "product", RefID: req.ProductID.String()},
			{WalletID: req.SellerWalletID, AmountCents: sellerCut, Kind: domain.EntryKindRoyalty, RefType: "product", RefID: req.ProductID.String()},
			{WalletID: PlatformRevenueWalletID, AmountCents: platformCut, Kind: domain.EntryKindPlatformFee, RefType: "product", RefID: req.ProductID.String()},
		},
	}

	g, err := s.ledger.PostGroupTx(ctx, tx, spec)
	if err != nil {
		return nil, fmt.Errorf("executePurchase: %w", err)
	}

	if err := s.grantOwnershipTx(ctx, tx, buyerUserID, req.ProductID, domain.OwnershipSourceWallet, g.GroupKey, req.AmountCents); err != nil {
		return nil, fmt.Errorf("executePurchase: %w", err)
	}

	if err := s.adjustLifetimeTx(ctx, tx, req.SellerWalletID, req.Currency, sellerCut); err != nil {
		return nil, fmt.Errorf("executePurchase: %w", err)
	}

	detail := map[string]any{
		"buyer_wallet_id":  req.BuyerWalletID,
		"seller_wallet_id": req.SellerWalletID,
		"product_id":       req.ProductID,
		"amount_cents":     req.AmountCents,
		"seller_cents":     sellerCut,
		"platform_cents":   platformCut,
	}
	actor := fmt.Sprintf("user:%s", buyerUserID)
	if err := s.writeAuditTx(ctx, tx, domain.AuditPurchaseCompleted, actor, "group", g.GroupKey, detail); err != nil {
		return nil, fmt.Errorf("executePurchase: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("executePurchase: commit: %w", err)
	}
	return g, nil
}

func (s *Service) grantOwnershipTx(ctx context.Context, tx *sql.Tx, userID, productID uuid.UUID, source domain.OwnershipSource, groupKey string, amountCents int64) error {
	metadata, err := ownershipMetadata(groupKey, amountCents)
	if err != nil {
		return fmt.Errorf("grantOwnershipTx: %w", err)
	}

	o := &domain.Ownership{
		ID:        uuid.New(),
		UserID:    userID,
		ProductID: productID,
		Source:    source,
		Metadata:  metadata,
		GrantedAt: time.Now().UTC(),
	}
	if err := s.ownerships.GrantTx(ctx, tx, o); err != nil {
		return fmt.Errorf("grantOwnershipTx: %w", err)
	}
	return nil
}
