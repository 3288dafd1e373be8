package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/courseloom/monetization/internal/domain"
	"github.com/courseloom/monetization/internal/ledger"
	"github.com/courseloom/monetization/internal/logging"
	"github.com/courseloom/monetization/internal/repository"
)

// Refund reverses a settled group by posting the negated legs under a key
// derived from the original, so the reversal is idempotent and a group can
// only be refunded once.
func (s *Service) Refund(ctx context.Context, originalGroupKey, actor string) (*domain.Group, error) {
	orig, err := s.groups.GetGroupByKey(ctx, originalGroupKey)
	if err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}

	g, err := s.executeRefund(ctx, orig, actor, "")
	if err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}
	return g, nil
}

// executeRefund posts the mirror-image group, revokes the ownership bought
// by the original, and unwinds the seller's lifetime aggregate. When
// markEventID is set (processor-driven refunds) the event row is flipped to
// processed inside the same transaction.
func (s *Service) executeRefund(ctx context.Context, orig *domain.Group, actor, markEventID string) (*domain.Group, error) {
	log := logging.FromContext(ctx)

	if strings.HasSuffix(orig.IdempotencyKey, domain.RefundKeySuffix) {
		return nil, fmt.Errorf("executeRefund: group is itself a refund: %w", domain.ErrInvalidRequest)
	}

	refundKey := orig.IdempotencyKey + domain.RefundKeySuffix
	if existing, err := s.groups.GetGroupByIdempotencyKey(ctx, refundKey); err == nil && existing != nil {
		return nil, fmt.Errorf("executeRefund: %w", domain.ErrAlreadyRefunded)
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("executeRefund: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("executeRefund: begin tx: %w", err)
	}
	defer tx.Rollback()

	spec := ledger.GroupSpec{
		IdempotencyKey: refundKey,
		Currency:       orig.Currency,
		Entries:        make([]ledger.EntrySpec, 0, len(orig.Entries)),
	}
	for _, e := range orig.Entries {
		spec.Entries = append(spec.Entries, ledger.EntrySpec{
			WalletID:    e.WalletID,
			AmountCents: -e.AmountCents,
			Kind:        e.Kind,
			Bucket:      e.Bucket,
			RefType:     "group",
			RefID:       orig.GroupKey,
		})
	}

	g, err := s.ledger.PostGroupTx(ctx, tx, spec)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("executeRefund: %w", domain.ErrAlreadyRefunded)
		}
		return nil, fmt.Errorf("executeRefund: %w", err)
	}

	revoked, err := s.revokeOwnershipTx(ctx, tx, orig.GroupKey, actor)
	if err != nil {
		return nil, fmt.Errorf("executeRefund: %w", err)
	}

	// Royalty legs carried the seller's earnings; the reversal takes the
	// same amount back out of the lifetime bucket.
	for _, e := range orig.Entries {
		if e.Kind != domain.EntryKindRoyalty {
			continue
		}
		if err := s.adjustLifetimeTx(ctx, tx, e.WalletID, orig.Currency, -e.AmountCents); err != nil {
			return nil, fmt.Errorf("executeRefund: %w", err)
		}
	}

	if markEventID != "" {
		if err := s.events.MarkProcessedTx(ctx, tx, markEventID); err != nil {
			return nil, fmt.Errorf("executeRefund: %w", err)
		}
	}

	detail := map[string]any{
		"original_group_key": orig.GroupKey,
		"refund_group_key":   g.GroupKey,
		"ownership_revoked":  revoked,
	}
	if err := s.writeAuditTx(ctx, tx, domain.AuditPurchaseRefunded, actor, "group", orig.GroupKey, detail); err != nil {
		return nil, fmt.Errorf("executeRefund: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("executeRefund: %w", domain.ErrAlreadyRefunded)
		}
		return nil, fmt.Errorf("executeRefund: commit: %w", err)
	}

	s.invalidateWallets(ctx, g)

	log.Info("group refunded",
		"original_group_key", orig.GroupKey,
		"refund_group_key", g.GroupKey,
		"ownership_revoked", revoked,
		"actor", actor,
	)
	return g, nil
}

// revokeOwnershipTx pulls back the grant tied to the refunded group, if any.
// Deposits, withdrawals and plain transfers never granted one, so a missing
// row is not an error.
func (s *Service) revokeOwnershipTx(ctx context.Context, tx *sql.Tx, groupKey, actor string) (bool, error) {
	o, err := s.ownerships.GetByGroupKey(ctx, groupKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("revokeOwnershipTx: %w", err)
	}
	if !o.Active() {
		return false, nil
	}

	now := time.Now().UTC()
	if err := s.ownerships.RevokeTx(ctx, tx, o.UserID, o.ProductID, now); err != nil {
		return false, fmt.Errorf("revokeOwnershipTx: %w", err)
	}

	detail := map[string]any{
		"user_id":    o.UserID,
		"product_id": o.ProductID,
		"group_key":  groupKey,
	}
	if err := s.writeAuditTx(ctx, tx, domain.AuditOwnershipRevoked, actor, "product", o.ProductID.String(), detail); err != nil {
		return false, fmt.Errorf("revokeOwnershipTx: %w", err)
	}
	return true, nil
}
