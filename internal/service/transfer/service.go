// Package transfer composes the idempotency guard, wallet store, ledger
// core, fee policy and ownership registry into atomic business operations.
package transfer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/domain"
	"github.com/courseloom/monetization/internal/ledger"
)

// Platform wallets are fixed rows seeded by migration. Settlement mirrors
// money moving to and from the external processor; revenue collects the
// platform's commission.
var (
	SettlementWalletID      = uuid.MustParse("00000000-0000-0000-0000-000000000b01")
	PlatformRevenueWalletID = uuid.MustParse("00000000-0000-0000-0000-000000000b02")
)

type ledgerCore interface {
	PostGroupTx(ctx context.Context, tx *sql.Tx, spec ledger.GroupSpec) (*domain.Group, error)
}

type groupReader interface {
	GetGroupByKey(ctx context.Context, groupKey string) (*domain.Group, error)
	GetGroupByIdempotencyKey(ctx context.Context, key string) (*domain.Group, error)
}

type walletRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByOwnerAndKind(ctx context.Context, ownerID uuid.UUID, kind domain.WalletKind) (*domain.Wallet, error)
	GetBalance(ctx context.Context, walletID uuid.UUID, currency domain.Currency) (*domain.Balance, error)
	LockBalanceTx(ctx context.Context, tx *sql.Tx, walletID uuid.UUID, currency domain.Currency) (*domain.Balance, domain.WalletKind, error)
	AdjustTx(ctx context.Context, tx *sql.Tx, locked *domain.Balance, kind domain.WalletKind, bucket domain.BalanceBucket, delta int64) error
}

type ownershipRepo interface {
	GrantTx(ctx context.Context, tx *sql.Tx, o *domain.Ownership) error
	RevokeTx(ctx context.Context, tx *sql.Tx, userID, productID uuid.UUID, revokedAt time.Time) error
	GetByGroupKey(ctx context.Context, groupKey string) (*domain.Ownership, error)
}

type auditRepo interface {
	CreateTx(ctx context.Context, tx *sql.Tx, rec *domain.AuditRecord) error
}

type eventRepo interface {
	MarkProcessedTx(ctx context.Context, tx *sql.Tx, id string) error
}

// ProcessorRequest asks the external payment processor to confirm a deposit
// or payout before the ledger is touched.
type ProcessorRequest struct {
	Reference   string
	WalletID    uuid.UUID
	AmountCents int64
	Currency    domain.Currency
}

type processorGateway interface {
	ConfirmDeposit(ctx context.Context, req ProcessorRequest) error
	ConfirmPayout(ctx context.Context, req ProcessorRequest) error
}

type trustProvider interface {
	Score(ctx context.Context, sellerID uuid.UUID) (int, error)
}

type Product struct {
	ID         uuid.UUID
	PriceCents int64
	Currency   domain.Currency
}

type productCatalog interface {
	GetProduct(ctx context.Context, productID uuid.UUID) (*Product, error)
}

type balanceCache interface {
	Invalidate(ctx context.Context, walletIDs ...uuid.UUID)
}

type Service struct {
	ledger     ledgerCore
	groups     groupReader
	wallets    walletRepo
	ownerships ownershipRepo
	audits     auditRepo
	events     eventRepo
	processor  processorGateway
	trust      trustProvider
	catalog    productCatalog
	cache      balanceCache
	db         *sql.DB
}

func NewService(
	ledgerCore ledgerCore,
	groups groupReader,
	wallets walletRepo,
	ownerships ownershipRepo,
	audits auditRepo,
	events eventRepo,
	processor processorGateway,
	trust trustProvider,
	catalog productCatalog,
	cache balanceCache,
	db *sql.DB,
) *Service {
	return &Service{
		ledger:     ledgerCore,
		groups:     groups,
		wallets:    wallets,
		ownerships: ownerships,
		audits:     audits,
		events:     events,
		processor:  processor,
		trust:      trust,
		catalog:    catalog,
		cache:      cache,
		db:         db,
	}
}

func (s *Service) GetGroup(ctx context.Context, groupKey string) (*domain.Group, error) {
	g, err := s.groups.GetGroupByKey(ctx, groupKey)
	if err != nil {
		return nil, fmt.Errorf("GetGroup: %w", err)
	}
	return g, nil
}

func (s *Service) writeAuditTx(ctx context.Context, tx *sql.Tx, op domain.AuditOperation, actor, refType, refID string, detail any) error {
	var payload json.RawMessage
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("writeAuditTx: marshal: %w", err)
		}
		payload = raw
	}

	rec := &domain.AuditRecord{
		ID:        uuid.New(),
		Operation: op,
		Actor:     actor,
		RefType:   refType,
		RefID:     refID,
		Detail:    payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.audits.CreateTx(ctx, tx, rec); err != nil {
		return fmt.Errorf("writeAuditTx: %w", err)
	}
	return nil
}

// adjustLifetimeTx maintains the seller's lifetime-earnings aggregate so
// reads never rescan history. The balance row is already locked by the
// group posting in the same transaction.
func (s *Service) adjustLifetimeTx(ctx context.Context, tx *sql.Tx, walletID uuid.UUID, currency domain.Currency, delta int64) error {
	bal, kind, err := s.wallets.LockBalanceTx(ctx, tx, walletID, currency)
	if err != nil {
		return fmt.Errorf("adjustLifetimeTx: %w", err)
	}
	if err := s.wallets.AdjustTx(ctx, tx, bal, kind, domain.BucketLifetime, delta); err != nil {
		return fmt.Errorf("adjustLifetimeTx: %w", err)
	}
	return nil
}

func (s *Service) invalidateWallets(ctx context.Context, g *domain.Group) {
	if s.cache == nil || g == nil {
		return
	}
	seen := make(map[uuid.UUID]struct{}, len(g.Entries))
	ids := make([]uuid.UUID, 0, len(g.Entries))
	for _, e := range g.Entries {
		if _, ok := seen[e.WalletID]; ok {
			continue
		}
		seen[e.WalletID] = struct{}{}
		ids = append(ids, e.WalletID)
	}
	s.cache.Invalidate(ctx, ids...)
}

// ownershipMetadata ties a grant to the group that paid for it, which is how
// refunds later find the row to revoke.
func ownershipMetadata(groupKey string, amountCents int64) (json.RawMessage, error) {
	raw, err := json.Marshal(map[string]any{
		"group_key":    groupKey,
		"amount_cents": amountCents,
	})
	if err != nil {
		return nil, fmt.Errorf("ownershipMetadata: %w", err)
	}
	return raw, nil
}

func (s *Service) replayedGroup(ctx context.Context, idempotencyKey string) (*domain.Group, error) {
	existing, err := s.groups.GetGroupByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	return existing, nil
}
