package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/domain"
	"github.com/courseloom/monetization/internal/logging"
	"github.com/courseloom/monetization/internal/service/transfer"
)

type unprocessedStore interface {
	GetByID(ctx context.Context, id string) (*domain.ExternalEvent, error)
	GetUnprocessed(ctx context.Context, limit int) ([]domain.ExternalEvent, error)
	MarkProcessed(ctx context.Context, id string) error
}

type settler interface {
	SettleExternalCheckout(ctx context.Context, ev transfer.CheckoutEvent) (*domain.Group, error)
	RefundExternalCheckout(ctx context.Context, eventID, originalEventID string) (*domain.Group, error)
}

type auditWriter interface {
	CreateTx(ctx context.Context, tx *sql.Tx, rec *domain.AuditRecord) error
}

// EventProcessor drains pending external events on an interval and applies
// their financial effects through the transfer service. Rows are claimed
// with SKIP LOCKED, so multiple instances can poll concurrently.
type EventProcessor struct {
	events    unprocessedStore
	transfers settler
	audits    auditWriter
	db        *sql.DB
	interval  time.Duration
	batchSize int
}

func NewEventProcessor(events unprocessedStore, transfers settler, audits auditWriter, db *sql.DB, interval time.Duration, batchSize int) *EventProcessor {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &EventProcessor{
		events:    events,
		transfers: transfers,
		audits:    audits,
		db:        db,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until the context is cancelled.
func (p *EventProcessor) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("event processor started", "interval", p.interval, "batch_size", p.batchSize)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("event processor stopped")
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch settles one batch of pending events. Exported so tests and
// operational tooling can drive the pipeline without the ticker.
func (p *EventProcessor) ProcessBatch(ctx context.Context) {
	log := logging.FromContext(ctx)

	events, err := p.events.GetUnprocessed(ctx, p.batchSize)
	if err != nil {
		log.Error("failed to fetch unprocessed events", "error", err)
		return
	}

	for _, ev := range events {
		if err := p.processOne(ctx, ev); err != nil {
			log.Error("event processing failed", "event_id", ev.ID, "type", ev.Type, "error", err)
		}
	}
}

// eventPayload is the provider's webhook body, stored verbatim at ingestion
// and decoded here.
type eventPayload struct {
	EventID     string `json:"eventId"`
	Type        string `json:"type"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	Metadata    struct {
		ProductID       uuid.UUID `json:"productId"`
		BuyerID         uuid.UUID `json:"buyerId"`
		SellerID        uuid.UUID `json:"sellerId"`
		OriginalEventID string    `json:"originalEventId"`
	} `json:"metadata"`
}

func (p *EventProcessor) processOne(ctx context.Context, ev domain.ExternalEvent) error {
	log := logging.FromContext(ctx)

	var payload eventPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return p.reject(ctx, ev, fmt.Sprintf("malformed payload: %v", err))
	}

	switch ev.Type {
	case domain.ExternalEventCheckoutCompleted:
		_, err := p.transfers.SettleExternalCheckout(ctx, transfer.CheckoutEvent{
			EventID:     ev.ID,
			AmountCents: payload.AmountCents,
			Currency:    domain.Currency(payload.Currency),
			ProductID:   payload.Metadata.ProductID,
			BuyerID:     payload.Metadata.BuyerID,
			SellerID:    payload.Metadata.SellerID,
		})
		return p.finish(ctx, ev, err)

	case domain.ExternalEventCheckoutRefunded:
		if payload.Metadata.OriginalEventID == "" {
			return p.reject(ctx, ev, "refund event missing originalEventId")
		}
		_, err := p.transfers.RefundExternalCheckout(ctx, ev.ID, payload.Metadata.OriginalEventID)
		if err != nil && errors.Is(err, domain.ErrNotFound) && p.settlementStillPending(ctx, payload.Metadata.OriginalEventID) {
			// Out-of-order delivery: the original checkout event is queued
			// but not yet settled. Leave the refund for a later tick.
			log.Info("refund waiting for original settlement",
				"event_id", ev.ID, "original_event_id", payload.Metadata.OriginalEventID)
			return nil
		}
		return p.finish(ctx, ev, err)

	default:
		log.Warn("unknown event type", "event_id", ev.ID, "type", ev.Type)
		return p.reject(ctx, ev, fmt.Sprintf("unknown event type %q", ev.Type))
	}
}

// settlementStillPending reports whether the referenced checkout event is
// known but has not been applied yet, in which case a refund for it must not
// be rejected as unsettleable.
func (p *EventProcessor) settlementStillPending(ctx context.Context, originalEventID string) bool {
	orig, err := p.events.GetByID(ctx, originalEventID)
	if err != nil {
		return false
	}
	return !orig.Processed
}

// finish decides what happens to the event row after a settlement attempt.
// Permanent business failures are acknowledged so the provider stops
// retrying; transient failures leave the row pending for the next tick.
func (p *EventProcessor) finish(ctx context.Context, ev domain.ExternalEvent, err error) error {
	if err == nil {
		return nil // settlement marked the row processed in its own tx
	}

	switch {
	case errors.Is(err, domain.ErrDuplicateGroup), errors.Is(err, domain.ErrAlreadyRefunded):
		// Financial effect already applied by an earlier delivery.
		if markErr := p.events.MarkProcessed(ctx, ev.ID); markErr != nil {
			return fmt.Errorf("finish: %w", markErr)
		}
		return nil
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrWalletNotFound),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrCurrencyMismatch),
		errors.Is(err, domain.ErrInvalidRequest):
		return p.reject(ctx, ev, err.Error())
	default:
		return err
	}
}

// reject acknowledges an event that can never be settled, recording why.
func (p *EventProcessor) reject(ctx context.Context, ev domain.ExternalEvent, reason string) error {
	log := logging.FromContext(ctx)

	if err := p.events.MarkProcessed(ctx, ev.ID); err != nil {
		return fmt.Errorf("reject: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reject: begin tx: %w", err)
	}
	defer tx.Rollback()

	detail, _ := json.Marshal(map[string]string{"reason": reason, "type": string(ev.Type)})
	rec := &domain.AuditRecord{
		ID:        uuid.New(),
		Operation: domain.AuditEventRejected,
		Actor:     "event-processor",
		RefType:   "event",
		RefID:     ev.ID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.audits.CreateTx(ctx, tx, rec); err != nil {
		return fmt.Errorf("reject: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reject: commit: %w", err)
	}

	log.Warn("event rejected", "event_id", ev.ID, "reason", reason)
	return nil
}
