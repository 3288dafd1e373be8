package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/courseloom/monetization/internal/domain"
)

const eventColumns = `id, event_type, payload, processed, processed_at, created_at`

type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Register stores a processor event under its provider event id. The primary
// key rejects a second delivery; that is reported as ErrDuplicateEvent and is
// the expected outcome of a webhook retry, not a failure.
func (r *EventRepository) Register(ctx context.Context, e *domain.ExternalEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO external_events (id, event_type, payload, processed, created_at)
		VALUES ($1, $2, $3, false, $4)`,
		e.ID, e.Type, e.Payload, e.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Register: %w", domain.ErrDuplicateEvent)
		}
		return fmt.Errorf("Register: %w", err)
	}
	return nil
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*domain.ExternalEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM external_events WHERE id = $1`, id,
	)
	e, err := scanExternalEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return e, nil
}

func (r *EventRepository) GetUnprocessed(ctx context.Context, limit int) ([]domain.ExternalEvent, error) {
	// FOR UPDATE SKIP LOCKED prevents multiple pollers from claiming the same event
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM external_events
		WHERE processed = false ORDER BY created_at LIMIT $1 FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("GetUnprocessed: %w", err)
	}
	defer rows.Close()

	var events []domain.ExternalEvent
	for rows.Next() {
		e, err := scanExternalEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("GetUnprocessed: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetUnprocessed: rows: %w", err)
	}
	return events, nil
}

// MarkProcessedTx flips the processed flag inside the transaction that
// applied the event's financial effects, as its last write.
func (r *EventRepository) MarkProcessedTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE external_events SET processed = true, processed_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("MarkProcessedTx: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkProcessedTx: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("MarkProcessedTx: %w", domain.ErrNotFound)
	}
	return nil
}

// MarkProcessed is the standalone form used when an event is rejected
// without any financial effect (malformed payload, unknown type).
func (r *EventRepository) MarkProcessed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE external_events SET processed = true, processed_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("MarkProcessed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkProcessed: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("MarkProcessed: %w", domain.ErrNotFound)
	}
	return nil
}

func scanExternalEvent(s scanner) (*domain.ExternalEvent, error) {
	var e domain.ExternalEvent
	err := s.Scan(&e.ID, &e.Type, &e.Payload, &e.Processed, &e.ProcessedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
