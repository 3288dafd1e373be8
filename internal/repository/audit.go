package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/courseloom/monetization/internal/domain"
)

const auditColumns = `id, operation, actor, ref_type, ref_id, detail, created_at`

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) CreateTx(ctx context.Context, tx *sql.Tx, rec *domain.AuditRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO audit_records (id, operation, actor, ref_type, ref_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.Operation, rec.Actor, rec.RefType, rec.RefID, rec.Detail, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("CreateTx: %w", err)
	}
	return nil
}

func (r *AuditRepository) GetByRef(ctx context.Context, refType, refID string) ([]domain.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_records
		WHERE ref_type = $1 AND ref_id = $2 ORDER BY created_at`,
		refType, refID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByRef: %w", err)
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		err := rows.Scan(&rec.ID, &rec.Operation, &rec.Actor, &rec.RefType, &rec.RefID, &rec.Detail, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("GetByRef: scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByRef: rows: %w", err)
	}
	return records, nil
}
