package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/domain"
)

type ownershipService interface {
	HasAccess(ctx context.Context, userID, productID uuid.UUID) (bool, error)
	GetOwnership(ctx context.Context, userID, productID uuid.UUID) (*domain.Ownership, error)
}

type OwnershipHandler struct {
	ownerships ownershipService
}

func NewOwnershipHandler(ownerships ownershipService) *OwnershipHandler {
	return &OwnershipHandler{ownerships: ownerships}
}

type ownershipDTO struct {
	UserID    uuid.UUID `json:"user_id"`
	ProductID uuid.UUID `json:"product_id"`
	Source    string    `json:"source"`
	GrantedAt string    `json:"granted_at"`
	RevokedAt *string   `json:"revoked_at"`
	Active    bool      `json:"active"`
}

func toOwnershipDTO(o *domain.Ownership) ownershipDTO {
	dto := ownershipDTO{
		UserID:    o.UserID,
		ProductID: o.ProductID,
		Source:    string(o.Source),
		GrantedAt: o.GrantedAt.UTC().Format(time.RFC3339),
		Active:    o.Active(),
	}
	if o.RevokedAt != nil {
		revoked := o.RevokedAt.UTC().Format(time.RFC3339)
		dto.RevokedAt = &revoked
	}
	return dto
}

func pathUUIDs(r *http.Request) (userID, productID uuid.UUID, appErr *AppError) {
	userID, err := uuid.Parse(r.PathValue("userId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrResourceNotFound
	}
	productID, err = uuid.Parse(r.PathValue("productId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrResourceNotFound
	}
	return userID, productID, nil
}

// CheckAccess is the hot path for content gating, so it returns only the
// boolean.
func (h *OwnershipHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	userID, productID, appErr := pathUUIDs(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	ok, err := h.ownerships.HasAccess(r.Context(), userID, productID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"product_id": productID,
		"has_access": ok,
	})
}

func (h *OwnershipHandler) GetOwnership(w http.ResponseWriter, r *http.Request) {
	userID, productID, appErr := pathUUIDs(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	o, err := h.ownerships.GetOwnership(r.Context(), userID, productID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toOwnershipDTO(o))
}
