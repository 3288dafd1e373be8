package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/auth"
	"github.com/courseloom/monetization/internal/domain"
	"github.com/courseloom/monetization/internal/service/transfer"
)

type transferService interface {
	Deposit(ctx context.Context, req transfer.FundingRequest) (*domain.Group, error)
	Withdraw(ctx context.Context, req transfer.FundingRequest) (*domain.Group, error)
	TransferBetweenWallets(ctx context.Context, req transfer.TransferRequest) (*domain.Group, error)
	PurchaseWithWallet(ctx context.Context, req transfer.PurchaseRequest) (*domain.Group, error)
	Refund(ctx context.Context, originalGroupKey, actor string) (*domain.Group, error)
	HoldEscrow(ctx context.Context, req transfer.EscrowRequest) (*domain.Group, error)
	ReleaseEscrow(ctx context.Context, req transfer.EscrowRequest) (*domain.Group, error)
	GetGroup(ctx context.Context, groupKey string) (*domain.Group, error)
}

type TransferHandler struct {
	transfers transferService
}

func NewTransferHandler(transfers transferService) *TransferHandler {
	return &TransferHandler{transfers: transfers}
}

type groupDTO struct {
	GroupKey       string     `json:"group_key"`
	IdempotencyKey string     `json:"idempotency_key"`
	Currency       string     `json:"currency"`
	CreatedAt      string     `json:"created_at"`
	Entries        []entryDTO `json:"entries"`
}

func toGroupDTO(g *domain.Group) groupDTO {
	return groupDTO{
		GroupKey:       g.GroupKey,
		IdempotencyKey: g.IdempotencyKey,
		Currency:       string(g.Currency),
		CreatedAt:      g.CreatedAt.UTC().Format(time.RFC3339),
		Entries:        toEntryDTOs(g.Entries),
	}
}

type fundingRequest struct {
	WalletID    string `json:"wallet_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

func (r fundingRequest) Validate() []FieldError {
	var errs []FieldError

	if r.WalletID == "" {
		errs = append(errs, FieldError{Field: "wallet_id", Message: "required"})
	} else if _, err := uuid.Parse(r.WalletID); err != nil {
		errs = append(errs, FieldError{Field: "wallet_id", Message: "must be a valid UUID"})
	}

	if r.AmountCents <= 0 {
		errs = append(errs, FieldError{Field: "amount_cents", Message: "must be greater than 0"})
	}

	if r.Currency == "" {
		errs = append(errs, FieldError{Field: "currency", Message: "required"})
	} else if !domain.Currency(r.Currency).IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be USD, EUR, or GBP"})
	}

	return errs
}

func idempotencyKey(r *http.Request) (string, *AppError) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		return "", ErrMissingIdempotencyKey
	}
	return key, nil
}

func (h *TransferHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.handleFunding(w, r, h.transfers.Deposit, http.StatusCreated)
}

func (h *TransferHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.handleFunding(w, r, h.transfers.Withdraw, http.StatusCreated)
}

func (h *TransferHandler) handleFunding(w http.ResponseWriter, r *http.Request, op func(context.Context, transfer.FundingRequest) (*domain.Group, error), status int) {
	key, appErr := idempotencyKey(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req fundingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	walletID, _ := uuid.Parse(req.WalletID)
	g, err := op(r.Context(), transfer.FundingRequest{
		WalletID:       walletID,
		AmountCents:    req.AmountCents,
		Currency:       domain.Currency(req.Currency),
		IdempotencyKey: key,
	})
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, status, toGroupDTO(g))
}

type transferRequest struct {
	FromWalletID string `json:"from_wallet_id"`
	ToWalletID   string `json:"to_wallet_id"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
}

func (r transferRequest) Validate() []FieldError {
	var errs []FieldError

	if r.FromWalletID == "" {
		errs = append(errs, FieldError{Field: "from_wallet_id", Message: "required"})
	} else if _, err := uuid.Parse(r.FromWalletID); err != nil {
		errs = append(errs, FieldError{Field: "from_wallet_id", Message: "must be a valid UUID"})
	}

	if r.ToWalletID == "" {
		errs = append(errs, FieldError{Field: "to_wallet_id", Message: "required"})
	} else if _, err := uuid.Parse(r.ToWalletID); err != nil {
		errs = append(errs, FieldError{Field: "to_wallet_id", Message: "must be a valid UUID"})
	}

	if r.AmountCents <= 0 {
		errs = append(errs, FieldError{Field: "amount_cents", Message: "must be greater than 0"})
	}

	if r.Currency == "" {
		errs = append(errs, FieldError{Field: "currency", Message: "required"})
	} else if !domain.Currency(r.Currency).IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be USD, EUR, or GBP"})
	}

	return errs
}

func (h *TransferHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	key, appErr := idempotencyKey(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	fromID, _ := uuid.Parse(req.FromWalletID)
	toID, _ := uuid.Parse(req.ToWalletID)
	g, err := h.transfers.TransferBetweenWallets(r.Context(), transfer.TransferRequest{
		FromWalletID:   fromID,
		ToWalletID:     toID,
		AmountCents:    req.AmountCents,
		Currency:       domain.Currency(req.Currency),
		IdempotencyKey: key,
	})
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toGroupDTO(g))
}

type purchaseRequest struct {
	BuyerWalletID  string `json:"buyer_wallet_id"`
	SellerWalletID string `json:"seller_wallet_id"`
	ProductID      string `json:"product_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
}

func (r purchaseRequest) Validate() []FieldError {
	var errs []FieldError

	for _, f := range []struct{ name, value string }{
		{"buyer_wallet_id", r.BuyerWalletID},
		{"seller_wallet_id", r.SellerWalletID},
		{"product_id", r.ProductID},
	} {
		if f.value == "" {
			errs = append(errs, FieldError{Field: f.name, Message: "required"})
		} else if _, err := uuid.Parse(f.value); err != nil {
			errs = append(errs, FieldError{Field: f.name, Message: "must be a valid UUID"})
		}
	}

	if r.AmountCents <= 0 {
		errs = append(errs, FieldError{Field: "amount_cents", Message: "must be greater than 0"})
	}

	if r.Currency == "" {
		errs = append(errs, FieldError{Field: "currency", Message: "required"})
	} else if !domain.Currency(r.Currency).IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be USD, EUR, or GBP"})
	}

	return errs
}

func (h *TransferHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	key, appErr := idempotencyKey(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	buyerID, _ := uuid.Parse(req.BuyerWalletID)
	sellerID, _ := uuid.Parse(req.SellerWalletID)
	productID, _ := uuid.Parse(req.ProductID)
	g, err := h.transfers.PurchaseWithWallet(r.Context(), transfer.PurchaseRequest{
		BuyerWalletID:  buyerID,
		SellerWalletID: sellerID,
		AmountCents:    req.AmountCents,
		Currency:       domain.Currency(req.Currency),
		ProductID:      productID,
		IdempotencyKey: key,
	})
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toGroupDTO(g))
}

func (h *TransferHandler) Refund(w http.ResponseWriter, r *http.Request) {
	groupKey := r.PathValue("groupKey")
	if groupKey == "" {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	actor := "service"
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		actor = "service:" + claims.Service
		if claims.ActorID != uuid.Nil {
			actor = "user:" + claims.ActorID.String()
		}
	}

	g, err := h.transfers.Refund(r.Context(), groupKey, actor)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toGroupDTO(g))
}

type escrowRequest struct {
	WalletID    string `json:"wallet_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	RefType     string `json:"ref_type"`
	RefID       string `json:"ref_id"`
}

func (r escrowRequest) Validate() []FieldError {
	var errs []FieldError

	if r.WalletID == "" {
		errs = append(errs, FieldError{Field: "wallet_id", Message: "required"})
	} else if _, err := uuid.Parse(r.WalletID); err != nil {
		errs = append(errs, FieldError{Field: "wallet_id", Message: "must be a valid UUID"})
	}

	if r.AmountCents <= 0 {
		errs = append(errs, FieldError{Field: "amount_cents", Message: "must be greater than 0"})
	}

	if r.Currency == "" {
		errs = append(errs, FieldError{Field: "currency", Message: "required"})
	} else if !domain.Currency(r.Currency).IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be USD, EUR, or GBP"})
	}

	return errs
}

func (h *TransferHandler) HoldEscrow(w http.ResponseWriter, r *http.Request) {
	h.handleEscrow(w, r, h.transfers.HoldEscrow)
}

func (h *TransferHandler) ReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	h.handleEscrow(w, r, h.transfers.ReleaseEscrow)
}

func (h *TransferHandler) handleEscrow(w http.ResponseWriter, r *http.Request, op func(context.Context, transfer.EscrowRequest) (*domain.Group, error)) {
	key, appErr := idempotencyKey(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req escrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	walletID, _ := uuid.Parse(req.WalletID)
	g, err := op(r.Context(), transfer.EscrowRequest{
		WalletID:       walletID,
		AmountCents:    req.AmountCents,
		Currency:       domain.Currency(req.Currency),
		RefType:        req.RefType,
		RefID:          req.RefID,
		IdempotencyKey: key,
	})
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toGroupDTO(g))
}

func (h *TransferHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupKey := r.PathValue("groupKey")
	if groupKey == "" {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	g, err := h.transfers.GetGroup(r.Context(), groupKey)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toGroupDTO(g))
}
