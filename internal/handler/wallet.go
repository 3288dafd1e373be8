package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/domain"
)

type walletService interface {
	CreateWallet(ctx context.Context, ownerID uuid.UUID, kind domain.WalletKind) (*domain.Wallet, error)
	GetWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetBalances(ctx context.Context, walletID uuid.UUID) ([]domain.Balance, error)
	GetHistory(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.Entry, int, error)
}

type WalletHandler struct {
	wallets walletService
}

func NewWalletHandler(wallets walletService) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

type createWalletRequest struct {
	OwnerID string `json:"owner_id"`
	Kind    string `json:"kind"`
}

func (r createWalletRequest) Validate() []FieldError {
	var errs []FieldError

	if r.OwnerID == "" {
		errs = append(errs, FieldError{Field: "owner_id", Message: "required"})
	} else if _, err := uuid.Parse(r.OwnerID); err != nil {
		errs = append(errs, FieldError{Field: "owner_id", Message: "must be a valid UUID"})
	}

	if r.Kind == "" {
		errs = append(errs, FieldError{Field: "kind", Message: "required"})
	} else if k := domain.WalletKind(r.Kind); k != domain.WalletKindStudent && k != domain.WalletKindInstructor {
		errs = append(errs, FieldError{Field: "kind", Message: "must be student or instructor"})
	}

	return errs
}

type walletDTO struct {
	ID        uuid.UUID  `json:"id"`
	OwnerID   *uuid.UUID `json:"owner_id"`
	Kind      string     `json:"kind"`
	CreatedAt string     `json:"created_at"`
}

func toWalletDTO(w *domain.Wallet) walletDTO {
	return walletDTO{
		ID:        w.ID,
		OwnerID:   w.OwnerID,
		Kind:      string(w.Kind),
		CreatedAt: w.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type balanceDTO struct {
	Currency  string `json:"currency"`
	Available int64  `json:"available_cents"`
	Pending   int64  `json:"pending_cents"`
	Lifetime  int64  `json:"lifetime_cents"`
}

func toBalanceDTOs(balances []domain.Balance) []balanceDTO {
	out := make([]balanceDTO, 0, len(balances))
	for _, b := range balances {
		out = append(out, balanceDTO{
			Currency:  string(b.Currency),
			Available: b.Available,
			Pending:   b.Pending,
			Lifetime:  b.Lifetime,
		})
	}
	return out
}

type entryDTO struct {
	ID          uuid.UUID `json:"id"`
	GroupID     uuid.UUID `json:"group_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Kind        string    `json:"kind"`
	Bucket      string    `json:"bucket"`
	RefType     string    `json:"ref_type,omitempty"`
	RefID       string    `json:"ref_id,omitempty"`
	CreatedAt   string    `json:"created_at"`
}

func toEntryDTOs(entries []domain.Entry) []entryDTO {
	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryDTO{
			ID:          e.ID,
			GroupID:     e.GroupID,
			AmountCents: e.AmountCents,
			Currency:    string(e.Currency),
			Kind:        string(e.Kind),
			Bucket:      string(e.Bucket),
			RefType:     e.RefType,
			RefID:       e.RefID,
			CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req createWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	ownerID, _ := uuid.Parse(req.OwnerID)
	wallet, err := h.wallets.CreateWallet(r.Context(), ownerID, domain.WalletKind(req.Kind))
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toWalletDTO(wallet))
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	walletID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	wallet, err := h.wallets.GetWallet(r.Context(), walletID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toWalletDTO(wallet))
}

func (h *WalletHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	walletID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	balances, err := h.wallets.GetBalances(r.Context(), walletID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"wallet_id": walletID,
		"balances":  toBalanceDTOs(balances),
	})
}

func (h *WalletHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	walletID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	entries, total, err := h.wallets.GetHistory(r.Context(), walletID, limit, offset)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"wallet_id": walletID,
		"entries":   toEntryDTOs(entries),
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
