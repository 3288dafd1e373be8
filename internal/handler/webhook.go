package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/courseloom/monetization/internal/domain"
	"github.com/courseloom/monetization/internal/logging"
)

type eventRegistry interface {
	Register(ctx context.Context, event *domain.ExternalEvent) error
}

// WebhookHandler ingests provider notifications. It only verifies and
// stores the event; the financial effects are applied asynchronously by the
// event processor.
type WebhookHandler struct {
	events eventRegistry
	secret string
}

func NewWebhookHandler(events eventRegistry, secret string) *WebhookHandler {
	return &WebhookHandler{events: events, secret: secret}
}

type webhookPayload struct {
	EventID     string `json:"eventId"`
	Type        string `json:"type"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
}

func (p webhookPayload) validate() []FieldError {
	var errs []FieldError

	if p.EventID == "" {
		errs = append(errs, FieldError{Field: "eventId", Message: "required"})
	}

	if p.Type == "" {
		errs = append(errs, FieldError{Field: "type", Message: "required"})
	}

	if p.AmountCents <= 0 {
		errs = append(errs, FieldError{Field: "amountCents", Message: "must be greater than 0"})
	}

	if p.Currency == "" {
		errs = append(errs, FieldError{Field: "currency", Message: "required"})
	} else if !domain.Currency(p.Currency).IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be USD, EUR, or GBP"})
	}

	return errs
}

func (h *WebhookHandler) ReceiveProviderWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	sig := r.Header.Get("X-Webhook-Signature")
	if !verifyHMAC(body, sig, h.secret) {
		log.Warn("webhook signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("failed to parse webhook payload", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := payload.validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	event := &domain.ExternalEvent{
		ID:        payload.EventID,
		Type:      domain.ExternalEventType(payload.Type),
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.events.Register(r.Context(), event); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			// Retried delivery; the first copy already owns the financial
			// effect, so acknowledge and do nothing.
			log.Info("duplicate webhook received", "event_id", payload.EventID, "type", payload.Type)
			RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_received"})
			return
		}
		log.Error("failed to store external event", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	log.Info("external event stored",
		"event_id", payload.EventID,
		"type", payload.Type,
		"amount_cents", payload.AmountCents,
	)

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "received"})
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
