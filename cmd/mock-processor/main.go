package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/logging"
)

// Stand-in for the payment processor, trust-score provider and product
// catalog during local development. Deposits and payouts always confirm,
// trust scores are deterministic per seller, and any syntactically valid
// product id exists.
func main() {
	logging.Init("mock-processor", "info", os.Getenv("APP_ENV"))

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /confirmations/deposit", handleConfirmation)
	mux.HandleFunc("POST /confirmations/payout", handleConfirmation)

	mux.HandleFunc("GET /trust-scores/{id}", func(w http.ResponseWriter, r *http.Request) {
		sellerID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			respond(w, http.StatusNotFound, map[string]string{"error": "unknown seller"})
			return
		}

		// Deterministic per seller so repeated calls agree.
		seed := int64(sellerID[0])<<8 | int64(sellerID[1])
		score := rand.New(rand.NewSource(seed)).Intn(1001)
		respond(w, http.StatusOK, map[string]int{"score": score})
	})

	mux.HandleFunc("GET /products/{id}", func(w http.ResponseWriter, r *http.Request) {
		productID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			respond(w, http.StatusNotFound, map[string]string{"error": "unknown product"})
			return
		}

		respond(w, http.StatusOK, map[string]any{
			"id":          productID,
			"price_cents": 10000,
			"currency":    "USD",
		})
	})

	slog.Info("mock processor started", "addr", ":8081")
	if err := http.ListenAndServe(":8081", mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type confirmationRequest struct {
	Reference   string `json:"reference"`
	WalletID    string `json:"wallet_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

func handleConfirmation(w http.ResponseWriter, r *http.Request) {
	var req confirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.Reference == "" || req.AmountCents <= 0 {
		respond(w, http.StatusBadRequest, map[string]string{"error": "reference and positive amount required"})
		return
	}

	slog.Info("confirmation issued", "reference", req.Reference, "amount_cents", req.AmountCents)
	respond(w, http.StatusOK, map[string]any{
		"confirmed": true,
		"reference": req.Reference,
	})
}

func respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
