package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ehsan-hn/SmsHub/internal/billing/domain"
)

// BillingService is the billing surface the HTTP layer depends on.
type BillingService interface {
	Charge(ctx context.Context, userID, amount int64) (*domain.Transaction, int64, error)
	ReadBalance(ctx context.Context, userID int64) (int64, error)
	ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]domain.Transaction, error)
}

type BillingHandler struct {
	svc    BillingService
	logger *slog.Logger
}

func NewBillingHandler(svc BillingService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{svc: svc, logger: logger.With("handler", "billing")}
}

func (h *BillingHandler) Charge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	_, balance, err := h.svc.Charge(r.Context(), req.UserID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidAmount):
			respondError(w, http.StatusBadRequest, "amount must be positive")
		case errors.Is(err, domain.ErrUserNotFound):
			respondError(w, http.StatusNotFound, "user not found")
		default:
			h.logger.ErrorContext(r.Context(), "charge failed", "user_id", req.UserID, "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	respondJSON(w, http.StatusOK, chargeResponse{UserID: req.UserID, TotalBalance: balance})
}

func (h *BillingHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	balance, err := h.svc.ReadBalance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "balance read failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, balanceResponse{UserID: userID, Balance: balance})
}

func (h *BillingHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	txns, err := h.svc.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "transaction listing failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, transactionResponse{
			ID:        t.ID,
			Type:      string(t.Type),
			Amount:    t.Amount,
			SMSID:     t.SMSID,
			CreatedAt: t.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}
