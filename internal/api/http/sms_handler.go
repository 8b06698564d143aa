package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	billingdomain "github.com/ehsan-hn/SmsHub/internal/billing/domain"
	"github.com/ehsan-hn/SmsHub/internal/sms/domain"
	"github.com/ehsan-hn/SmsHub/internal/sms/repository"
)

// SMSService is the message surface the HTTP layer depends on.
type SMSService interface {
	CreateAndDeduct(ctx context.Context, userID int64, receiver, content string, isExpress bool) (*domain.SMS, error)
	Enqueue(ctx context.Context, sms *domain.SMS, forced bool) (string, error)
	GetSMS(ctx context.Context, id int64) (*domain.SMS, error)
	Report(ctx context.Context, userID int64, filter repository.ReportFilter) ([]domain.SMS, error)
}

type SMSHandler struct {
	svc    SMSService
	logger *slog.Logger
}

func NewSMSHandler(svc SMSService, logger *slog.Logger) *SMSHandler {
	return &SMSHandler{svc: svc, logger: logger.With("handler", "sms")}
}

func (h *SMSHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendSMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	sms, err := h.svc.CreateAndDeduct(r.Context(), req.UserID, req.Receiver, req.Content, req.IsExpress)
	if err != nil {
		switch {
		case errors.Is(err, billingdomain.ErrInsufficientFunds):
			respondError(w, http.StatusBadRequest, "insufficient balance")
		case errors.Is(err, billingdomain.ErrUserNotFound):
			respondError(w, http.StatusNotFound, "user not found")
		default:
			h.logger.ErrorContext(r.Context(), "sms creation failed", "user_id", req.UserID, "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	taskID, err := h.svc.Enqueue(r.Context(), sms, false)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "sms enqueue failed", "sms_id", sms.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "message accepted but could not be queued")
		return
	}

	respondJSON(w, http.StatusAccepted, sendSMSResponse{SMSID: sms.ID, TaskID: taskID})
}

func (h *SMSHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "smsID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid sms id")
		return
	}

	sms, err := h.svc.GetSMS(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrSMSNotFound) {
			respondError(w, http.StatusNotFound, "sms not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "sms lookup failed", "sms_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, toSMSResponse(sms))
}

func (h *SMSHandler) Report(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID, err := strconv.ParseInt(q.Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	filter := repository.ReportFilter{Receiver: q.Get("receiver"), Limit: 50}
	if s := q.Get("status"); s != "" {
		status := domain.Status(s)
		filter.Status = &status
	}
	if s := q.Get("is_express"); s != "" {
		express, perr := strconv.ParseBool(s)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "is_express must be a boolean")
			return
		}
		filter.IsExpress = &express
	}
	if s := q.Get("start_date"); s != "" {
		start, perr := time.Parse(time.RFC3339, s)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "start_date must be RFC 3339")
			return
		}
		filter.StartDate = &start
	}
	if s := q.Get("end_date"); s != "" {
		end, perr := time.Parse(time.RFC3339, s)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "end_date must be RFC 3339")
			return
		}
		filter.EndDate = &end
	}
	if s := q.Get("limit"); s != "" {
		limit, perr := strconv.Atoi(s)
		if perr != nil || limit <= 0 || limit > 200 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		filter.Limit = limit
	}
	if s := q.Get("offset"); s != "" {
		offset, perr := strconv.Atoi(s)
		if perr != nil || offset < 0 {
			respondError(w, http.StatusBadRequest, "offset must not be negative")
			return
		}
		filter.Offset = offset
	}

	messages, err := h.svc.Report(r.Context(), userID, filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "sms report failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]smsResponse, 0, len(messages))
	for i := range messages {
		out = append(out, toSMSResponse(&messages[i]))
	}
	respondJSON(w, http.StatusOK, out)
}
