package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter assembles the public API.
func NewRouter(billing *BillingHandler, sms *SMSHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/billing/v1", func(r chi.Router) {
		r.Post("/charge", billing.Charge)
		r.Get("/balance/{userID}", billing.Balance)
		r.Get("/transactions/{userID}", billing.Transactions)
	})

	r.Route("/api/sms/v1", func(r chi.Router) {
		r.Post("/send", sms.Send)
		r.Get("/report", sms.Report)
		r.Get("/{smsID}", sms.Get)
	})

	return r
}
