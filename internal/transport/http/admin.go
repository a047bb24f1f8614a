package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cimillas/paygate/internal/app"
	"github.com/cimillas/paygate/internal/domain"
	"github.com/go-chi/chi/v5"
)

// AdminOrderService is the minimal interface needed for admin order endpoints.
type AdminOrderService interface {
	Cancel(ctx context.Context, merchantOrderID string) (domain.Order, error)
	ForceReconcile(ctx context.Context, merchantOrderID string) (app.ReconcileResult, error)
	Events(ctx context.Context, merchantOrderID string) ([]domain.OrderEvent, error)
}

// HandleAdminCancel serves POST /admin/orders/{orderID}/cancel. Cancelling an
// order that is already cancelled succeeds; any other terminal state is 409.
func HandleAdminCancel(svc AdminOrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := svc.Cancel(r.Context(), chi.URLParam(r, "orderID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newOrderResponse(order))
	}
}

// HandleAdminReconcile serves POST /admin/orders/{orderID}/reconcile.
func HandleAdminReconcile(svc AdminOrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.ForceReconcile(r.Context(), chi.URLParam(r, "orderID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := reconcileResponse{
			Outcome:  string(res.Outcome),
			Previous: string(res.Previous),
			Current:  string(res.Current),
			Attempts: res.Attempts,
		}
		if res.Order != nil {
			o := newOrderResponse(*res.Order)
			resp.Order = &o
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleAdminEvents serves GET /admin/orders/{orderID}/events.
func HandleAdminEvents(svc AdminOrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := svc.Events(r.Context(), chi.URLParam(r, "orderID"))
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) || errors.Is(err, domain.ErrInvalidOrderID) {
				writeDomainError(w, err)
				return
			}
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			return
		}

		resp := make([]eventResponse, 0, len(events))
		for _, e := range events {
			resp = append(resp, eventResponse{
				ID:        e.ID,
				From:      string(e.From),
				To:        string(e.To),
				Source:    e.Source,
				CreatedAt: e.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type reconcileResponse struct {
	Outcome  string         `json:"outcome"`
	Previous string         `json:"previous_status,omitempty"`
	Current  string         `json:"status,omitempty"`
	Attempts int            `json:"attempts"`
	Order    *orderResponse `json:"order,omitempty"`
}

type eventResponse struct {
	ID        string    `json:"id"`
	From      string    `json:"from_status"`
	To        string    `json:"to_status"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}
