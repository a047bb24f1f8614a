package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cimillas/paygate/internal/app"
	"github.com/cimillas/paygate/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// OrderStatusReader is the minimal interface needed for the polling endpoints.
type OrderStatusReader interface {
	ByMerchantOrderID(ctx context.Context, merchantOrderID string) (app.StatusView, error)
	BySessionID(ctx context.Context, sessionID string) (app.StatusView, error)
}

// SessionCreator is the minimal interface needed to open a payment session.
type SessionCreator interface {
	CreateSession(ctx context.Context, in app.CreateSessionInput) (domain.Order, error)
}

// HandleOrderStatus serves GET /orders/{orderID}/status.
func HandleOrderStatus(svc OrderStatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.ByMerchantOrderID(r.Context(), chi.URLParam(r, "orderID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeStatus(w, view)
	}
}

// HandleSessionStatus serves GET /payments/sessions/{sessionID}.
func HandleSessionStatus(svc OrderStatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.BySessionID(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeStatus(w, view)
	}
}

func writeStatus(w http.ResponseWriter, view app.StatusView) {
	if view.Stale && view.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(view.RetryAfter.Round(time.Second)/time.Second)))
	}
	writeJSON(w, http.StatusOK, statusResponse{
		orderResponse: newOrderResponse(view.Order),
		Stale:         view.Stale,
	})
}

// HandleCreateSession serves POST /orders.
func HandleCreateSession(svc SessionCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		order, err := svc.CreateSession(r.Context(), app.CreateSessionInput{
			MerchantOrderID: strings.TrimSpace(req.OrderID),
			Amount:          req.Amount,
			Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
			Customer: domain.Customer{
				ID:    strings.TrimSpace(req.Customer.ID),
				Email: strings.TrimSpace(req.Customer.Email),
				Phone: strings.TrimSpace(req.Customer.Phone),
			},
			ReturnURL: req.ReturnURL,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, sessionResponse{
			orderResponse:    newOrderResponse(order),
			PaymentSessionID: order.PaymentSessionID,
			SessionExpiresAt: order.SessionExpiresAt,
		})
	}
}

type createSessionRequest struct {
	OrderID  string          `json:"order_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
	Customer struct {
		ID    string `json:"id"`
		Email string `json:"email,omitempty"`
		Phone string `json:"phone"`
	} `json:"customer"`
	ReturnURL string `json:"return_url,omitempty"`
}

type orderResponse struct {
	OrderID            string     `json:"order_id"`
	GatewayOrderID     string     `json:"gateway_order_id,omitempty"`
	Status             string     `json:"status"`
	Amount             string     `json:"amount"`
	Currency           string     `json:"currency"`
	TransactionID      string     `json:"transaction_id,omitempty"`
	BankReference      string     `json:"bank_reference,omitempty"`
	PaymentCompletedAt *time.Time `json:"payment_completed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func newOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		OrderID:            o.MerchantOrderID,
		GatewayOrderID:     o.GatewayOrderID,
		Status:             string(o.Status),
		Amount:             o.Amount.StringFixed(2),
		Currency:           o.Currency,
		TransactionID:      o.Payment.TransactionID,
		BankReference:      o.Payment.BankReference,
		PaymentCompletedAt: o.PaymentCompletedAt,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

type statusResponse struct {
	orderResponse
	Stale bool `json:"stale"`
}

type sessionResponse struct {
	orderResponse
	PaymentSessionID string     `json:"payment_session_id"`
	SessionExpiresAt *time.Time `json:"session_expires_at,omitempty"`
}
