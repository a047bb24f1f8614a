package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cimillas/paygate/internal/app"
	"github.com/cimillas/paygate/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type stubStatusReader struct {
	view app.StatusView
	err  error
	id   string
}

func (s *stubStatusReader) ByMerchantOrderID(_ context.Context, id string) (app.StatusView, error) {
	s.id = id
	return s.view, s.err
}

func (s *stubStatusReader) BySessionID(_ context.Context, id string) (app.StatusView, error) {
	s.id = id
	return s.view, s.err
}

type stubSessionCreator struct {
	order domain.Order
	err   error
	in    app.CreateSessionInput
}

func (s *stubSessionCreator) CreateSession(_ context.Context, in app.CreateSessionInput) (domain.Order, error) {
	s.in = in
	return s.order, s.err
}

func paidOrder(now time.Time) domain.Order {
	completed := now
	return domain.Order{
		MerchantOrderID:    "ORD123",
		GatewayOrderID:     "gw1",
		PaymentSessionID:   "session_ORD123",
		Amount:             decimal.RequireFromString("500"),
		Currency:           "INR",
		Status:             domain.OrderStatusPaid,
		Payment:            domain.PaymentEvidence{TransactionID: "txn-1"},
		CreatedAt:          now.Add(-time.Minute),
		UpdatedAt:          now,
		PaymentCompletedAt: &completed,
	}
}

func statusRouter(svc OrderStatusReader) http.Handler {
	r := chi.NewRouter()
	r.Get("/orders/{orderID}/status", HandleOrderStatus(svc))
	r.Get("/payments/sessions/{sessionID}", HandleSessionStatus(svc))
	return r
}

func TestHandleOrderStatus(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		path           string
		view           app.StatusView
		serviceErr     error
		expectedStatus int
		expectedSubstr []string
		retryAfter     string
	}{
		{
			name:           "fresh order",
			path:           "/orders/ORD123/status",
			view:           app.StatusView{Order: paidOrder(now), Polled: true},
			expectedStatus: http.StatusOK,
			expectedSubstr: []string{`"order_id":"ORD123"`, `"status":"paid"`, `"amount":"500.00"`, `"transaction_id":"txn-1"`, `"stale":false`, `"payment_completed_at":"2025-01-02T10:00:00Z"`},
		},
		{
			name:           "stale after upstream failure",
			path:           "/orders/ORD123/status",
			view:           app.StatusView{Order: paidOrder(now), Stale: true, RetryAfter: 10 * time.Second},
			expectedStatus: http.StatusOK,
			expectedSubstr: []string{`"stale":true`},
			retryAfter:     "10",
		},
		{
			name:           "by session id",
			path:           "/payments/sessions/session_ORD123",
			view:           app.StatusView{Order: paidOrder(now)},
			expectedStatus: http.StatusOK,
			expectedSubstr: []string{`"order_id":"ORD123"`},
		},
		{
			name:           "not found",
			path:           "/orders/ORD404/status",
			serviceErr:     domain.ErrOrderNotFound,
			expectedStatus: http.StatusNotFound,
			expectedSubstr: []string{codeOrderNotFound},
		},
		{
			name:           "invalid id",
			path:           "/orders/x/status",
			serviceErr:     domain.ErrInvalidOrderID,
			expectedStatus: http.StatusBadRequest,
			expectedSubstr: []string{codeInvalidOrderID},
		},
		{
			name:           "store failure is not leaked",
			path:           "/orders/ORD123/status",
			serviceErr:     fmt.Errorf("get order: %w", context.DeadlineExceeded),
			expectedStatus: http.StatusInternalServerError,
			expectedSubstr: []string{codeInternalError},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := &stubStatusReader{view: tt.view, err: tt.serviceErr}

			rec := httptest.NewRecorder()
			statusRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			body := rec.Body.String()
			for _, substr := range tt.expectedSubstr {
				if !strings.Contains(body, substr) {
					t.Fatalf("expected response to contain %q, got %q", substr, body)
				}
			}
			if got := rec.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Fatalf("expected Retry-After %q, got %q", tt.retryAfter, got)
			}
			if strings.Contains(body, "deadline") {
				t.Fatalf("internal error text leaked: %q", body)
			}
		})
	}
}

func TestHandleCreateSession(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	expires := now.Add(30 * time.Minute)
	created := domain.Order{
		MerchantOrderID:  "ORD123",
		GatewayOrderID:   "gw1",
		PaymentSessionID: "session_abc",
		Amount:           decimal.RequireFromString("500"),
		Currency:         "INR",
		Status:           domain.OrderStatusInitiated,
		CreatedAt:        now,
		UpdatedAt:        now,
		SessionExpiresAt: &expires,
	}
	validBody := `{"order_id":" ORD123 ","amount":"500.00","currency":"inr","customer":{"id":"cust-1","phone":"9999999999","email":"a@b.test"},"return_url":"https://shop.test/return"}`

	tests := []struct {
		name           string
		body           string
		serviceErr     error
		expectedStatus int
		expectedSubstr string
	}{
		{
			name:           "created",
			body:           validBody,
			expectedStatus: http.StatusCreated,
			expectedSubstr: `"payment_session_id":"session_abc"`,
		},
		{
			name:           "numeric amount",
			body:           `{"order_id":"ORD123","amount":500,"customer":{"id":"c","phone":"1"}}`,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "unknown field",
			body:           `{"order_id":"ORD123","amount":"500","quantity":1}`,
			expectedStatus: http.StatusBadRequest,
			expectedSubstr: codeInvalidRequestBody,
		},
		{
			name:           "invalid amount",
			body:           validBody,
			serviceErr:     domain.ErrInvalidAmount,
			expectedStatus: http.StatusBadRequest,
			expectedSubstr: codeInvalidAmount,
		},
		{
			name:           "customer required",
			body:           validBody,
			serviceErr:     domain.ErrCustomerRequired,
			expectedStatus: http.StatusBadRequest,
			expectedSubstr: codeCustomerRequired,
		},
		{
			name:           "already paid",
			body:           validBody,
			serviceErr:     domain.ErrOrderAlreadyPaid,
			expectedStatus: http.StatusConflict,
			expectedSubstr: codeOrderAlreadyPaid,
		},
		{
			name:           "gateway down",
			body:           validBody,
			serviceErr:     fmt.Errorf("create session: %w", domain.ErrUpstreamUnavailable),
			expectedStatus: http.StatusBadGateway,
			expectedSubstr: codeUpstreamUnavailable,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := &stubSessionCreator{order: created, err: tt.serviceErr}

			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			HandleCreateSession(svc).ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d (%s)", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if tt.expectedSubstr != "" && !strings.Contains(rec.Body.String(), tt.expectedSubstr) {
				t.Fatalf("expected response to contain %q, got %q", tt.expectedSubstr, rec.Body.String())
			}
		})
	}

	t.Run("normalises input", func(t *testing.T) {
		t.Parallel()
		svc := &stubSessionCreator{order: created}
		rec := httptest.NewRecorder()
		HandleCreateSession(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(validBody)))

		if svc.in.MerchantOrderID != "ORD123" || svc.in.Currency != "INR" || svc.in.Customer.Email != "a@b.test" {
			t.Fatalf("unexpected service input %+v", svc.in)
		}
		if !svc.in.Amount.Equal(decimal.NewFromInt(500)) {
			t.Fatalf("expected amount 500, got %s", svc.in.Amount)
		}

		var resp map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp["status"] != "initiated" || resp["session_expires_at"] != "2025-01-02T10:30:00Z" {
			t.Fatalf("unexpected response %v", resp)
		}
	})
}
