package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cimillas/paygate/internal/app"
	"github.com/cimillas/paygate/internal/clock"
	"github.com/cimillas/paygate/internal/domain"
	"github.com/cimillas/paygate/internal/signature"
	"github.com/cimillas/paygate/internal/storage/postgres"
	"github.com/cimillas/paygate/internal/testutil"
	"github.com/cimillas/paygate/internal/webhook"
	"github.com/shopspring/decimal"
)

func TestAdminOrders_HTTPIntegration(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	now := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	for _, o := range []domain.Order{
		{MerchantOrderID: "ORD123", GatewayOrderID: "gw1", PaymentSessionID: "session_1", Status: domain.OrderStatusInitiated},
		{MerchantOrderID: "ORD456", GatewayOrderID: "gw2", PaymentSessionID: "session_2", Status: domain.OrderStatusPending},
	} {
		o.Amount = decimal.RequireFromString("500.00")
		o.Currency = "INR"
		o.Customer = domain.Customer{ID: "cust-1", Phone: "9999999999"}
		o.CreatedAt, o.UpdatedAt = now, now
		testutil.InsertOrder(t, ctx, pool, o)
	}

	repo := postgres.NewOrderRepository(pool)
	gw := &stubGateway{}
	reconciler := app.NewReconciler(repo, gw, clock.NewFixed(now), app.WithReconcilerLogger(discardLogger))
	dispatcher, err := webhook.NewDispatcher(reconciler, discardLogger)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	handler := NewRouter(RouterConfig{
		Logger:         discardLogger,
		AdminJWTSecret: testAdminSecret,
		Verifier:       signature.NewVerifier(testWebhookSecret),
		Dispatcher:     dispatcher,
		Admin:          app.NewAdminService(repo, gw, reconciler),
		Store:          repo,
	})
	token := adminToken(t, time.Now(), time.Hour)

	admin := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, testutil.NewWebhookRequest(t, "/webhooks/gateway", testWebhookSecret, []byte(paidNotification)))
	if ack := decodeAck(t, rec); ack.Message != string(app.OutcomeApplied) {
		t.Fatalf("expected applied ack, got %+v", ack)
	}

	eventsRec := admin(http.MethodGet, "/admin/orders/ORD123/events")
	if eventsRec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", eventsRec.Code)
	}
	var events []eventResponse
	if err := json.NewDecoder(eventsRec.Body).Decode(&events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 || events[0].From != "initiated" || events[0].To != "paid" {
		t.Fatalf("unexpected events %+v", events)
	}

	paidCancelRec := admin(http.MethodPost, "/admin/orders/ORD123/cancel")
	if paidCancelRec.Code != http.StatusOK {
		t.Fatalf("cancelling a paid order: expected status 200, got %d (%s)", paidCancelRec.Code, paidCancelRec.Body.String())
	}
	var paidCancelled orderResponse
	if err := json.NewDecoder(paidCancelRec.Body).Decode(&paidCancelled); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if paidCancelled.Status != "cancelled" || paidCancelled.BankReference != "BR-1" || paidCancelled.PaymentCompletedAt == nil {
		t.Fatalf("expected cancelled order with payment evidence, got %+v", paidCancelled)
	}

	cancelRec := admin(http.MethodPost, "/admin/orders/ORD456/cancel")
	if cancelRec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", cancelRec.Code, cancelRec.Body.String())
	}
	var cancelled orderResponse
	if err := json.NewDecoder(cancelRec.Body).Decode(&cancelled); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if cancelled.Status != "cancelled" {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	if rec := admin(http.MethodPost, "/admin/orders/ORD456/cancel"); rec.Code != http.StatusOK {
		t.Fatalf("repeated cancel: expected status 200, got %d", rec.Code)
	}

	reconcileRec := admin(http.MethodPost, "/admin/orders/ORD404/reconcile")
	if reconcileRec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", reconcileRec.Code)
	}
}
