// Package webhook turns verified gateway deliveries into reconciliation events.
//
// Shape validation happens here, after the signature has been checked by the
// transport. A payload that fails validation never reaches the order store.
package webhook

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cimillas/paygate/internal/app"
	"github.com/cimillas/paygate/internal/domain"
	"github.com/cimillas/paygate/internal/gateway"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed notification.schema.json
var notificationSchema string

const schemaURL = "https://paygate.schemas.local/webhook/notification.schema.json"

var kinds = map[string]domain.NotificationKind{
	string(domain.NotificationPaymentSuccess): domain.NotificationPaymentSuccess,
	string(domain.NotificationPaymentFailed):  domain.NotificationPaymentFailed,
	string(domain.NotificationUserDropped):    domain.NotificationUserDropped,
	string(domain.NotificationPaymentPending): domain.NotificationPaymentPending,
	string(domain.NotificationRefundSuccess):  domain.NotificationRefundSuccess,
}

type envelope struct {
	Type      string `json:"type"`
	EventTime string `json:"event_time"`
	Data      struct {
		Order   gateway.OrderPayload    `json:"order"`
		Payment *gateway.PaymentPayload `json:"payment"`
	} `json:"data"`
}

// Reconciler is the engine the dispatcher routes to.
type Reconciler interface {
	Reconcile(ctx context.Context, ev domain.ReconciliationEvent) app.ReconcileResult
}

type Dispatcher struct {
	schema     *jsonschema.Schema
	reconciler Reconciler
	logger     *slog.Logger
}

func NewDispatcher(reconciler Reconciler, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(notificationSchema)); err != nil {
		return nil, fmt.Errorf("load notification schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile notification schema: %w", err)
	}
	return &Dispatcher{
		schema:     schema,
		reconciler: reconciler,
		logger:     logger.With("component", "webhook"),
	}, nil
}

// Classify validates raw and converts it into a Notification. Every shape
// problem is reported as domain.ErrMalformedPayload.
func (d *Dispatcher) Classify(raw []byte) (domain.Notification, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return domain.Notification{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if err := d.schema.Validate(doc); err != nil {
		return domain.Notification{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Notification{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	n := domain.Notification{
		Kind:           KindOf(env.Type),
		DeclaredType:   env.Type,
		GatewayOrderID: strings.TrimSpace(env.Data.Order.OrderID),
		DeclaredStatus: strings.ToUpper(strings.TrimSpace(env.Data.Order.OrderStatus)),
		Raw:            json.RawMessage(raw),
	}
	if n.GatewayOrderID == "" {
		return domain.Notification{}, fmt.Errorf("%w: empty order id", domain.ErrMalformedPayload)
	}
	if env.Data.Payment != nil {
		details := env.Data.Payment.Details()
		n.PaymentStatus = details.PaymentStatus
		n.Evidence = details.Evidence()
	}
	n.Evidence.Amount = env.Data.Order.OrderAmount
	n.Evidence.Currency = env.Data.Order.OrderCurrency
	return n, nil
}

// KindOf maps a declared webhook type onto a known kind. The gateway suffixes
// some types with _WEBHOOK; both spellings are accepted.
func KindOf(declared string) domain.NotificationKind {
	t := strings.ToUpper(strings.TrimSpace(declared))
	t = strings.TrimSuffix(t, "_WEBHOOK")
	if k, ok := kinds[t]; ok {
		return k
	}
	return domain.NotificationUnclassified
}

// Dispatch classifies raw and hands it to the reconciler. Malformed payloads
// come back as OutcomeMalformed.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) app.ReconcileResult {
	n, err := d.Classify(raw)
	if err != nil {
		d.logger.WarnContext(ctx, "malformed notification", "error", err, "bytes", len(raw))
		return app.ReconcileResult{Outcome: app.OutcomeMalformed, Err: err}
	}
	return d.reconciler.Reconcile(ctx, n)
}
