package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// NotificationKind is the recognised sub-type of a gateway webhook.
type NotificationKind string

const (
	NotificationPaymentSuccess NotificationKind = "PAYMENT_SUCCESS"
	NotificationPaymentFailed  NotificationKind = "PAYMENT_FAILED"
	NotificationUserDropped    NotificationKind = "PAYMENT_USER_DROPPED"
	NotificationPaymentPending NotificationKind = "PAYMENT_PENDING"
	NotificationRefundSuccess  NotificationKind = "REFUND_SUCCESS"
	// NotificationUnclassified covers every type this deployment does not handle
	// specifically. It is resolved in one place by the reconciler.
	NotificationUnclassified NotificationKind = "UNCLASSIFIED"
)

// Evidence is what an event reports about the payment. Amount and Currency are
// informational only and never written to an order.
type Evidence struct {
	Payment  PaymentEvidence
	Failure  FailureEvidence
	Amount   decimal.Decimal
	Currency string
}

// ReconciliationEvent is either a Notification or a PolledStatus.
type ReconciliationEvent interface {
	isReconciliationEvent()
}

// Notification is a verified webhook delivery, keyed by gateway order id.
type Notification struct {
	Kind           NotificationKind
	DeclaredType   string
	GatewayOrderID string
	DeclaredStatus string
	PaymentStatus  string
	Evidence       Evidence
	Raw            json.RawMessage
}

func (Notification) isReconciliationEvent() {}

// Target returns the state this notification asks for. ok is false when the
// notification is unclassified or its statuses map to nothing.
func (n Notification) Target() (OrderStatus, bool) {
	switch n.Kind {
	case NotificationUnclassified:
		return "", false
	case NotificationRefundSuccess:
		return OrderStatusRefunded, true
	}
	if target, ok := ClassifyStatus(n.DeclaredStatus, n.PaymentStatus); ok {
		return target, true
	}
	switch n.Kind {
	case NotificationPaymentSuccess:
		return OrderStatusPaid, true
	case NotificationPaymentFailed, NotificationUserDropped:
		return OrderStatusFailed, true
	case NotificationPaymentPending:
		return OrderStatusPending, true
	}
	return "", false
}

// PolledStatus is authoritative status pulled from the gateway, keyed by
// merchant order id.
type PolledStatus struct {
	MerchantOrderID string
	DeclaredStatus  string
	PaymentStatus   string
	Evidence        Evidence
}

func (PolledStatus) isReconciliationEvent() {}

// Target maps the polled statuses onto a lifecycle state.
func (p PolledStatus) Target() (OrderStatus, bool) {
	return ClassifyStatus(p.DeclaredStatus, p.PaymentStatus)
}
