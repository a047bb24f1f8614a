package domain

import "strings"

// Gateway order_status vocabulary.
const (
	GatewayOrderActive     = "ACTIVE"
	GatewayOrderPaid       = "PAID"
	GatewayOrderExpired    = "EXPIRED"
	GatewayOrderTerminated = "TERMINATED"
)

// Gateway payment_status vocabulary.
const (
	GatewayPaymentSuccess      = "SUCCESS"
	GatewayPaymentFailed       = "FAILED"
	GatewayPaymentUserDropped  = "USER_DROPPED"
	GatewayPaymentCancelled    = "CANCELLED"
	GatewayPaymentVoid         = "VOID"
	GatewayPaymentPending      = "PENDING"
	GatewayPaymentFlagged      = "FLAGGED"
	GatewayPaymentNotAttempted = "NOT_ATTEMPTED"
)

var paymentStatusTargets = map[string]OrderStatus{
	GatewayPaymentSuccess:     OrderStatusPaid,
	GatewayPaymentFailed:      OrderStatusFailed,
	GatewayPaymentUserDropped: OrderStatusFailed,
	GatewayPaymentCancelled:   OrderStatusFailed,
	GatewayPaymentVoid:        OrderStatusFailed,
	GatewayPaymentPending:     OrderStatusPending,
	GatewayPaymentFlagged:     OrderStatusPending,
}

var orderStatusTargets = map[string]OrderStatus{
	GatewayOrderPaid:       OrderStatusPaid,
	GatewayOrderExpired:    OrderStatusFailed,
	GatewayOrderTerminated: OrderStatusFailed,
}

// ClassifyStatus maps the gateway's declared order status and payment status
// onto a target lifecycle state. A PAID order wins over any payment status
// because a failed attempt may precede a successful one. ok is false when
// nothing recognisable was reported.
func ClassifyStatus(declared, payment string) (OrderStatus, bool) {
	declared = strings.ToUpper(strings.TrimSpace(declared))
	payment = strings.ToUpper(strings.TrimSpace(payment))

	if declared == GatewayOrderPaid {
		return OrderStatusPaid, true
	}
	if target, ok := paymentStatusTargets[payment]; ok {
		return target, true
	}
	if target, ok := orderStatusTargets[declared]; ok {
		return target, true
	}
	return "", false
}
