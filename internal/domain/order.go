package domain

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusInitiated OrderStatus = "initiated"
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// Valid reports whether s is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusInitiated, OrderStatusPending, OrderStatusPaid,
		OrderStatusFailed, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no automatic transition may leave s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// PaymentEvidence is populated only when a payment succeeds.
type PaymentEvidence struct {
	TransactionID string
	BankReference string
	// ChannelSubID is the channel specific reference, e.g. the UPI transaction id.
	ChannelSubID string
}

func (e PaymentEvidence) Empty() bool {
	return e.TransactionID == "" && e.BankReference == "" && e.ChannelSubID == ""
}

// Merge returns e with every non-empty field of incoming applied. Existing
// values are never replaced with emptiness.
func (e PaymentEvidence) Merge(incoming PaymentEvidence) PaymentEvidence {
	if incoming.TransactionID != "" {
		e.TransactionID = incoming.TransactionID
	}
	if incoming.BankReference != "" {
		e.BankReference = incoming.BankReference
	}
	if incoming.ChannelSubID != "" {
		e.ChannelSubID = incoming.ChannelSubID
	}
	return e
}

// FailureEvidence is populated only when a payment fails.
type FailureEvidence struct {
	Code    string
	Message string
}

type Customer struct {
	ID    string
	Email string
	Phone string
}

// Order is the local record of one purchase and its payment lifecycle.
type Order struct {
	MerchantOrderID  string
	GatewayOrderID   string
	PaymentSessionID string

	Amount   decimal.Decimal
	Currency string
	Status   OrderStatus

	Payment   PaymentEvidence
	Failure   FailureEvidence
	Customer  Customer
	ReturnURL string

	CreatedAt          time.Time
	UpdatedAt          time.Time
	PaymentInitiatedAt *time.Time
	PaymentCompletedAt *time.Time
	SessionExpiresAt   *time.Time

	LastNotification  json.RawMessage
	NotificationCount int

	// Version is bumped on every committed transition and guards the
	// compare-and-set in Store.Transition.
	Version int64
}

// Apply moves the order into to and merges the evidence relevant to that
// state. Amount and currency are never touched.
func (o *Order) Apply(to OrderStatus, ev Evidence, now time.Time) {
	o.Status = to
	o.UpdatedAt = now

	switch to {
	case OrderStatusPaid:
		o.Payment = o.Payment.Merge(ev.Payment)
		if o.PaymentCompletedAt == nil {
			completed := now
			o.PaymentCompletedAt = &completed
		}
	case OrderStatusFailed:
		if ev.Failure.Code != "" {
			o.Failure.Code = ev.Failure.Code
		}
		if ev.Failure.Message != "" {
			o.Failure.Message = ev.Failure.Message
		}
	}
}

// TransitionRule is the state machine's verdict for a requested move.
type TransitionRule int

const (
	// TransitionApply commits the new state.
	TransitionApply TransitionRule = iota
	// TransitionIgnore acknowledges without mutation.
	TransitionIgnore
	// TransitionReject refuses a move no caller may request, such as back to initiated.
	TransitionReject
)

func (r TransitionRule) String() string {
	switch r {
	case TransitionApply:
		return "apply"
	case TransitionIgnore:
		return "ignore"
	default:
		return "reject"
	}
}

// Decide evaluates a move from one state to another.
//
// Terminal states absorb paid, failed and pending targets so that duplicated
// or reordered notifications converge. Refunds are accepted only for paid
// orders; a refund for money never collected is ignored. Cancellation is an
// administrative override and is accepted from any other state.
func Decide(from, to OrderStatus) TransitionRule {
	if from == to {
		return TransitionIgnore
	}
	switch to {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed:
		if from == OrderStatusInitiated || from == OrderStatusPending {
			return TransitionApply
		}
		return TransitionIgnore
	case OrderStatusRefunded:
		if from == OrderStatusPaid {
			return TransitionApply
		}
		return TransitionIgnore
	case OrderStatusCancelled:
		return TransitionApply
	}
	return TransitionReject
}

const (
	minOrderIDLen = 3
	maxOrderIDLen = 50
)

var orderIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateOrderID checks the merchant order identifier format.
func ValidateOrderID(id string) error {
	if len(id) < minOrderIDLen || len(id) > maxOrderIDLen || !orderIDPattern.MatchString(id) {
		return ErrInvalidOrderID
	}
	return nil
}

// ValidateAmount requires a positive amount with at most two decimal places
// that does not exceed limit.
func ValidateAmount(amount, limit decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return ErrInvalidAmount
	}
	if limit.IsPositive() && amount.GreaterThan(limit) {
		return ErrInvalidAmount
	}
	return nil
}

// ValidateCurrency accepts only the deployment's configured currency.
func ValidateCurrency(currency, supported string) error {
	if !strings.EqualFold(strings.TrimSpace(currency), supported) {
		return ErrUnsupportedCurrency
	}
	return nil
}

// OrderEvent is one row of the audit trail written for every applied transition.
type OrderEvent struct {
	ID              string
	MerchantOrderID string
	From            OrderStatus
	To              OrderStatus
	Source          string
	CreatedAt       time.Time
}
