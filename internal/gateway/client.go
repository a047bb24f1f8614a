// Package gateway talks to the external payment gateway's REST API.
//
// Calls are treated as slow and fallible. Every transport failure, timeout or
// non-2xx response is reported as domain.ErrUpstreamUnavailable so callers can
// degrade to "no reconciliation possible right now" instead of guessing.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/cimillas/paygate/internal/domain"
	"github.com/shopspring/decimal"
)

// Client is the surface of the gateway the core depends on.
type Client interface {
	GetStatus(ctx context.Context, gatewayOrderID string) (OrderState, error)
	// GetPaymentDetails returns domain.ErrNotAttempted when no payment exists yet.
	GetPaymentDetails(ctx context.Context, gatewayOrderID string) (PaymentDetails, error)
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
}

// OrderState is the gateway's authoritative view of an order.
type OrderState struct {
	GatewayOrderID string
	Status         string
	Amount         decimal.Decimal
	Currency       string
}

type PaymentDetails struct {
	PaymentStatus string
	TransactionID string
	BankReference string
	ChannelSubID  string
	ErrorCode     string
	ErrorMessage  string
	PaymentTime   time.Time
}

// Evidence converts the details into the engine's evidence shape.
func (d PaymentDetails) Evidence() domain.Evidence {
	return domain.Evidence{
		Payment: domain.PaymentEvidence{
			TransactionID: d.TransactionID,
			BankReference: d.BankReference,
			ChannelSubID:  d.ChannelSubID,
		},
		Failure: domain.FailureEvidence{
			Code:    d.ErrorCode,
			Message: d.ErrorMessage,
		},
	}
}

type SessionRequest struct {
	MerchantOrderID string
	Amount          decimal.Decimal
	Currency        string
	Customer        domain.Customer
	ReturnURL       string
	ExpiresAt       time.Time
}

type Session struct {
	GatewayOrderID   string
	PaymentSessionID string
	ExpiresAt        time.Time
}

// Poll fetches status and payment details and folds them into a PolledStatus
// for the order identified by merchantOrderID. A missing payment is reported
// as NOT_ATTEMPTED; any other failure is an error.
func Poll(ctx context.Context, c Client, merchantOrderID, gatewayOrderID string) (domain.PolledStatus, error) {
	state, err := c.GetStatus(ctx, gatewayOrderID)
	if err != nil {
		return domain.PolledStatus{}, err
	}
	details, err := c.GetPaymentDetails(ctx, gatewayOrderID)
	switch {
	case errors.Is(err, domain.ErrNotAttempted):
		details = PaymentDetails{PaymentStatus: domain.GatewayPaymentNotAttempted}
	case err != nil:
		return domain.PolledStatus{}, err
	}

	ev := details.Evidence()
	ev.Amount = state.Amount
	ev.Currency = state.Currency
	return domain.PolledStatus{
		MerchantOrderID: merchantOrderID,
		DeclaredStatus:  state.Status,
		PaymentStatus:   details.PaymentStatus,
		Evidence:        ev,
	}, nil
}
