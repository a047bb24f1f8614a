package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cimillas/paygate/internal/clock"
	"github.com/cimillas/paygate/internal/domain"
	"github.com/cimillas/paygate/internal/gateway"
	"github.com/shopspring/decimal"
)

const defaultSessionExpiry = 30 * time.Minute

type SessionService struct {
	store   OrderStore
	gateway gateway.Client
	clock   clock.Clock
	logger  *slog.Logger

	currency  string
	maxAmount decimal.Decimal
	expiry    time.Duration
}

type SessionServiceOption func(*SessionService)

// WithSessionExpiry overrides the default lifetime of new payment sessions.
func WithSessionExpiry(d time.Duration) SessionServiceOption {
	return func(s *SessionService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithMaxAmount caps order amounts. A non-positive limit disables the cap.
func WithMaxAmount(limit decimal.Decimal) SessionServiceOption {
	return func(s *SessionService) {
		s.maxAmount = limit
	}
}

func WithSessionLogger(logger *slog.Logger) SessionServiceOption {
	return func(s *SessionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSessionService(store OrderStore, gw gateway.Client, clk clock.Clock, currency string, opts ...SessionServiceOption) *SessionService {
	svc := &SessionService{
		store:    store,
		gateway:  gw,
		clock:    clk,
		logger:   slog.Default(),
		currency: strings.ToUpper(currency),
		expiry:   defaultSessionExpiry,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.logger = svc.logger.With("component", "sessions")
	return svc
}

type CreateSessionInput struct {
	MerchantOrderID string
	Amount          decimal.Decimal
	Currency        string
	Customer        domain.Customer
	ReturnURL       string
}

// CreateSession requests a payment session from the gateway and creates the
// order, or resets an existing unpaid one to initiated.
func (s *SessionService) CreateSession(ctx context.Context, in CreateSessionInput) (domain.Order, error) {
	if err := domain.ValidateOrderID(in.MerchantOrderID); err != nil {
		return domain.Order{}, err
	}
	if err := domain.ValidateAmount(in.Amount, s.maxAmount); err != nil {
		return domain.Order{}, err
	}
	currency := in.Currency
	if currency == "" {
		currency = s.currency
	}
	if err := domain.ValidateCurrency(currency, s.currency); err != nil {
		return domain.Order{}, err
	}
	if in.Customer.ID == "" || in.Customer.Phone == "" {
		return domain.Order{}, domain.ErrCustomerRequired
	}

	existing, err := s.store.GetByMerchantOrderID(ctx, in.MerchantOrderID)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
	case err != nil:
		return domain.Order{}, err
	case existing.Status == domain.OrderStatusPaid || existing.Status == domain.OrderStatusRefunded:
		return domain.Order{}, domain.ErrOrderAlreadyPaid
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.expiry)
	session, err := s.gateway.CreateSession(ctx, gateway.SessionRequest{
		MerchantOrderID: in.MerchantOrderID,
		Amount:          in.Amount,
		Currency:        s.currency,
		Customer:        in.Customer,
		ReturnURL:       in.ReturnURL,
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		return domain.Order{}, err
	}
	if !session.ExpiresAt.IsZero() {
		expiresAt = session.ExpiresAt
	}
	if existing.GatewayOrderID != "" && existing.GatewayOrderID != session.GatewayOrderID {
		s.logger.WarnContext(ctx, "gateway issued a new order id for an existing order; keeping the original",
			"merchant_order_id", in.MerchantOrderID,
			"gateway_order_id", existing.GatewayOrderID,
			"issued_gateway_order_id", session.GatewayOrderID)
	}

	initiated := now
	order := domain.Order{
		MerchantOrderID:    in.MerchantOrderID,
		GatewayOrderID:     session.GatewayOrderID,
		PaymentSessionID:   session.PaymentSessionID,
		Amount:             in.Amount,
		Currency:           s.currency,
		Status:             domain.OrderStatusInitiated,
		Customer:           in.Customer,
		ReturnURL:          in.ReturnURL,
		CreatedAt:          now,
		UpdatedAt:          now,
		PaymentInitiatedAt: &initiated,
		SessionExpiresAt:   &expiresAt,
	}

	saved, err := s.store.Save(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.InfoContext(ctx, "payment session created",
		"merchant_order_id", saved.MerchantOrderID,
		"gateway_order_id", saved.GatewayOrderID,
		"expires_at", expiresAt)
	return saved, nil
}
