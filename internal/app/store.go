package app

import (
	"context"
	"encoding/json"

	"github.com/cimillas/paygate/internal/domain"
)

// TransitionFunc mutates a copy of the order read by Store.Transition. A
// non-nil error aborts the transition without writing.
type TransitionFunc func(o *domain.Order) error

// OrderStore is the durable record of orders. Both storage backends implement it.
type OrderStore interface {
	GetByMerchantOrderID(ctx context.Context, merchantOrderID string) (domain.Order, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (domain.Order, error)

	// Save creates the order or refreshes an existing non-paid one.
	Save(ctx context.Context, order domain.Order) (domain.Order, error)

	// Transition commits fn only if the stored status still equals expected
	// and the record has not been modified since it was read. Otherwise it
	// returns domain.ErrStaleTransition. A status change is audited under source.
	Transition(ctx context.Context, merchantOrderID string, expected domain.OrderStatus, source string, fn TransitionFunc) (domain.Order, error)

	RecordNotification(ctx context.Context, merchantOrderID string, raw json.RawMessage) error
	ListEvents(ctx context.Context, merchantOrderID string) ([]domain.OrderEvent, error)
	Ping(ctx context.Context) error
}
