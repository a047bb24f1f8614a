package app

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/cimillas/paygate/internal/domain"
	"github.com/cimillas/paygate/internal/gateway"
)

// fakeStore is an in-memory OrderStore with the same compare-and-set
// semantics as the SQL stores.
type fakeStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	events []domain.OrderEvent

	// staleTransitions makes the next n Transition calls fail as stale.
	staleTransitions int
	transitionCalls  int
	transitionErr    error
	getErr           error
}

func newFakeStore(orders ...domain.Order) *fakeStore {
	s := &fakeStore{orders: make(map[string]domain.Order)}
	for _, o := range orders {
		if o.Version == 0 {
			o.Version = 1
		}
		s.orders[o.MerchantOrderID] = o
	}
	return s
}

func (s *fakeStore) GetByMerchantOrderID(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.Order{}, s.getErr
	}
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *fakeStore) GetByGatewayOrderID(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.Order{}, s.getErr
	}
	for _, o := range s.orders {
		if o.GatewayOrderID != "" && o.GatewayOrderID == id {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (s *fakeStore) GetBySessionID(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.PaymentSessionID != "" && o.PaymentSessionID == id {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (s *fakeStore) Save(_ context.Context, order domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.orders[order.MerchantOrderID]
	if !ok {
		order.Version = 1
		s.orders[order.MerchantOrderID] = order
		return order, nil
	}
	if existing.Status == domain.OrderStatusPaid || existing.Status == domain.OrderStatusRefunded {
		return domain.Order{}, domain.ErrOrderAlreadyPaid
	}
	if existing.GatewayOrderID != "" {
		order.GatewayOrderID = existing.GatewayOrderID
	}
	order.CreatedAt = existing.CreatedAt
	order.NotificationCount = existing.NotificationCount
	order.LastNotification = existing.LastNotification
	order.Version = existing.Version + 1
	s.orders[order.MerchantOrderID] = order
	return order, nil
}

func (s *fakeStore) Transition(_ context.Context, id string, expected domain.OrderStatus, source string, fn TransitionFunc) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionCalls++
	if s.transitionErr != nil {
		return domain.Order{}, s.transitionErr
	}
	if s.staleTransitions > 0 {
		s.staleTransitions--
		return domain.Order{}, domain.ErrStaleTransition
	}
	current, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if current.Status != expected {
		return domain.Order{}, domain.ErrStaleTransition
	}
	next := current
	if err := fn(&next); err != nil {
		return domain.Order{}, err
	}
	next.Version = current.Version + 1
	s.orders[id] = next
	if next.Status != current.Status {
		s.events = append(s.events, domain.OrderEvent{
			ID:              strconv.Itoa(len(s.events) + 1),
			MerchantOrderID: id,
			From:            current.Status,
			To:              next.Status,
			Source:          source,
			CreatedAt:       next.UpdatedAt,
		})
	}
	return next, nil
}

func (s *fakeStore) RecordNotification(_ context.Context, id string, raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.NotificationCount++
	o.LastNotification = append(json.RawMessage(nil), raw...)
	s.orders[id] = o
	return nil
}

func (s *fakeStore) ListEvents(_ context.Context, id string) ([]domain.OrderEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderEvent
	for _, e := range s.events {
		if e.MerchantOrderID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) order(id string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *fakeStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fakeGateway struct {
	mu sync.Mutex

	state      gateway.OrderState
	details    gateway.PaymentDetails
	statusErr  error
	detailsErr error
	statusHits int

	session    gateway.Session
	sessionErr error
	sessionReq gateway.SessionRequest
}

func (g *fakeGateway) GetStatus(_ context.Context, _ string) (gateway.OrderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusHits++
	return g.state, g.statusErr
}

func (g *fakeGateway) GetPaymentDetails(_ context.Context, _ string) (gateway.PaymentDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.details, g.detailsErr
}

func (g *fakeGateway) CreateSession(_ context.Context, req gateway.SessionRequest) (gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionReq = req
	return g.session, g.sessionErr
}

func (g *fakeGateway) hits() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusHits
}

type fakeGuard struct {
	allow bool
	err   error
}

func (g fakeGuard) Allow(context.Context, string) (bool, error) {
	return g.allow, g.err
}

func (fakeGuard) Release(context.Context, string) error { return nil }

func initiatedOrder(id, gatewayID string, created time.Time) domain.Order {
	return domain.Order{
		MerchantOrderID:  id,
		GatewayOrderID:   gatewayID,
		PaymentSessionID: "session_" + id,
		Amount:           mustDecimal("500"),
		Currency:         "INR",
		Status:           domain.OrderStatusInitiated,
		CreatedAt:        created,
		UpdatedAt:        created,
		Version:          1,
	}
}
