package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/cimillas/paygate/internal/domain"
	"github.com/cimillas/paygate/internal/gateway"
)

const defaultRetryAfter = 10 * time.Second

// PollGuard limits how often one order may be polled live. Release hands back
// a slot whose poll failed, so an outage is never hidden behind the throttle.
type PollGuard interface {
	Allow(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// StatusView is an order as shown to a polling client.
type StatusView struct {
	Order domain.Order
	// Polled is set when the gateway was consulted for this view.
	Polled bool
	// Stale is set when a live poll was attempted and failed; Order is then
	// the last known local state.
	Stale      bool
	RetryAfter time.Duration
}

type StatusService struct {
	store      OrderStore
	gateway    gateway.Client
	reconciler *Reconciler
	guard      PollGuard
	retryAfter time.Duration
	logger     *slog.Logger
}

// NewStatusService builds the polling path. guard may be nil to poll on every request.
func NewStatusService(store OrderStore, gw gateway.Client, reconciler *Reconciler, guard PollGuard, retryAfter time.Duration, logger *slog.Logger) *StatusService {
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusService{
		store:      store,
		gateway:    gw,
		reconciler: reconciler,
		guard:      guard,
		retryAfter: retryAfter,
		logger:     logger.With("component", "status"),
	}
}

func (s *StatusService) ByMerchantOrderID(ctx context.Context, merchantOrderID string) (StatusView, error) {
	if err := domain.ValidateOrderID(merchantOrderID); err != nil {
		return StatusView{}, err
	}
	order, err := s.store.GetByMerchantOrderID(ctx, merchantOrderID)
	if err != nil {
		return StatusView{}, err
	}
	return s.refresh(ctx, order), nil
}

func (s *StatusService) BySessionID(ctx context.Context, sessionID string) (StatusView, error) {
	if sessionID == "" {
		return StatusView{}, domain.ErrOrderNotFound
	}
	order, err := s.store.GetBySessionID(ctx, sessionID)
	if err != nil {
		return StatusView{}, err
	}
	return s.refresh(ctx, order), nil
}

// refresh polls the gateway for orders that could still change and reconciles
// the answer. Terminal orders and orders without a gateway id are returned as is.
func (s *StatusService) refresh(ctx context.Context, order domain.Order) StatusView {
	view := StatusView{Order: order}
	if order.GatewayOrderID == "" || order.Status.Terminal() || s.gateway == nil {
		return view
	}

	held := false
	if s.guard != nil {
		allowed, err := s.guard.Allow(ctx, order.MerchantOrderID)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "poll guard unavailable, polling anyway",
				"merchant_order_id", order.MerchantOrderID, "error", err)
		case !allowed:
			return view
		default:
			held = true
		}
	}

	polled, err := gateway.Poll(ctx, s.gateway, order.MerchantOrderID, order.GatewayOrderID)
	if err != nil {
		s.logger.WarnContext(ctx, "live status poll failed",
			"merchant_order_id", order.MerchantOrderID, "error", err)
		if held {
			if rerr := s.guard.Release(ctx, order.MerchantOrderID); rerr != nil {
				s.logger.WarnContext(ctx, "release poll guard",
					"merchant_order_id", order.MerchantOrderID, "error", rerr)
			}
		}
		view.Stale = true
		view.RetryAfter = s.retryAfter
		return view
	}

	view.Polled = true
	res := s.reconciler.reconcilePolled(ctx, polled, "status")
	if res.Order != nil {
		view.Order = *res.Order
	}
	return view
}
