package app

import (
	"context"
	"fmt"

	"github.com/cimillas/paygate/internal/domain"
	"github.com/cimillas/paygate/internal/gateway"
)

// AdminService covers the operator-only paths: explicit cancellation, forcing
// a live reconciliation for orders flagged as conflicts, and the audit trail.
type AdminService struct {
	store      OrderStore
	gateway    gateway.Client
	reconciler *Reconciler
}

func NewAdminService(store OrderStore, gw gateway.Client, reconciler *Reconciler) *AdminService {
	return &AdminService{
		store:      store,
		gateway:    gw,
		reconciler: reconciler,
	}
}

// Cancel moves an order to cancelled from any state, keeping whatever payment
// evidence it holds. Cancelling an already cancelled order is a no-op.
func (s *AdminService) Cancel(ctx context.Context, merchantOrderID string) (domain.Order, error) {
	if err := domain.ValidateOrderID(merchantOrderID); err != nil {
		return domain.Order{}, err
	}
	order, err := s.store.GetByMerchantOrderID(ctx, merchantOrderID)
	if err != nil {
		return domain.Order{}, err
	}

	res := ReconcileResult{
		MerchantOrderID: order.MerchantOrderID,
		GatewayOrderID:  order.GatewayOrderID,
	}
	res = s.reconciler.transition(ctx, res, order, domain.OrderStatusCancelled, domain.Evidence{}, "admin:cancel")
	res = s.reconciler.finish(ctx, res, nil)

	switch res.Outcome {
	case OutcomeApplied, OutcomeUnchanged:
		if res.Err != nil {
			return *res.Order, res.Err
		}
		return *res.Order, nil
	default:
		return domain.Order{}, res.Err
	}
}

// ForceReconcile pulls the authoritative status from the gateway and applies
// it, regardless of how recently the order was polled.
func (s *AdminService) ForceReconcile(ctx context.Context, merchantOrderID string) (ReconcileResult, error) {
	if err := domain.ValidateOrderID(merchantOrderID); err != nil {
		return ReconcileResult{}, err
	}
	order, err := s.store.GetByMerchantOrderID(ctx, merchantOrderID)
	if err != nil {
		return ReconcileResult{}, err
	}
	if order.GatewayOrderID == "" {
		return ReconcileResult{}, domain.ErrNotAttempted
	}

	polled, err := gateway.Poll(ctx, s.gateway, order.MerchantOrderID, order.GatewayOrderID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("force reconcile %s: %w", merchantOrderID, err)
	}

	res := s.reconciler.reconcilePolled(ctx, polled, "admin:reconcile")
	switch res.Outcome {
	case OutcomeFailed, OutcomeConflict:
		return res, res.Err
	}
	return res, nil
}

func (s *AdminService) Events(ctx context.Context, merchantOrderID string) ([]domain.OrderEvent, error) {
	if err := domain.ValidateOrderID(merchantOrderID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetByMerchantOrderID(ctx, merchantOrderID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, merchantOrderID)
}
