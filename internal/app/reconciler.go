package app

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cimillas/paygate/internal/clock"
	"github.com/cimillas/paygate/internal/domain"
	"github.com/cimillas/paygate/internal/gateway"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/cimillas/paygate/internal/app"

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 15 * time.Millisecond
)

// Outcome is the soft result of one reconciliation. None of them is an error
// towards the gateway.
type Outcome string

const (
	OutcomeApplied             Outcome = "applied"
	OutcomeUnchanged           Outcome = "unchanged"
	OutcomeNotFound            Outcome = "not_found"
	OutcomeConflict            Outcome = "conflict"
	OutcomeUnclassified        Outcome = "unclassified"
	OutcomeMalformed           Outcome = "malformed"
	OutcomeUpstreamUnavailable Outcome = "upstream_unavailable"
	// OutcomeFailed means the store itself failed. Err carries the cause.
	OutcomeFailed Outcome = "failed"
)

// ReconcileResult describes what one reconciliation did.
type ReconcileResult struct {
	Outcome         Outcome
	MerchantOrderID string
	GatewayOrderID  string
	Previous        domain.OrderStatus
	Current         domain.OrderStatus
	Attempts        int
	// Order is the latest known record, nil when the order was never resolved.
	Order *domain.Order
	Err   error
}

func (r ReconcileResult) Applied() bool {
	return r.Outcome == OutcomeApplied
}

// Reconciler is the only writer of order lifecycle state.
type Reconciler struct {
	store   OrderStore
	gateway gateway.Client
	clock   clock.Clock
	logger  *slog.Logger

	maxAttempts         int
	retryDelay          time.Duration
	resolveUnclassified bool

	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

type ReconcilerOption func(*Reconciler)

// WithRetry bounds the compare-and-set retry loop.
func WithRetry(attempts int, delay time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if attempts > 0 {
			r.maxAttempts = attempts
		}
		if delay >= 0 {
			r.retryDelay = delay
		}
	}
}

// WithUnclassifiedResolution makes unclassified notifications pull the
// authoritative status from the gateway before deciding anything.
func WithUnclassifiedResolution(enabled bool) ReconcilerOption {
	return func(r *Reconciler) {
		r.resolveUnclassified = enabled
	}
}

func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReconciler builds the engine. gw may be nil, in which case unclassified
// notifications are never resolved.
func NewReconciler(store OrderStore, gw gateway.Client, clk clock.Clock, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:       store,
		gateway:     gw,
		clock:       clk,
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		tracer:      otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reconciler")

	counter, err := otel.Meter(instrumentationName).Int64Counter("paygate.reconcile.outcomes",
		metric.WithDescription("Reconciliation outcomes by kind"))
	if err != nil {
		r.logger.Warn("reconcile outcome counter unavailable", "error", err)
	}
	r.outcomes = counter
	return r
}

// Reconcile applies a notification or a polled status to the order it
// references. It never returns an error; every outcome is in the result.
func (r *Reconciler) Reconcile(ctx context.Context, ev domain.ReconciliationEvent) ReconcileResult {
	switch e := ev.(type) {
	case domain.Notification:
		return r.reconcileNotification(ctx, e)
	case domain.PolledStatus:
		return r.reconcilePolled(ctx, e, "poll")
	default:
		return r.finish(ctx, ReconcileResult{Outcome: OutcomeMalformed}, nil)
	}
}

func (r *Reconciler) reconcileNotification(ctx context.Context, n domain.Notification) ReconcileResult {
	ctx, span := r.tracer.Start(ctx, "reconcile.notification", trace.WithAttributes(
		attribute.String("gateway.order_id", n.GatewayOrderID),
		attribute.String("notification.kind", string(n.Kind)),
	))
	defer span.End()

	res := ReconcileResult{GatewayOrderID: n.GatewayOrderID}
	if n.GatewayOrderID == "" {
		res.Outcome = OutcomeMalformed
		return r.finish(ctx, res, span)
	}

	order, err := r.store.GetByGatewayOrderID(ctx, n.GatewayOrderID)
	if err != nil {
		return r.finish(ctx, lookupFailure(res, err), span)
	}
	res.MerchantOrderID = order.MerchantOrderID
	res.Previous, res.Current = order.Status, order.Status
	res.Order = &order

	if len(n.Raw) > 0 {
		if err := r.store.RecordNotification(ctx, order.MerchantOrderID, n.Raw); err != nil {
			r.logger.WarnContext(ctx, "record notification failed",
				"merchant_order_id", order.MerchantOrderID, "error", err)
		}
	}

	source := "webhook:" + string(n.Kind)
	target, ok := n.Target()
	if !ok {
		if n.Kind != domain.NotificationUnclassified || !r.resolveUnclassified || r.gateway == nil {
			r.logger.InfoContext(ctx, "notification not actionable",
				"merchant_order_id", order.MerchantOrderID,
				"declared_type", n.DeclaredType,
				"declared_status", n.DeclaredStatus,
				"payment_status", n.PaymentStatus)
			res.Outcome = OutcomeUnclassified
			return r.finish(ctx, res, span)
		}

		polled, err := gateway.Poll(ctx, r.gateway, order.MerchantOrderID, n.GatewayOrderID)
		if err != nil {
			res.Outcome = OutcomeUpstreamUnavailable
			res.Err = err
			return r.finish(ctx, res, span)
		}
		target, ok = polled.Target()
		if !ok {
			res.Outcome = OutcomeUnchanged
			return r.finish(ctx, res, span)
		}
		n.Evidence = polled.Evidence
		source = "webhook:resolved"
	}

	return r.finish(ctx, r.transition(ctx, res, order, target, n.Evidence, source), span)
}

func (r *Reconciler) reconcilePolled(ctx context.Context, p domain.PolledStatus, source string) ReconcileResult {
	ctx, span := r.tracer.Start(ctx, "reconcile.poll", trace.WithAttributes(
		attribute.String("merchant.order_id", p.MerchantOrderID),
	))
	defer span.End()

	res := ReconcileResult{MerchantOrderID: p.MerchantOrderID}
	order, err := r.store.GetByMerchantOrderID(ctx, p.MerchantOrderID)
	if err != nil {
		return r.finish(ctx, lookupFailure(res, err), span)
	}
	res.GatewayOrderID = order.GatewayOrderID
	res.Previous, res.Current = order.Status, order.Status
	res.Order = &order

	target, ok := p.Target()
	if !ok {
		// Still active at the gateway, or a status this deployment does not map.
		res.Outcome = OutcomeUnchanged
		return r.finish(ctx, res, span)
	}
	return r.finish(ctx, r.transition(ctx, res, order, target, p.Evidence, source), span)
}

// transition drives the store's compare-and-set, re-reading and re-deciding
// after every stale write until the retry budget runs out.
func (r *Reconciler) transition(ctx context.Context, res ReconcileResult, current domain.Order, target domain.OrderStatus, ev domain.Evidence, source string) ReconcileResult {
	if !ev.Amount.IsZero() && !ev.Amount.Equal(current.Amount) {
		r.logger.WarnContext(ctx, "reported amount differs from order amount",
			"merchant_order_id", current.MerchantOrderID,
			"order_amount", current.Amount.StringFixed(2),
			"reported_amount", ev.Amount.StringFixed(2))
	}

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		res.Previous, res.Current = current.Status, current.Status

		switch domain.Decide(current.Status, target) {
		case domain.TransitionIgnore:
			res.Outcome = OutcomeUnchanged
			res.Order = &current
			return res
		case domain.TransitionReject:
			res.Outcome = OutcomeUnchanged
			res.Err = domain.ErrTransitionRejected
			res.Order = &current
			return res
		}

		now := r.clock.Now()
		updated, err := r.store.Transition(ctx, current.MerchantOrderID, current.Status, source, func(o *domain.Order) error {
			o.Apply(target, ev, now)
			return nil
		})
		if err == nil {
			res.Outcome = OutcomeApplied
			res.Current = updated.Status
			res.Order = &updated
			return res
		}
		if !errors.Is(err, domain.ErrStaleTransition) {
			res.Outcome = OutcomeFailed
			res.Err = err
			return res
		}
		if attempt >= r.maxAttempts {
			res.Outcome = OutcomeConflict
			res.Err = domain.ErrConflict
			return res
		}
		if err := r.backoff(ctx, attempt); err != nil {
			res.Outcome = OutcomeFailed
			res.Err = err
			return res
		}

		current, err = r.store.GetByMerchantOrderID(ctx, current.MerchantOrderID)
		if err != nil {
			res.Outcome = OutcomeFailed
			res.Err = err
			return res
		}
	}
}

func (r *Reconciler) backoff(ctx context.Context, attempt int) error {
	if r.retryDelay <= 0 {
		return ctx.Err()
	}
	delay := time.Duration(attempt)*r.retryDelay + time.Duration(rand.Int63n(int64(r.retryDelay)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Reconciler) finish(ctx context.Context, res ReconcileResult, span trace.Span) ReconcileResult {
	attrs := []any{
		"outcome", string(res.Outcome),
		"merchant_order_id", res.MerchantOrderID,
		"gateway_order_id", res.GatewayOrderID,
		"previous_state", string(res.Previous),
		"new_state", string(res.Current),
		"attempts", res.Attempts,
	}
	switch res.Outcome {
	case OutcomeConflict:
		r.logger.WarnContext(ctx, "reconciliation conflict", append(attrs, "needs_review", true)...)
	case OutcomeFailed:
		r.logger.ErrorContext(ctx, "reconciliation failed", append(attrs, "error", res.Err)...)
	case OutcomeUpstreamUnavailable:
		r.logger.WarnContext(ctx, "reconciliation deferred", append(attrs, "error", res.Err)...)
	default:
		r.logger.InfoContext(ctx, "reconciled", attrs...)
	}

	if r.outcomes != nil {
		r.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))
	}
	if span != nil {
		span.SetAttributes(attribute.String("reconcile.outcome", string(res.Outcome)))
		if res.Outcome == OutcomeFailed {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
	}
	return res
}

func lookupFailure(res ReconcileResult, err error) ReconcileResult {
	if errors.Is(err, domain.ErrOrderNotFound) {
		res.Outcome = OutcomeNotFound
		return res
	}
	res.Outcome = OutcomeFailed
	res.Err = err
	return res
}
