package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cimillas/paygate/internal/app"
	"github.com/cimillas/paygate/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const orderColumns = `
	merchant_order_id, gateway_order_id, payment_session_id, amount::text, currency, status,
	transaction_id, bank_reference, channel_sub_id, error_code, error_message,
	customer_id, customer_email, customer_phone, return_url,
	created_at, updated_at, payment_initiated_at, payment_completed_at, session_expires_at,
	last_notification::text, notification_count, version`

type OrderRepository struct {
	pool *pgxpool.Pool
}

var _ app.OrderStore = (*OrderRepository)(nil)

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *OrderRepository) GetByMerchantOrderID(ctx context.Context, merchantOrderID string) (domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE merchant_order_id = $1`, merchantOrderID)
}

func (r *OrderRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE gateway_order_id = $1`, gatewayOrderID)
}

func (r *OrderRepository) GetBySessionID(ctx context.Context, sessionID string) (domain.Order, error) {
	return r.getOne(ctx, `
SELECT `+orderColumns+` FROM orders
WHERE payment_session_id = $1
ORDER BY updated_at DESC
LIMIT 1`, sessionID)
}

// Save inserts the order or, for an existing order that was never paid,
// refreshes its session and resets it to initiated. An assigned gateway order
// id is kept.
func (r *OrderRepository) Save(ctx context.Context, o domain.Order) (domain.Order, error) {
	const upsert = `
INSERT INTO orders (
	merchant_order_id, gateway_order_id, payment_session_id, amount, currency, status,
	customer_id, customer_email, customer_phone, return_url,
	created_at, updated_at, payment_initiated_at, session_expires_at, version
) VALUES ($1, $2, $3, $4::numeric, $5, 'initiated', $6, $7, $8, $9, $10, $10, $11, $12, 1)
ON CONFLICT (merchant_order_id) DO UPDATE SET
	gateway_order_id     = COALESCE(orders.gateway_order_id, EXCLUDED.gateway_order_id),
	payment_session_id   = EXCLUDED.payment_session_id,
	amount               = EXCLUDED.amount,
	currency             = EXCLUDED.currency,
	status               = 'initiated',
	error_code           = '',
	error_message        = '',
	customer_id          = EXCLUDED.customer_id,
	customer_email       = EXCLUDED.customer_email,
	customer_phone       = EXCLUDED.customer_phone,
	return_url           = EXCLUDED.return_url,
	updated_at           = EXCLUDED.updated_at,
	payment_initiated_at = EXCLUDED.payment_initiated_at,
	session_expires_at   = EXCLUDED.session_expires_at,
	version              = orders.version + 1
WHERE orders.status NOT IN ('paid', 'refunded')
RETURNING ` + orderColumns

	var saved domain.Order
	err := r.WithTx(ctx, func(txCtx context.Context) error {
		var previous string
		err := r.queryRow(txCtx, `SELECT status FROM orders WHERE merchant_order_id = $1 FOR UPDATE`, o.MerchantOrderID).Scan(&previous)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock order: %w", err)
		}

		saved, err = scanOrder(r.queryRow(txCtx, upsert,
			o.MerchantOrderID, nullable(o.GatewayOrderID), nullable(o.PaymentSessionID),
			o.Amount.StringFixed(2), o.Currency,
			o.Customer.ID, o.Customer.Email, o.Customer.Phone, o.ReturnURL,
			o.CreatedAt, o.PaymentInitiatedAt, o.SessionExpiresAt,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrOrderAlreadyPaid
			}
			if isUniqueViolation(err) {
				return domain.ErrDuplicateGatewayOrder
			}
			return fmt.Errorf("save order: %w", err)
		}

		if previous != "" && previous != string(domain.OrderStatusInitiated) {
			return r.insertEvent(txCtx, saved.MerchantOrderID, domain.OrderStatus(previous), saved.Status, "session", saved.UpdatedAt)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return saved, nil
}

// Transition is an optimistic compare-and-set on (status, version). The row is
// not locked while fn runs.
func (r *OrderRepository) Transition(ctx context.Context, merchantOrderID string, expected domain.OrderStatus, source string, fn app.TransitionFunc) (domain.Order, error) {
	const update = `
UPDATE orders SET
	status               = $3,
	transaction_id       = $4,
	bank_reference       = $5,
	channel_sub_id       = $6,
	error_code           = $7,
	error_message        = $8,
	updated_at           = $9,
	payment_completed_at = $10,
	version              = version + 1
WHERE merchant_order_id = $1 AND version = $2`

	var next domain.Order
	err := r.WithTx(ctx, func(txCtx context.Context) error {
		current, err := r.GetByMerchantOrderID(txCtx, merchantOrderID)
		if err != nil {
			return err
		}
		if current.Status != expected {
			return domain.ErrStaleTransition
		}

		next = current
		if err := fn(&next); err != nil {
			return err
		}

		tag, err := r.exec(txCtx, update,
			merchantOrderID, current.Version, string(next.Status),
			next.Payment.TransactionID, next.Payment.BankReference, next.Payment.ChannelSubID,
			next.Failure.Code, next.Failure.Message,
			next.UpdatedAt, next.PaymentCompletedAt,
		)
		if err != nil {
			return fmt.Errorf("transition order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrStaleTransition
		}
		next.Version = current.Version + 1

		if next.Status != current.Status {
			return r.insertEvent(txCtx, merchantOrderID, current.Status, next.Status, source, next.UpdatedAt)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return next, nil
}

func (r *OrderRepository) RecordNotification(ctx context.Context, merchantOrderID string, raw json.RawMessage) error {
	const stmt = `
UPDATE orders
SET notification_count = notification_count + 1, last_notification = $2::jsonb
WHERE merchant_order_id = $1`

	tag, err := r.exec(ctx, stmt, merchantOrderID, string(raw))
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) ListEvents(ctx context.Context, merchantOrderID string) ([]domain.OrderEvent, error) {
	const query = `
SELECT id, merchant_order_id, from_status, to_status, source, created_at
FROM order_events
WHERE merchant_order_id = $1
ORDER BY created_at, id`

	rows, err := r.query(ctx, query, merchantOrderID)
	if err != nil {
		return nil, fmt.Errorf("list order events: %w", err)
	}
	defer rows.Close()

	var events []domain.OrderEvent
	for rows.Next() {
		var e domain.OrderEvent
		var from, to string
		if err := rows.Scan(&e.ID, &e.MerchantOrderID, &from, &to, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		e.From = domain.OrderStatus(from)
		e.To = domain.OrderStatus(to)
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list order events: %w", err)
	}
	return events, nil
}

func (r *OrderRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *OrderRepository) insertEvent(ctx context.Context, merchantOrderID string, from, to domain.OrderStatus, source string, at time.Time) error {
	const stmt = `
INSERT INTO order_events (id, merchant_order_id, from_status, to_status, source, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.exec(ctx, stmt, uuid.NewString(), merchantOrderID, string(from), string(to), source, at); err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

func (r *OrderRepository) getOne(ctx context.Context, query string, arg string) (domain.Order, error) {
	o, err := scanOrder(r.queryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o                    domain.Order
		gatewayID, sessionID *string
		amount, status       string
		lastNotification     *string
	)
	err := row.Scan(
		&o.MerchantOrderID, &gatewayID, &sessionID, &amount, &o.Currency, &status,
		&o.Payment.TransactionID, &o.Payment.BankReference, &o.Payment.ChannelSubID,
		&o.Failure.Code, &o.Failure.Message,
		&o.Customer.ID, &o.Customer.Email, &o.Customer.Phone, &o.ReturnURL,
		&o.CreatedAt, &o.UpdatedAt, &o.PaymentInitiatedAt, &o.PaymentCompletedAt, &o.SessionExpiresAt,
		&lastNotification, &o.NotificationCount, &o.Version,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.Order{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	o.Status = domain.OrderStatus(status)
	if !o.Status.Valid() {
		return domain.Order{}, fmt.Errorf("order %s has unknown status %q", o.MerchantOrderID, status)
	}
	if gatewayID != nil {
		o.GatewayOrderID = *gatewayID
	}
	if sessionID != nil {
		o.PaymentSessionID = *sessionID
	}
	if lastNotification != nil {
		o.LastNotification = json.RawMessage(*lastNotification)
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	o.PaymentInitiatedAt = utcPtr(o.PaymentInitiatedAt)
	o.PaymentCompletedAt = utcPtr(o.PaymentCompletedAt)
	o.SessionExpiresAt = utcPtr(o.SessionExpiresAt)
	return o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (r *OrderRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *OrderRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}

func (r *OrderRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}
