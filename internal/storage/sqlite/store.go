// Package sqlite is the Order Store on an embedded SQLite database, for
// single-node deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cimillas/paygate/internal/app"
	"github.com/cimillas/paygate/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

const orderColumns = `merchant_order_id, gateway_order_id, payment_session_id, amount, currency, status,
	transaction_id, bank_reference, channel_sub_id, error_code, error_message,
	customer_id, customer_email, customer_phone, return_url,
	created_at, updated_at, payment_initiated_at, payment_completed_at, session_expires_at,
	last_notification, notification_count, version`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
}

var _ app.OrderStore = (*Store)(nil)

// Open opens the database at path (":memory:" allowed) with a single
// connection, so transactions serialize.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

func (s *Store) GetByMerchantOrderID(ctx context.Context, merchantOrderID string) (domain.Order, error) {
	return getOne(ctx, s.db, `SELECT `+orderColumns+` FROM orders WHERE merchant_order_id = ?`, merchantOrderID)
}

func (s *Store) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	return getOne(ctx, s.db, `SELECT `+orderColumns+` FROM orders WHERE gateway_order_id = ?`, gatewayOrderID)
}

func (s *Store) GetBySessionID(ctx context.Context, sessionID string) (domain.Order, error) {
	return getOne(ctx, s.db, `SELECT `+orderColumns+` FROM orders WHERE payment_session_id = ? ORDER BY updated_at DESC LIMIT 1`, sessionID)
}

func (s *Store) Save(ctx context.Context, o domain.Order) (domain.Order, error) {
	var saved domain.Order
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getOne(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE merchant_order_id = ?`, o.MerchantOrderID)
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			_, err = tx.ExecContext(ctx, `
INSERT INTO orders (
	merchant_order_id, gateway_order_id, payment_session_id, amount, currency, status,
	customer_id, customer_email, customer_phone, return_url,
	created_at, updated_at, payment_initiated_at, session_expires_at, version
) VALUES (?, ?, ?, ?, ?, 'initiated', ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
				o.MerchantOrderID, nullString(o.GatewayOrderID), nullString(o.PaymentSessionID),
				o.Amount.StringFixed(2), o.Currency,
				o.Customer.ID, o.Customer.Email, o.Customer.Phone, o.ReturnURL,
				formatTime(o.CreatedAt), formatTime(o.CreatedAt),
				formatTimePtr(o.PaymentInitiatedAt), formatTimePtr(o.SessionExpiresAt),
			)
		case err != nil:
			return err
		case existing.Status == domain.OrderStatusPaid || existing.Status == domain.OrderStatusRefunded:
			return domain.ErrOrderAlreadyPaid
		default:
			gatewayID := existing.GatewayOrderID
			if gatewayID == "" {
				gatewayID = o.GatewayOrderID
			}
			_, err = tx.ExecContext(ctx, `
UPDATE orders SET
	gateway_order_id = ?, payment_session_id = ?, amount = ?, currency = ?, status = 'initiated',
	error_code = '', error_message = '',
	customer_id = ?, customer_email = ?, customer_phone = ?, return_url = ?,
	updated_at = ?, payment_initiated_at = ?, session_expires_at = ?, version = version + 1
WHERE merchant_order_id = ?`,
				nullString(gatewayID), nullString(o.PaymentSessionID), o.Amount.StringFixed(2), o.Currency,
				o.Customer.ID, o.Customer.Email, o.Customer.Phone, o.ReturnURL,
				formatTime(o.CreatedAt), formatTimePtr(o.PaymentInitiatedAt), formatTimePtr(o.SessionExpiresAt),
				o.MerchantOrderID,
			)
			if err == nil && existing.Status != domain.OrderStatusInitiated {
				err = insertEvent(ctx, tx, o.MerchantOrderID, existing.Status, domain.OrderStatusInitiated, "session", o.CreatedAt)
			}
		}
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateGatewayOrder
			}
			return fmt.Errorf("save order: %w", err)
		}

		saved, err = getOne(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE merchant_order_id = ?`, o.MerchantOrderID)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	return saved, nil
}

func (s *Store) Transition(ctx context.Context, merchantOrderID string, expected domain.OrderStatus, source string, fn app.TransitionFunc) (domain.Order, error) {
	var next domain.Order
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getOne(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE merchant_order_id = ?`, merchantOrderID)
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

		res, err := tx.ExecContext(ctx, `
UPDATE orders SET
	status = ?, transaction_id = ?, bank_reference = ?, channel_sub_id = ?,
	error_code = ?, error_message = ?, updated_at = ?, payment_completed_at = ?,
	version = version + 1
WHERE merchant_order_id = ? AND version = ?`,
			string(next.Status), next.Payment.TransactionID, next.Payment.BankReference, next.Payment.ChannelSubID,
			next.Failure.Code, next.Failure.Message, formatTime(next.UpdatedAt), formatTimePtr(next.PaymentCompletedAt),
			merchantOrderID, current.Version,
		)
		if err != nil {
			return fmt.Errorf("transition order: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("transition order: %w", err)
		}
		if n == 0 {
			return domain.ErrStaleTransition
		}
		next.Version = current.Version + 1

		if next.Status != current.Status {
			return insertEvent(ctx, tx, merchantOrderID, current.Status, next.Status, source, next.UpdatedAt)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return next, nil
}

func (s *Store) RecordNotification(ctx context.Context, merchantOrderID string, raw json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET notification_count = notification_count + 1, last_notification = ? WHERE merchant_order_id = ?`,
		string(raw), merchantOrderID)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	if n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, merchantOrderID string) ([]domain.OrderEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, merchant_order_id, from_status, to_status, source, created_at
FROM order_events
WHERE merchant_order_id = ?
ORDER BY created_at, rowid`, merchantOrderID)
	if err != nil {
		return nil, fmt.Errorf("list order events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []domain.OrderEvent
	for rows.Next() {
		var e domain.OrderEvent
		var from, to, created string
		if err := rows.Scan(&e.ID, &e.MerchantOrderID, &from, &to, &e.Source, &created); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		e.From = domain.OrderStatus(from)
		e.To = domain.OrderStatus(to)
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list order events: %w", err)
	}
	return events, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, q querier, merchantOrderID string, from, to domain.OrderStatus, source string, at time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO order_events (id, merchant_order_id, from_status, to_status, source, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), merchantOrderID, string(from), string(to), source, formatTime(at))
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

func getOne(ctx context.Context, q querier, query string, arg string) (domain.Order, error) {
	var (
		o                                   domain.Order
		gatewayID, sessionID, notification  sql.NullString
		initiatedAt, completedAt, expiresAt sql.NullString
		amount, status, created, updated    string
	)
	err := q.QueryRowContext(ctx, query, arg).Scan(
		&o.MerchantOrderID, &gatewayID, &sessionID, &amount, &o.Currency, &status,
		&o.Payment.TransactionID, &o.Payment.BankReference, &o.Payment.ChannelSubID,
		&o.Failure.Code, &o.Failure.Message,
		&o.Customer.ID, &o.Customer.Email, &o.Customer.Phone, &o.ReturnURL,
		&created, &updated, &initiatedAt, &completedAt, &expiresAt,
		&notification, &o.NotificationCount, &o.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}

	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Order{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	o.Status = domain.OrderStatus(status)
	if !o.Status.Valid() {
		return domain.Order{}, fmt.Errorf("order %s has unknown status %q", o.MerchantOrderID, status)
	}
	o.GatewayOrderID = gatewayID.String
	o.PaymentSessionID = sessionID.String
	if notification.Valid {
		o.LastNotification = json.RawMessage(notification.String)
	}
	if o.CreatedAt, err = parseTime(created); err != nil {
		return domain.Order{}, err
	}
	if o.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Order{}, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{initiatedAt, &o.PaymentInitiatedAt},
		{completedAt, &o.PaymentCompletedAt},
		{expiresAt, &o.SessionExpiresAt},
	} {
		if !f.src.Valid {
			continue
		}
		t, err := parseTime(f.src.String)
		if err != nil {
			return domain.Order{}, err
		}
		*f.dst = &t
	}
	return o, nil
}

// timeLayout keeps nine fractional digits so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
