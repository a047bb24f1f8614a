package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cimillas/paygate/internal/domain"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/cimillas/paygate/internal/gateway"
	defaultTimeout      = 20 * time.Second
	defaultAPIVersion   = "2023-08-01"
)

// Config holds the connection settings for the gateway REST API.
type Config struct {
	BaseURL    string
	AppID      string
	Secret     string
	APIVersion string
	Timeout    time.Duration
}

// HTTPClient implements Client over the gateway REST API. It never retries;
// retry policy belongs to the caller.
type HTTPClient struct {
	rc       *resty.Client
	logger   *slog.Logger
	tracer   trace.Tracer
	duration metric.Float64Histogram
}

func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if logger == nil {
		logger = slog.Default()
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("x-client-id", cfg.AppID).
		SetHeader("x-client-secret", cfg.Secret).
		SetHeader("x-api-version", cfg.APIVersion)

	meter := otel.Meter(instrumentationName)
	duration, err := meter.Float64Histogram("paygate.gateway.duration",
		metric.WithDescription("Latency of payment gateway calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("gateway duration histogram unavailable", "error", err)
	}

	return &HTTPClient{
		rc:       rc,
		logger:   logger.With("component", "gateway"),
		tracer:   otel.Tracer(instrumentationName),
		duration: duration,
	}
}

func (c *HTTPClient) GetStatus(ctx context.Context, gatewayOrderID string) (OrderState, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.GetStatus",
		trace.WithAttributes(attribute.String("gateway.order_id", gatewayOrderID)))
	defer span.End()

	var body OrderPayload
	_, err := c.do(ctx, "get_status", c.rc.R().
		SetContext(ctx).
		SetPathParam("id", gatewayOrderID).
		SetResult(&body).
		SetError(&apiError{}), http.MethodGet, "/orders/{id}")
	if err != nil {
		recordSpanError(span, err)
		return OrderState{}, err
	}

	return OrderState{
		GatewayOrderID: body.OrderID,
		Status:         strings.ToUpper(body.OrderStatus),
		Amount:         body.OrderAmount,
		Currency:       body.OrderCurrency,
	}, nil
}

func (c *HTTPClient) GetPaymentDetails(ctx context.Context, gatewayOrderID string) (PaymentDetails, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.GetPaymentDetails",
		trace.WithAttributes(attribute.String("gateway.order_id", gatewayOrderID)))
	defer span.End()

	var payments []PaymentPayload
	_, err := c.do(ctx, "get_payments", c.rc.R().
		SetContext(ctx).
		SetPathParam("id", gatewayOrderID).
		SetResult(&payments).
		SetError(&apiError{}), http.MethodGet, "/orders/{id}/payments")
	if err != nil {
		recordSpanError(span, err)
		return PaymentDetails{}, err
	}
	if len(payments) == 0 {
		return PaymentDetails{}, domain.ErrNotAttempted
	}
	return selectPayment(payments), nil
}

func (c *HTTPClient) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.CreateSession",
		trace.WithAttributes(attribute.String("merchant.order_id", req.MerchantOrderID)))
	defer span.End()

	payload := createOrderRequest{
		MerchantOrderID: req.MerchantOrderID,
		OrderAmount:     json.Number(req.Amount.StringFixed(2)),
		OrderCurrency:   req.Currency,
		CustomerDetails: customerDetails{
			CustomerID:    req.Customer.ID,
			CustomerEmail: req.Customer.Email,
			CustomerPhone: req.Customer.Phone,
		},
	}
	if req.ReturnURL != "" {
		payload.OrderMeta = &orderMeta{ReturnURL: req.ReturnURL}
	}
	if !req.ExpiresAt.IsZero() {
		payload.OrderExpiryTime = req.ExpiresAt.UTC().Format(time.RFC3339)
	}

	var body createOrderResponse
	_, err := c.do(ctx, "create_session", c.rc.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&body).
		SetError(&apiError{}), http.MethodPost, "/orders")
	if err != nil {
		recordSpanError(span, err)
		return Session{}, err
	}
	if body.OrderID == "" || body.PaymentSessionID == "" {
		err := fmt.Errorf("%w: create session: incomplete response", domain.ErrUpstreamUnavailable)
		recordSpanError(span, err)
		return Session{}, err
	}

	session := Session{
		GatewayOrderID:   body.OrderID,
		PaymentSessionID: body.PaymentSessionID,
		ExpiresAt:        req.ExpiresAt,
	}
	if t, err := time.Parse(time.RFC3339, body.OrderExpiryTime); err == nil {
		session.ExpiresAt = t.UTC()
	}
	return session, nil
}

func (c *HTTPClient) do(ctx context.Context, op string, req *resty.Request, method, url string) (*resty.Response, error) {
	start := time.Now()
	resp, err := req.Execute(method, url)
	elapsed := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode()
	}
	if c.duration != nil {
		c.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			attribute.String("operation", op),
			attribute.Int("status", status),
		))
	}

	if err != nil {
		c.logger.WarnContext(ctx, "gateway call failed", "operation", op, "duration", elapsed, "error", err)
		return resp, fmt.Errorf("%w: %s: %v", domain.ErrUpstreamUnavailable, op, err)
	}
	if resp.IsError() {
		detail := ""
		if apiErr, ok := resp.Error().(*apiError); ok && apiErr != nil {
			detail = apiErr.Message
		}
		c.logger.WarnContext(ctx, "gateway returned error", "operation", op, "status", status, "message", detail)
		return resp, fmt.Errorf("%w: %s: status %d", domain.ErrUpstreamUnavailable, op, status)
	}
	return resp, nil
}

// selectPayment prefers the first successful payment, otherwise the most
// recent attempt.
func selectPayment(payments []PaymentPayload) PaymentDetails {
	details := make([]PaymentDetails, 0, len(payments))
	for _, p := range payments {
		d := p.Details()
		if d.PaymentStatus == domain.GatewayPaymentSuccess {
			return d
		}
		details = append(details, d)
	}
	sort.SliceStable(details, func(i, j int) bool {
		return details[i].PaymentTime.After(details[j].PaymentTime)
	})
	return details[0]
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
