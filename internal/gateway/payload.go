package gateway

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FlexString accepts a JSON string or number. The gateway sends payment ids
// as numbers in some API versions and strings in others.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// OrderPayload is the order object shared by the REST API and webhooks.
type OrderPayload struct {
	OrderID         string          `json:"order_id"`
	MerchantOrderID string          `json:"merchant_order_id,omitempty"`
	OrderStatus     string          `json:"order_status,omitempty"`
	OrderAmount     decimal.Decimal `json:"order_amount"`
	OrderCurrency   string          `json:"order_currency,omitempty"`
}

// PaymentPayload is the payment object shared by the REST API and webhooks.
type PaymentPayload struct {
	PaymentID     FlexString `json:"cf_payment_id"`
	TransactionID FlexString `json:"transaction_id"`
	PaymentStatus string     `json:"payment_status"`
	BankReference FlexString `json:"bank_reference"`
	PaymentTime   string     `json:"payment_time"`
	PaymentMethod struct {
		UPI *struct {
			UPITransactionID string `json:"upi_transaction_id"`
		} `json:"upi,omitempty"`
	} `json:"payment_method"`
	ErrorDetails *struct {
		ErrorCode        string `json:"error_code"`
		ErrorDescription string `json:"error_description"`
	} `json:"error_details,omitempty"`
}

// Details normalises the payload. transaction_id wins over cf_payment_id.
func (p PaymentPayload) Details() PaymentDetails {
	d := PaymentDetails{
		PaymentStatus: strings.ToUpper(strings.TrimSpace(p.PaymentStatus)),
		TransactionID: string(p.TransactionID),
		BankReference: string(p.BankReference),
	}
	if d.TransactionID == "" {
		d.TransactionID = string(p.PaymentID)
	}
	if p.PaymentMethod.UPI != nil {
		d.ChannelSubID = p.PaymentMethod.UPI.UPITransactionID
	}
	if p.ErrorDetails != nil {
		d.ErrorCode = p.ErrorDetails.ErrorCode
		d.ErrorMessage = p.ErrorDetails.ErrorDescription
	}
	if p.PaymentTime != "" {
		if t, err := time.Parse(time.RFC3339, p.PaymentTime); err == nil {
			d.PaymentTime = t.UTC()
		}
	}
	return d
}

type createOrderRequest struct {
	MerchantOrderID string          `json:"merchant_order_id"`
	OrderAmount     json.Number     `json:"order_amount"`
	OrderCurrency   string          `json:"order_currency"`
	CustomerDetails customerDetails `json:"customer_details"`
	OrderMeta       *orderMeta      `json:"order_meta,omitempty"`
	OrderExpiryTime string          `json:"order_expiry_time,omitempty"`
}

type customerDetails struct {
	CustomerID    string `json:"customer_id"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone"`
}

type orderMeta struct {
	ReturnURL string `json:"return_url,omitempty"`
}

type createOrderResponse struct {
	OrderID          string `json:"order_id"`
	PaymentSessionID string `json:"payment_session_id"`
	OrderExpiryTime  string `json:"order_expiry_time"`
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}
