package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want TransitionRule
	}{
		{OrderStatusInitiated, OrderStatusPending, TransitionApply},
		{OrderStatusInitiated, OrderStatusPaid, TransitionApply},
		{OrderStatusInitiated, OrderStatusFailed, TransitionApply},
		{OrderStatusPending, OrderStatusPaid, TransitionApply},
		{OrderStatusPending, OrderStatusFailed, TransitionApply},
		{OrderStatusPending, OrderStatusPending, TransitionIgnore},
		{OrderStatusPaid, OrderStatusRefunded, TransitionApply},
		{OrderStatusInitiated, OrderStatusCancelled, TransitionApply},
		{OrderStatusPending, OrderStatusCancelled, TransitionApply},
		{OrderStatusPaid, OrderStatusCancelled, TransitionApply},
		{OrderStatusFailed, OrderStatusCancelled, TransitionApply},
		{OrderStatusRefunded, OrderStatusCancelled, TransitionApply},
		{OrderStatusCancelled, OrderStatusCancelled, TransitionIgnore},

		{OrderStatusPaid, OrderStatusFailed, TransitionIgnore},
		{OrderStatusPaid, OrderStatusPaid, TransitionIgnore},
		{OrderStatusPaid, OrderStatusPending, TransitionIgnore},
		{OrderStatusFailed, OrderStatusPaid, TransitionIgnore},
		{OrderStatusCancelled, OrderStatusPaid, TransitionIgnore},
		{OrderStatusRefunded, OrderStatusPaid, TransitionIgnore},
		{OrderStatusRefunded, OrderStatusFailed, TransitionIgnore},
		{OrderStatusInitiated, OrderStatusRefunded, TransitionIgnore},
		{OrderStatusFailed, OrderStatusRefunded, TransitionIgnore},

		{OrderStatusPending, OrderStatusInitiated, TransitionReject},
		{OrderStatusPaid, OrderStatusInitiated, TransitionReject},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Decide(tt.from, tt.to))
		})
	}
}

func TestOrderApply(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("paid sets completion once and merges evidence", func(t *testing.T) {
		o := Order{
			Status:  OrderStatusPending,
			Amount:  decimal.NewFromInt(500),
			Payment: PaymentEvidence{BankReference: "bank-1"},
		}
		o.Apply(OrderStatusPaid, Evidence{
			Payment: PaymentEvidence{TransactionID: "txn-1"},
			Amount:  decimal.NewFromInt(1),
		}, now)

		require.NotNil(t, o.PaymentCompletedAt)
		assert.Equal(t, now, *o.PaymentCompletedAt)
		assert.Equal(t, "txn-1", o.Payment.TransactionID)
		assert.Equal(t, "bank-1", o.Payment.BankReference)
		assert.True(t, decimal.NewFromInt(500).Equal(o.Amount))

		o.Apply(OrderStatusPaid, Evidence{}, now.Add(time.Hour))
		assert.Equal(t, now, *o.PaymentCompletedAt)
		assert.Equal(t, "txn-1", o.Payment.TransactionID)
	})

	t.Run("failed records failure evidence only", func(t *testing.T) {
		o := Order{Status: OrderStatusInitiated}
		o.Apply(OrderStatusFailed, Evidence{
			Payment: PaymentEvidence{TransactionID: "ignored"},
			Failure: FailureEvidence{Code: "BANK_DECLINED", Message: "declined"},
		}, now)

		assert.Equal(t, OrderStatusFailed, o.Status)
		assert.Equal(t, "BANK_DECLINED", o.Failure.Code)
		assert.True(t, o.Payment.Empty())
		assert.Nil(t, o.PaymentCompletedAt)
	})
}

func TestValidateOrderID(t *testing.T) {
	t.Parallel()

	valid := []string{"ORD123", "abc", "order_2025-01", "A12345678901234567890123456789012345678901234567890"[:50]}
	for _, id := range valid {
		assert.NoError(t, ValidateOrderID(id), id)
	}

	invalid := []string{"", "ab", "has space", "semi;colon", "ünïcode", string(make([]byte, 51))}
	for _, id := range invalid {
		assert.ErrorIs(t, ValidateOrderID(id), ErrInvalidOrderID, id)
	}
}

func TestValidateAmount(t *testing.T) {
	t.Parallel()

	limit := decimal.NewFromInt(1000000)

	assert.NoError(t, ValidateAmount(decimal.RequireFromString("500"), limit))
	assert.NoError(t, ValidateAmount(decimal.RequireFromString("0.01"), limit))
	assert.NoError(t, ValidateAmount(decimal.RequireFromString("12.50"), limit))

	assert.ErrorIs(t, ValidateAmount(decimal.Zero, limit), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(decimal.RequireFromString("-1"), limit), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(decimal.RequireFromString("1.005"), limit), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(decimal.RequireFromString("1000000.01"), limit), ErrInvalidAmount)
}

func TestValidateCurrency(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateCurrency("INR", "INR"))
	assert.NoError(t, ValidateCurrency(" inr ", "INR"))
	assert.ErrorIs(t, ValidateCurrency("USD", "INR"), ErrUnsupportedCurrency)
}
