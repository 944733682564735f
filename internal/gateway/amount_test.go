package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{100, "1.00"},
		{10050, "100.50"},
		{123456789, "1234567.89"},
		{-10050, "-100.50"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, formatAmount(tc.cents), "formatAmount(%d)", tc.cents)
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"100.50", 10050},
		{"100.5", 10050},
		{"100", 10000},
		{"0.05", 5},
		{"100.509", 10050},
		{"-100.50", -10050},
		{"", 0},
		{"garbage", 0},
		{"1,000.00", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseAmount(tc.in), "parseAmount(%q)", tc.in)
	}
}

func TestPaymentRequestValidate(t *testing.T) {
	valid := PaymentRequest{OrderID: "ORDER1", AmountCents: 10050, Currency: "BDT"}

	t.Run("valid request passes", func(t *testing.T) {
		assert.NoError(t, valid.Validate([]string{"BDT"}))
	})

	t.Run("currency match is case-insensitive", func(t *testing.T) {
		req := valid
		req.Currency = "bdt"
		assert.NoError(t, req.Validate([]string{"BDT"}))
	})

	t.Run("empty order id rejected", func(t *testing.T) {
		req := valid
		req.OrderID = "  "
		var verr *ValidationError
		assert.ErrorAs(t, req.Validate(nil), &verr)
	})

	t.Run("overlong order id rejected", func(t *testing.T) {
		req := valid
		for len(req.OrderID) <= maxOrderIDLen {
			req.OrderID += "X"
		}
		assert.Error(t, req.Validate(nil))
	})

	t.Run("non-positive amount rejected", func(t *testing.T) {
		req := valid
		req.AmountCents = 0
		assert.Error(t, req.Validate(nil))
		req.AmountCents = -1
		assert.Error(t, req.Validate(nil))
	})

	t.Run("unsupported currency rejected", func(t *testing.T) {
		req := valid
		req.Currency = "USD"
		assert.Error(t, req.Validate([]string{"BDT"}))
	})
}

func TestCanonicalStatusTables(t *testing.T) {
	t.Run("bkash", func(t *testing.T) {
		assert.Equal(t, StatusPending, bkashCanonicalStatus("Initiated"))
		assert.Equal(t, StatusPending, bkashCanonicalStatus("In Progress"))
		assert.Equal(t, StatusCompleted, bkashCanonicalStatus("Completed"))
		assert.Equal(t, StatusFailed, bkashCanonicalStatus("Cancelled"))
		assert.Equal(t, StatusFailed, bkashCanonicalStatus("Expired"))
		assert.Equal(t, StatusRefunded, bkashCanonicalStatus("Refunded"))
		assert.Equal(t, StatusUnknown, bkashCanonicalStatus("SomethingNew"))
		assert.Equal(t, StatusUnknown, bkashCanonicalStatus(""))
	})

	t.Run("nagad", func(t *testing.T) {
		assert.Equal(t, StatusPending, nagadCanonicalStatus("OrderInitiated"))
		assert.Equal(t, StatusCompleted, nagadCanonicalStatus("Success"))
		assert.Equal(t, StatusFailed, nagadCanonicalStatus("Aborted"))
		assert.Equal(t, StatusRefunded, nagadCanonicalStatus("PartialRefund"))
		assert.Equal(t, StatusUnknown, nagadCanonicalStatus("Weird"))
	})

	t.Run("sslcommerz", func(t *testing.T) {
		assert.Equal(t, StatusCompleted, sslcommerzCanonicalStatus("VALID"))
		assert.Equal(t, StatusCompleted, sslcommerzCanonicalStatus("valid"))
		assert.Equal(t, StatusPending, sslcommerzCanonicalStatus("UNATTEMPTED"))
		assert.Equal(t, StatusFailed, sslcommerzCanonicalStatus("EXPIRED"))
		assert.Equal(t, StatusRefunded, sslcommerzCanonicalStatus("REFUNDED"))
		assert.Equal(t, StatusUnknown, sslcommerzCanonicalStatus("NOVEL"))
	})
}
