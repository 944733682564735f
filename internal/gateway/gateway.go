package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status is the provider-agnostic payment status vocabulary. Every adapter
// maps its provider's own status strings onto this set; anything the adapter
// does not recognize maps to StatusUnknown, never to StatusCompleted.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusUnknown   Status = "unknown"
)

// RequestTimeout is the fixed per-call timeout for every outbound provider
// request. Exceeding it is a NetworkError; there is no mid-flight cancel.
const RequestTimeout = 30 * time.Second

const maxOrderIDLen = 50

// PaymentRequest carries everything an adapter needs to start a payment.
// Amounts are integer minor units (poisha/cents); there are no floats in
// the money path.
type PaymentRequest struct {
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	CallbackURL string `json:"callback_url,omitempty"`
	ReturnURL   string `json:"return_url,omitempty"`
	NotifyURL   string `json:"notify_url,omitempty"`
	Description string `json:"description,omitempty"`
}

// Validate checks the request shape before any network call. A failure here
// is a ValidationError and is never retried.
func (r PaymentRequest) Validate(allowedCurrencies []string) error {
	if strings.TrimSpace(r.OrderID) == "" {
		return &ValidationError{Field: "order_id", Reason: "must not be empty"}
	}
	if len(r.OrderID) > maxOrderIDLen {
		return &ValidationError{Field: "order_id", Reason: fmt.Sprintf("must be at most %d characters", maxOrderIDLen)}
	}
	if r.AmountCents <= 0 {
		return &ValidationError{Field: "amount_cents", Reason: "must be greater than zero"}
	}
	if len(allowedCurrencies) > 0 {
		ok := false
		for _, c := range allowedCurrencies {
			if strings.EqualFold(c, r.Currency) {
				ok = true
				break
			}
		}
		if !ok {
			return &ValidationError{Field: "currency", Reason: fmt.Sprintf("%q is not supported by this provider", r.Currency)}
		}
	}
	return nil
}

// PaymentResult is the normalized outcome of every adapter operation.
// Business rejections come back as Success=false with the provider's
// message; only transport-level faults surface as errors.
type PaymentResult struct {
	Success       bool           `json:"success"`
	Message       string         `json:"message,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	PaymentID     string         `json:"payment_id,omitempty"`
	RedirectURL   string         `json:"redirect_url,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	AmountCents   int64          `json:"amount_cents,omitempty"`
	Currency      string         `json:"currency,omitempty"`
	Status        Status         `json:"status"`
	HTTPCode      int            `json:"http_code,omitempty"`
}

// Adapter is the uniform contract every provider implementation satisfies.
// Configuration is validated at construction, request shape before any
// network call. All blocking operations take a context.
type Adapter interface {
	InitializePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)
	VerifyPayment(ctx context.Context, paymentID string) (PaymentResult, error)
	RefundPayment(ctx context.Context, paymentID string, amountCents int64, reason string) (PaymentResult, error)
	// GetPaymentStatus falls back to VerifyPayment for providers that do not
	// expose a distinct status endpoint.
	GetPaymentStatus(ctx context.Context, paymentID string) (PaymentResult, error)
	GatewayName() string
	IsConfigured() bool
}

// Config is a per-provider credential set. Adapters read their required keys
// eagerly in their constructors and fail with ConfigurationError on any
// missing or empty value.
type Config struct {
	Credentials map[string]string
	Sandbox     bool
}

func (c Config) get(key string) string {
	return strings.TrimSpace(c.Credentials[key])
}

// require returns the named credentials, failing on the first missing one.
func (c Config) require(gateway string, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v := c.get(k)
		if v == "" {
			return nil, &ConfigurationError{
				Gateway: gateway,
				Reason:  fmt.Sprintf("missing required credential %q", k),
			}
		}
		out[k] = v
	}
	return out, nil
}

// formatAmount renders minor units as the "123.45" decimal string most
// provider APIs expect.
func formatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
