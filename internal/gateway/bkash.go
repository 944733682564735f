package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// BkashAdapter speaks the tokenized checkout flow of a mobile-wallet
// provider: a session token from a grant endpoint with a TTL, then a
// create/execute two-step for each payment. The token is cached per adapter
// instance and refreshed ahead of expiry.
type BkashAdapter struct {
	appKey     string
	appSecret  string
	username   string
	password   string
	sandbox    bool
	baseURL    string
	httpClient *http.Client
	tokens     *TokenCache
}

const (
	bkashSandboxURL    = "https://tokenized.sandbox.bka.sh/v1.2.0-beta/tokenized"
	bkashProductionURL = "https://tokenized.pay.bka.sh/v1.2.0-beta/tokenized"

	bkashSuccessCode = "0000"
)

// bkashStatusTable is the exhaustive mapping from bKash transaction statuses
// to the canonical vocabulary. Anything absent maps to StatusUnknown.
var bkashStatusTable = map[string]Status{
	"Initiated":   StatusPending,
	"Pending":     StatusPending,
	"In Progress": StatusPending,
	"Completed":   StatusCompleted,
	"Cancelled":   StatusFailed,
	"Failed":      StatusFailed,
	"Expired":     StatusFailed,
	"Refunded":    StatusRefunded,
}

func bkashCanonicalStatus(s string) Status {
	if st, ok := bkashStatusTable[strings.TrimSpace(s)]; ok {
		return st
	}
	return StatusUnknown
}

// NewBkashAdapter validates the credential set eagerly; the adapter never
// reaches the network with incomplete config.
func NewBkashAdapter(cfg Config) (Adapter, error) {
	creds, err := cfg.require("bkash", "app_key", "app_secret", "username", "password")
	if err != nil {
		return nil, err
	}

	a := &BkashAdapter{
		appKey:     creds["app_key"],
		appSecret:  creds["app_secret"],
		username:   creds["username"],
		password:   creds["password"],
		sandbox:    cfg.Sandbox,
		httpClient: newHTTPClient(),
	}
	a.baseURL = bkashProductionURL
	if cfg.Sandbox {
		a.baseURL = bkashSandboxURL
	}
	if u := cfg.get("base_url"); u != "" {
		a.baseURL = strings.TrimRight(u, "/")
	}
	a.tokens = NewTokenCache(a.fetchToken, time.Now)
	return a, nil
}

func (a *BkashAdapter) GatewayName() string { return "bkash" }

func (a *BkashAdapter) IsConfigured() bool {
	return a.appKey != "" && a.appSecret != "" && a.username != "" && a.password != ""
}

func (a *BkashAdapter) fetchToken(ctx context.Context) (string, time.Time, error) {
	payload := map[string]string{
		"app_key":    a.appKey,
		"app_secret": a.appSecret,
	}
	headers := map[string]string{
		"username": a.username,
		"password": a.password,
	}

	code, raw, err := postJSON(ctx, a.httpClient, a.baseURL+"/checkout/token/grant", headers, payload)
	if err != nil {
		return "", time.Time{}, &NetworkError{Gateway: "bkash", Op: "token grant", Err: err}
	}

	var res struct {
		IDToken       string `json:"id_token"`
		TokenType     string `json:"token_type"`
		ExpiresIn     int64  `json:"expires_in"`
		StatusCode    string `json:"statusCode"`
		StatusMessage string `json:"statusMessage"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", time.Time{}, &NetworkError{Gateway: "bkash", Op: "token grant decode", Err: fmt.Errorf("http=%d: %w", code, err)}
	}
	if res.IDToken == "" {
		return "", time.Time{}, &NetworkError{Gateway: "bkash", Op: "token grant", Err: fmt.Errorf("http=%d status=%s %s", code, res.StatusCode, res.StatusMessage)}
	}

	ttl := time.Duration(res.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return res.IDToken, time.Now().Add(ttl), nil
}

func (a *BkashAdapter) authHeaders(ctx context.Context) (map[string]string, error) {
	token, err := a.tokens.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Authorization": token,
		"X-APP-Key":     a.appKey,
	}, nil
}

// bkashPaymentBody is the shared response shape of create/execute/query.
type bkashPaymentBody struct {
	PaymentID             string `json:"paymentID"`
	BkashURL              string `json:"bkashURL"`
	TrxID                 string `json:"trxID"`
	TransactionStatus     string `json:"transactionStatus"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	MerchantInvoiceNumber string `json:"merchantInvoiceNumber"`
	StatusCode            string `json:"statusCode"`
	StatusMessage         string `json:"statusMessage"`
}

func (b bkashPaymentBody) data(raw []byte) map[string]any {
	return map[string]any{
		"provider_response": json.RawMessage(raw),
		"status_code":       b.StatusCode,
	}
}

func (a *BkashAdapter) InitializePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if err := req.Validate([]string{"BDT"}); err != nil {
		return PaymentResult{}, err
	}

	headers, err := a.authHeaders(ctx)
	if err != nil {
		return PaymentResult{}, err
	}

	payload := map[string]string{
		"mode":                  "0011",
		"payerReference":        req.OrderID,
		"callbackURL":           req.CallbackURL,
		"amount":                formatAmount(req.AmountCents),
		"currency":              req.Currency,
		"intent":                "sale",
		"merchantInvoiceNumber": req.OrderID,
	}

	code, raw, err := postJSON(ctx, a.httpClient, a.baseURL+"/checkout/create", headers, payload)
	if err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "bkash", Op: "create payment", Err: err}
	}

	var res bkashPaymentBody
	if err := json.Unmarshal(raw, &res); err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "bkash", Op: "create payment decode", Err: fmt.Errorf("http=%d: %w", code, err)}
	}

	if res.StatusCode != bkashSuccessCode || res.PaymentID == "" {
		// Provider said no: duplicate invoice, limit exceeded, etc. That is
		// a business rejection, not an error.
		return PaymentResult{
			Success:  false,
			Message:  res.StatusMessage,
			Data:     res.data(raw),
			Status:   StatusFailed,
			HTTPCode: code,
		}, nil
	}

	return PaymentResult{
		Success:     true,
		Message:     "payment created",
		Data:        res.data(raw),
		PaymentID:   res.PaymentID,
		RedirectURL: res.BkashURL,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Status:      StatusPending,
		HTTPCode:    code,
	}, nil
}

// VerifyPayment executes the payment the customer approved on the wallet
// side, completing the two-step handshake.
func (a *BkashAdapter) VerifyPayment(ctx context.Context, paymentID string) (PaymentResult, error) {
	if strings.TrimSpace(paymentID) == "" {
		return PaymentResult{}, &ValidationError{Field: "payment_id", Reason: "must not be empty"}
	}

	headers, err := a.authHeaders(ctx)
	if err != nil {
		return PaymentResult{}, err
	}

	code, raw, err := postJSON(ctx, a.httpClient, a.baseURL+"/checkout/execute", headers, map[string]string{"paymentID": paymentID})
	if err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "bkash", Op: "execute payment", Err: err}
	}
	return a.normalize(paymentID, code, raw)
}

// GetPaymentStatus uses the distinct query endpoint, so an already-executed
// payment can be re-checked without re-driving the execute step.
func (a *BkashAdapter) GetPaymentStatus(ctx context.Context, paymentID string) (PaymentResult, error) {
	if strings.TrimSpace(paymentID) == "" {
		return PaymentResult{}, &ValidationError{Field: "payment_id", Reason: "must not be empty"}
	}

	headers, err := a.authHeaders(ctx)
	if err != nil {
		return PaymentResult{}, err
	}

	code, raw, err := postJSON(ctx, a.httpClient, a.baseURL+"/checkout/payment/status", headers, map[string]string{"paymentID": paymentID})
	if err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "bkash", Op: "payment status", Err: err}
	}
	return a.normalize(paymentID, code, raw)
}

func (a *BkashAdapter) RefundPayment(ctx context.Context, paymentID string, amountCents int64, reason string) (PaymentResult, error) {
	if strings.TrimSpace(paymentID) == "" {
		return PaymentResult{}, &ValidationError{Field: "payment_id", Reason: "must not be empty"}
	}
	if amountCents <= 0 {
		return PaymentResult{}, &ValidationError{Field: "amount_cents", Reason: "must be greater than zero"}
	}

	headers, err := a.authHeaders(ctx)
	if err != nil {
		return PaymentResult{}, err
	}

	payload := map[string]string{
		"paymentID": paymentID,
		"amount":    formatAmount(amountCents),
		"reason":    reason,
		"sku":       "refund",
	}

	code, raw, err := postJSON(ctx, a.httpClient, a.baseURL+"/checkout/payment/refund", headers, payload)
	if err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "bkash", Op: "refund payment", Err: err}
	}

	var res bkashPaymentBody
	if err := json.Unmarshal(raw, &res); err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "bkash", Op: "refund decode", Err: fmt.Errorf("http=%d: %w", code, err)}
	}

	refunded := strings.EqualFold(res.TransactionStatus, "Completed") || strings.EqualFold(res.TransactionStatus, "Refunded")
	if res.StatusCode != "" && res.StatusCode != bkashSuccessCode {
		refunded = false
	}
	if !refunded {
		return PaymentResult{
			Success:  false,
			Message:  firstNonEmpty(res.StatusMessage, "refund rejected"),
			Data:     res.data(raw),
			Status:   StatusFailed,
			HTTPCode: code,
		}, nil
	}

	return PaymentResult{
		Success:       true,
		Message:       "refund completed",
		Data:          res.data(raw),
		PaymentID:     paymentID,
		TransactionID: res.TrxID,
		AmountCents:   amountCents,
		Status:        StatusRefunded,
		HTTPCode:      code,
	}, nil
}

func (a *BkashAdapter) normalize(paymentID string, code int, raw []byte) (PaymentResult, error) {
	var res bkashPaymentBody
	if err := json.Unmarshal(raw, &res); err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "bkash", Op: "decode response", Err: fmt.Errorf("http=%d: %w", code, err)}
	}

	status := bkashCanonicalStatus(res.TransactionStatus)
	success := status == StatusCompleted

	msg := res.StatusMessage
	if msg == "" {
		msg = res.TransactionStatus
	}

	return PaymentResult{
		Success:       success,
		Message:       msg,
		Data:          res.data(raw),
		PaymentID:     firstNonEmpty(res.PaymentID, paymentID),
		TransactionID: res.TrxID,
		AmountCents:   parseAmount(res.Amount),
		Currency:      res.Currency,
		Status:        status,
		HTTPCode:      code,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseAmount converts a provider's "123.45" decimal string to minor units.
// Anything unparsable comes back as zero; amounts are advisory on reads.
func parseAmount(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}

	var cents int64
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0
		}
		cents = cents*10 + int64(r-'0')
	}
	if neg {
		cents = -cents
	}
	return cents
}
