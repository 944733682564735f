package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// NagadAdapter speaks a mobile-wallet API where every request is
// authenticated by an HMAC-SHA256 signature over a canonical field string,
// the same scheme the wallet uses to sign its own callbacks. Initialize is
// a single call returning a hosted checkout URL.
type NagadAdapter struct {
	merchantID  string
	merchantKey string
	sandbox     bool
	baseURL     string
	httpClient  *http.Client
}

const (
	nagadSandboxURL    = "https://sandbox.mynagad.com/api/dfs"
	nagadProductionURL = "https://api.mynagad.com/api/dfs"
)

var nagadStatusTable = map[string]Status{
	"OrderInitiated": StatusPending,
	"Ready":          StatusPending,
	"InProgress":     StatusPending,
	"Success":        StatusCompleted,
	"Aborted":        StatusFailed,
	"Failed":         StatusFailed,
	"Cancelled":      StatusFailed,
	"Refunded":       StatusRefunded,
	"PartialRefund":  StatusRefunded,
}

func nagadCanonicalStatus(s string) Status {
	if st, ok := nagadStatusTable[strings.TrimSpace(s)]; ok {
		return st
	}
	return StatusUnknown
}

func NewNagadAdapter(cfg Config) (Adapter, error) {
	creds, err := cfg.require("nagad", "merchant_id", "merchant_key")
	if err != nil {
		return nil, err
	}

	a := &NagadAdapter{
		merchantID:  creds["merchant_id"],
		merchantKey: creds["merchant_key"],
		sandbox:     cfg.Sandbox,
		httpClient:  newHTTPClient(),
	}
	a.baseURL = nagadProductionURL
	if cfg.Sandbox {
		a.baseURL = nagadSandboxURL
	}
	if u := cfg.get("base_url"); u != "" {
		a.baseURL = strings.TrimRight(u, "/")
	}
	return a, nil
}

func (a *NagadAdapter) GatewayName() string { return "nagad" }

func (a *NagadAdapter) IsConfigured() bool {
	return a.merchantID != "" && a.merchantKey != ""
}

// sign builds the canonical "k=v,k=v" string over sorted field pairs and
// returns its hex HMAC-SHA256. The wallet recomputes the same digest server
// side; any mutation of the signed fields fails the request.
func (a *NagadAdapter) sign(fields [][2]string) string {
	parts := make([]string, 0, len(fields))
	for _, kv := range fields {
		parts = append(parts, kv[0]+"="+kv[1])
	}
	mac := hmac.New(sha256.New, []byte(a.merchantKey))
	mac.Write([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *NagadAdapter) headers(signature string) map[string]string {
	return map[string]string{
		"X-KM-MERCHANT-ID": a.merchantID,
		"X-KM-Signature":   signature,
	}
}

type nagadResponse struct {
	Status           string `json:"status"`
	StatusMessage    string `json:"statusMessage"`
	PaymentRefID     string `json:"paymentRefId"`
	IssuerPaymentRef string `json:"issuerPaymentRef"`
	CallBackURL      string `json:"callBackUrl"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	OrderID          string `json:"orderId"`
}

func (n nagadResponse) data(raw []byte) map[string]any {
	return map[string]any{
		"provider_response": json.RawMessage(raw),
		"provider_status":   n.Status,
	}
}

func (a *NagadAdapter) InitializePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if err := req.Validate([]string{"BDT"}); err != nil {
		return PaymentResult{}, err
	}

	amount := formatAmount(req.AmountCents)
	signature := a.sign([][2]string{
		{"amount", amount},
		{"currency", req.Currency},
		{"merchant_id", a.merchantID},
		{"order_id", req.OrderID},
	})

	payload := map[string]string{
		"merchantId":             a.merchantID,
		"orderId":                req.OrderID,
		"amount":                 amount,
		"currency":               req.Currency,
		"merchantCallbackURL":    req.CallbackURL,
		"additionalMerchantInfo": req.Description,
	}

	url := fmt.Sprintf("%s/check-out/initialize/%s/%s", a.baseURL, a.merchantID, req.OrderID)
	code, raw, err := postJSON(ctx, a.httpClient, url, a.headers(signature), payload)
	if err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "nagad", Op: "initialize", Err: err}
	}

	var res nagadResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "nagad", Op: "initialize decode", Err: fmt.Errorf("http=%d: %w", code, err)}
	}

	if res.CallBackURL == "" || res.PaymentRefID == "" {
		return PaymentResult{
			Success:  false,
			Message:  firstNonEmpty(res.StatusMessage, "initialize rejected"),
			Data:     res.data(raw),
			Status:   StatusFailed,
			HTTPCode: code,
		}, nil
	}

	return PaymentResult{
		Success:     true,
		Message:     "payment initialized",
		Data:        res.data(raw),
		PaymentID:   res.PaymentRefID,
		RedirectURL: res.CallBackURL,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Status:      StatusPending,
		HTTPCode:    code,
	}, nil
}

func (a *NagadAdapter) VerifyPayment(ctx context.Context, paymentID string) (PaymentResult, error) {
	if strings.TrimSpace(paymentID) == "" {
		return PaymentResult{}, &ValidationError{Field: "payment_id", Reason: "must not be empty"}
	}

	signature := a.sign([][2]string{
		{"merchant_id", a.merchantID},
		{"payment_ref_id", paymentID},
	})

	url := fmt.Sprintf("%s/verify/payment/%s", a.baseURL, paymentID)
	code, raw, err := getJSON(ctx, a.httpClient, url, a.headers(signature))
	if err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "nagad", Op: "verify", Err: err}
	}

	var res nagadResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "nagad", Op: "verify decode", Err: fmt.Errorf("http=%d: %w", code, err)}
	}

	status := nagadCanonicalStatus(res.Status)
	return PaymentResult{
		Success:       status == StatusCompleted,
		Message:       firstNonEmpty(res.StatusMessage, res.Status),
		Data:          res.data(raw),
		PaymentID:     firstNonEmpty(res.PaymentRefID, paymentID),
		TransactionID: res.IssuerPaymentRef,
		AmountCents:   parseAmount(res.Amount),
		Currency:      res.Currency,
		Status:        status,
		HTTPCode:      code,
	}, nil
}

// GetPaymentStatus has no distinct endpoint on this wallet; it is verify.
func (a *NagadAdapter) GetPaymentStatus(ctx context.Context, paymentID string) (PaymentResult, error) {
	return a.VerifyPayment(ctx, paymentID)
}

func (a *NagadAdapter) RefundPayment(ctx context.Context, paymentID string, amountCents int64, reason string) (PaymentResult, error) {
	if strings.TrimSpace(paymentID) == "" {
		return PaymentResult{}, &ValidationError{Field: "payment_id", Reason: "must not be empty"}
	}
	if amountCents <= 0 {
		return PaymentResult{}, &ValidationError{Field: "amount_cents", Reason: "must be greater than zero"}
	}

	amount := formatAmount(amountCents)
	signature := a.sign([][2]string{
		{"amount", amount},
		{"merchant_id", a.merchantID},
		{"payment_ref_id", paymentID},
	})

	payload := map[string]string{
		"merchantId":   a.merchantID,
		"paymentRefId": paymentID,
		"amount":       amount,
		"message":      reason,
	}

	url := fmt.Sprintf("%s/purchase/refund/%s", a.baseURL, paymentID)
	code, raw, err := postJSON(ctx, a.httpClient, url, a.headers(signature), payload)
	if err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "nagad", Op: "refund", Err: err}
	}

	var res nagadResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "nagad", Op: "refund decode", Err: fmt.Errorf("http=%d: %w", code, err)}
	}

	status := nagadCanonicalStatus(res.Status)
	if status != StatusRefunded {
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
		TransactionID: res.IssuerPaymentRef,
		AmountCents:   amountCents,
		Status:        StatusRefunded,
		HTTPCode:      code,
	}, nil
}
