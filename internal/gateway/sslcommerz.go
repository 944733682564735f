package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// SSLCommerzAdapter speaks a card-acquirer API authenticated by basic store
// credentials sent with every request. Initialize opens a hosted session and
// returns the gateway page URL; verification goes through the validator API;
// refunds use a separate endpoint keyed by the bank transaction id.
type SSLCommerzAdapter struct {
	storeID     string
	storePasswd string
	sandbox     bool
	baseURL     string
	httpClient  *http.Client
}

const (
	sslcommerzSandboxURL    = "https://sandbox.sslcommerz.com"
	sslcommerzProductionURL = "https://securepay.sslcommerz.com"
)

var sslcommerzCurrencies = []string{"BDT", "USD", "EUR", "GBP"}

var sslcommerzStatusTable = map[string]Status{
	"VALID":               StatusCompleted,
	"VALIDATED":           StatusCompleted,
	"PENDING":             StatusPending,
	"UNATTEMPTED":         StatusPending,
	"FAILED":              StatusFailed,
	"CANCELLED":           StatusFailed,
	"EXPIRED":             StatusFailed,
	"INVALID_TRANSACTION": StatusFailed,
	"REFUNDED":            StatusRefunded,
}

func sslcommerzCanonicalStatus(s string) Status {
	if st, ok := sslcommerzStatusTable[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return st
	}
	return StatusUnknown
}

func NewSSLCommerzAdapter(cfg Config) (Adapter, error) {
	creds, err := cfg.require("sslcommerz", "store_id", "store_password")
	if err != nil {
		return nil, err
	}

	a := &SSLCommerzAdapter{
		storeID:     creds["store_id"],
		storePasswd: creds["store_password"],
		sandbox:     cfg.Sandbox,
		httpClient:  newHTTPClient(),
	}
	a.baseURL = sslcommerzProductionURL
	if cfg.Sandbox {
		a.baseURL = sslcommerzSandboxURL
	}
	if u := cfg.get("base_url"); u != "" {
		a.baseURL = strings.TrimRight(u, "/")
	}
	return a, nil
}

func (a *SSLCommerzAdapter) GatewayName() string { return "sslcommerz" }

func (a *SSLCommerzAdapter) IsConfigured() bool {
	return a.storeID != "" && a.storePasswd != ""
}

func (a *SSLCommerzAdapter) InitializePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if err := req.Validate(sslcommerzCurrencies); err != nil {
		return PaymentResult{}, err
	}

	fields := url.Values{}
	fields.Set("store_id", a.storeID)
	fields.Set("store_passwd", a.storePasswd)
	fields.Set("total_amount", formatAmount(req.AmountCents))
	fields.Set("currency", strings.ToUpper(req.Currency))
	fields.Set("tran_id", req.OrderID)
	fields.Set("success_url", req.ReturnURL)
	fields.Set("fail_url", req.ReturnURL)
	fields.Set("cancel_url", req.ReturnURL)
	fields.Set("ipn_url", req.NotifyURL)
	fields.Set("product_name", firstNonEmpty(req.Description, req.OrderID))
	fields.Set("product_category", "general")
	fields.Set("product_profile", "general")
	fields.Set("shipping_method", "NO")

	code, raw, err := postForm(ctx, a.httpClient, a.baseURL+"/gwprocess/v4/api.php", fields)
	if err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "sslcommerz", Op: "session initiate", Err: err}
	}

	var res struct {
		Status         string `json:"status"`
		FailedReason   string `json:"failedreason"`
		SessionKey     string `json:"sessionkey"`
		GatewayPageURL string `json:"GatewayPageURL"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "sslcommerz", Op: "session decode", Err: fmt.Errorf("http=%d: %w", code, err)}
	}

	if !strings.EqualFold(res.Status, "SUCCESS") || res.GatewayPageURL == "" {
		return PaymentResult{
			Success:  false,
			Message:  firstNonEmpty(res.FailedReason, "session rejected"),
			Data:     map[string]any{"provider_response": json.RawMessage(raw)},
			Status:   StatusFailed,
			HTTPCode: code,
		}, nil
	}

	return PaymentResult{
		Success:     true,
		Message:     "session created",
		Data:        map[string]any{"provider_response": json.RawMessage(raw), "session_key": res.SessionKey},
		PaymentID:   req.OrderID,
		RedirectURL: res.GatewayPageURL,
		AmountCents: req.AmountCents,
		Currency:    strings.ToUpper(req.Currency),
		Status:      StatusPending,
		HTTPCode:    code,
	}, nil
}

type sslcommerzValidationElement struct {
	Status      string `json:"status"`
	TranID      string `json:"tran_id"`
	ValID       string `json:"val_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	BankTranID  string `json:"bank_tran_id"`
	CardType    string `json:"card_type"`
	RiskLevel   string `json:"risk_level"`
	RiskTitle   string `json:"risk_title"`
	ErrorReason string `json:"error"`
}

func (a *SSLCommerzAdapter) VerifyPayment(ctx context.Context, paymentID string) (PaymentResult, error) {
	if strings.TrimSpace(paymentID) == "" {
		return PaymentResult{}, &ValidationError{Field: "payment_id", Reason: "must not be empty"}
	}

	q := url.Values{}
	q.Set("tran_id", paymentID)
	q.Set("store_id", a.storeID)
	q.Set("store_passwd", a.storePasswd)
	q.Set("format", "json")

	endpoint := a.baseURL + "/validator/api/merchantTransIDvalidationAPI.php?" + q.Encode()
	code, raw, err := getJSON(ctx, a.httpClient, endpoint, nil)
	if err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "sslcommerz", Op: "validate", Err: err}
	}

	var res struct {
		APIConnect string                        `json:"APIConnect"`
		NoOfTrans  int                           `json:"no_of_trans_found"`
		Element    []sslcommerzValidationElement `json:"element"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "sslcommerz", Op: "validate decode", Err: fmt.Errorf("http=%d: %w", code, err)}
	}

	if len(res.Element) == 0 {
		return PaymentResult{
			Success:  false,
			Message:  "transaction not found",
			Data:     map[string]any{"provider_response": json.RawMessage(raw)},
			Status:   StatusUnknown,
			HTTPCode: code,
		}, nil
	}

	// The validator returns every attempt for the transaction id; the first
	// element is the most recent.
	el := res.Element[0]
	status := sslcommerzCanonicalStatus(el.Status)

	return PaymentResult{
		Success:       status == StatusCompleted,
		Message:       firstNonEmpty(el.ErrorReason, el.Status),
		Data:          map[string]any{"provider_response": json.RawMessage(raw), "risk_level": el.RiskLevel},
		PaymentID:     firstNonEmpty(el.TranID, paymentID),
		TransactionID: el.BankTranID,
		AmountCents:   parseAmount(el.Amount),
		Currency:      el.Currency,
		Status:        status,
		HTTPCode:      code,
	}, nil
}

// GetPaymentStatus is the validator lookup; there is no separate endpoint.
func (a *SSLCommerzAdapter) GetPaymentStatus(ctx context.Context, paymentID string) (PaymentResult, error) {
	return a.VerifyPayment(ctx, paymentID)
}

// RefundPayment drives the acquirer's refund endpoint. The paymentID here is
// the bank transaction id returned by a successful validation.
func (a *SSLCommerzAdapter) RefundPayment(ctx context.Context, paymentID string, amountCents int64, reason string) (PaymentResult, error) {
	if strings.TrimSpace(paymentID) == "" {
		return PaymentResult{}, &ValidationError{Field: "payment_id", Reason: "must not be empty"}
	}
	if amountCents <= 0 {
		return PaymentResult{}, &ValidationError{Field: "amount_cents", Reason: "must be greater than zero"}
	}

	q := url.Values{}
	q.Set("bank_tran_id", paymentID)
	q.Set("refund_amount", formatAmount(amountCents))
	q.Set("refund_remarks", reason)
	q.Set("store_id", a.storeID)
	q.Set("store_passwd", a.storePasswd)
	q.Set("format", "json")

	endpoint := a.baseURL + "/validator/api/merchantTransIDvalidationAPI.php?" + q.Encode()
	code, raw, err := getJSON(ctx, a.httpClient, endpoint, nil)
	if err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "sslcommerz", Op: "refund", Err: err}
	}

	var res struct {
		APIConnect  string `json:"APIConnect"`
		Status      string `json:"status"`
		BankTranID  string `json:"bank_tran_id"`
		RefundRefID string `json:"refund_ref_id"`
		ErrorReason string `json:"errorReason"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return PaymentResult{}, &NetworkError{Gateway: "sslcommerz", Op: "refund decode", Err: fmt.Errorf("http=%d: %w", code, err)}
	}

	if !strings.EqualFold(res.Status, "success") {
		return PaymentResult{
			Success:  false,
			Message:  firstNonEmpty(res.ErrorReason, "refund rejected"),
			Data:     map[string]any{"provider_response": json.RawMessage(raw)},
			Status:   StatusFailed,
			HTTPCode: code,
		}, nil
	}

	return PaymentResult{
		Success:       true,
		Message:       "refund initiated",
		Data:          map[string]any{"provider_response": json.RawMessage(raw), "refund_ref_id": res.RefundRefID},
		PaymentID:     paymentID,
		TransactionID: firstNonEmpty(res.BankTranID, paymentID),
		AmountCents:   amountCents,
		Status:        StatusRefunded,
		HTTPCode:      code,
	}, nil
}
