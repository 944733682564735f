package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSSLCommerzTestAdapter(t *testing.T, baseURL string) Adapter {
	t.Helper()
	adapter, err := NewSSLCommerzAdapter(Config{
		Credentials: map[string]string{
			"store_id":       "store1",
			"store_password": "pw",
			"base_url":       baseURL,
		},
		Sandbox: true,
	})
	require.NoError(t, err)
	return adapter
}

func TestSSLCommerzInitializePayment(t *testing.T) {
	req := PaymentRequest{
		OrderID:     "ORDER-1",
		AmountCents: 10050,
		Currency:    "usd",
		ReturnURL:   "https://merchant.example/return",
		NotifyURL:   "https://merchant.example/ipn",
	}

	t.Run("success returns gateway page", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "store1", r.PostForm.Get("store_id"))
			assert.Equal(t, "100.50", r.PostForm.Get("total_amount"))
			assert.Equal(t, "USD", r.PostForm.Get("currency"))
			assert.Equal(t, "ORDER-1", r.PostForm.Get("tran_id"))
			writeBody(w, map[string]any{
				"status":         "SUCCESS",
				"sessionkey":     "sess-1",
				"GatewayPageURL": "https://stub/gw/sess-1",
			})
		}))
		defer srv.Close()
		adapter := newSSLCommerzTestAdapter(t, srv.URL)

		res, err := adapter.InitializePayment(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, StatusPending, res.Status)
		assert.Equal(t, "https://stub/gw/sess-1", res.RedirectURL)
		assert.Equal(t, "USD", res.Currency)
	})

	t.Run("failed session is a rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeBody(w, map[string]any{
				"status":       "FAILED",
				"failedreason": "store credential invalid",
			})
		}))
		defer srv.Close()
		adapter := newSSLCommerzTestAdapter(t, srv.URL)

		res, err := adapter.InitializePayment(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, "store credential invalid", res.Message)
	})

	t.Run("unsupported currency rejected locally", func(t *testing.T) {
		adapter := newSSLCommerzTestAdapter(t, "http://unused")
		bad := req
		bad.Currency = "JPY"
		_, err := adapter.InitializePayment(context.Background(), bad)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestSSLCommerzVerifyPayment(t *testing.T) {
	t.Run("valid transaction completes", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "ORDER-1", r.URL.Query().Get("tran_id"))
			assert.Equal(t, "json", r.URL.Query().Get("format"))
			writeBody(w, map[string]any{
				"APIConnect":        "DONE",
				"no_of_trans_found": 1,
				"element": []map[string]any{{
					"status":       "VALID",
					"tran_id":      "ORDER-1",
					"bank_tran_id": "BANK-55",
					"amount":       "100.50",
					"currency":     "USD",
					"risk_level":   "0",
				}},
			})
		}))
		defer srv.Close()
		adapter := newSSLCommerzTestAdapter(t, srv.URL)

		res, err := adapter.VerifyPayment(context.Background(), "ORDER-1")
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, StatusCompleted, res.Status)
		assert.Equal(t, "BANK-55", res.TransactionID)
		assert.Equal(t, int64(10050), res.AmountCents)
	})

	t.Run("most recent attempt wins", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeBody(w, map[string]any{
				"no_of_trans_found": 2,
				"element": []map[string]any{
					{"status": "FAILED", "tran_id": "ORDER-1"},
					{"status": "VALID", "tran_id": "ORDER-1"},
				},
			})
		}))
		defer srv.Close()
		adapter := newSSLCommerzTestAdapter(t, srv.URL)

		res, err := adapter.VerifyPayment(context.Background(), "ORDER-1")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, StatusFailed, res.Status)
	})

	t.Run("no transaction found maps to unknown", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeBody(w, map[string]any{
				"no_of_trans_found": 0,
				"element":           []map[string]any{},
			})
		}))
		defer srv.Close()
		adapter := newSSLCommerzTestAdapter(t, srv.URL)

		res, err := adapter.VerifyPayment(context.Background(), "ORDER-MISSING")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, StatusUnknown, res.Status)
	})
}

func TestSSLCommerzRefundPayment(t *testing.T) {
	t.Run("refund initiated by bank transaction id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "BANK-55", r.URL.Query().Get("bank_tran_id"))
			assert.Equal(t, "40.00", r.URL.Query().Get("refund_amount"))
			writeBody(w, map[string]any{
				"APIConnect":    "DONE",
				"status":        "success",
				"bank_tran_id":  "BANK-55",
				"refund_ref_id": "REF-9",
			})
		}))
		defer srv.Close()
		adapter := newSSLCommerzTestAdapter(t, srv.URL)

		res, err := adapter.RefundPayment(context.Background(), "BANK-55", 4000, "customer request")
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, StatusRefunded, res.Status)
		assert.Equal(t, "BANK-55", res.TransactionID)
	})

	t.Run("refused refund", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeBody(w, map[string]any{
				"status":      "failed",
				"errorReason": "refund already processed",
			})
		}))
		defer srv.Close()
		adapter := newSSLCommerzTestAdapter(t, srv.URL)

		res, err := adapter.RefundPayment(context.Background(), "BANK-55", 4000, "customer request")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, "refund already processed", res.Message)
	})
}
