package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paygate/internal/gateway"
	"paygate/internal/kv"
	"paygate/internal/orchestrator"
	"paygate/internal/payment"
	"paygate/internal/security"
)

// stubAdapter returns canned results so the orchestration path can be
// exercised without a provider.
type stubAdapter struct {
	name        string
	initResult  gateway.PaymentResult
	initErr     error
	verifyCalls int
	verify      gateway.PaymentResult
	verifyErr   error
	refund      gateway.PaymentResult
	refundErr   error
	status      gateway.PaymentResult
}

func (s *stubAdapter) InitializePayment(ctx context.Context, req gateway.PaymentRequest) (gateway.PaymentResult, error) {
	return s.initResult, s.initErr
}

func (s *stubAdapter) VerifyPayment(ctx context.Context, paymentID string) (gateway.PaymentResult, error) {
	s.verifyCalls++
	return s.verify, s.verifyErr
}

func (s *stubAdapter) RefundPayment(ctx context.Context, paymentID string, amountCents int64, reason string) (gateway.PaymentResult, error) {
	return s.refund, s.refundErr
}

func (s *stubAdapter) GetPaymentStatus(ctx context.Context, paymentID string) (gateway.PaymentResult, error) {
	return s.status, nil
}

func (s *stubAdapter) GatewayName() string { return s.name }
func (s *stubAdapter) IsConfigured() bool  { return true }

type fixture struct {
	orch    *orchestrator.Orchestrator
	adapter *stubAdapter
	now     *time.Time
}

func newFixture(t *testing.T, policy orchestrator.RateLimitPolicy) *fixture {
	t.Helper()
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := kv.NewMemoryStoreWithClock(clock)
	logger := zap.NewNop().Sugar()
	guard := security.NewGuard(store, logger, "secret", security.DefaultFraudConfig()).WithClock(clock)

	adapter := &stubAdapter{name: "stubpay"}
	registry := gateway.NewRegistry(logger)
	require.NoError(t, registry.Register("stubpay", func(cfg gateway.Config) (gateway.Adapter, error) {
		return adapter, nil
	}))
	_, err := registry.Create("stubpay", gateway.Config{})
	require.NoError(t, err)

	return &fixture{
		orch:    orchestrator.New(registry, guard, logger, policy),
		adapter: adapter,
		now:     &now,
	}
}

func validRequest() gateway.PaymentRequest {
	return gateway.PaymentRequest{
		OrderID:     "ORDER-1",
		AmountCents: 10050,
		Currency:    "BDT",
		CallbackURL: "https://merchant.example/cb",
	}
}

func TestInitialize(t *testing.T) {
	t.Run("success carries provider identity", func(t *testing.T) {
		f := newFixture(t, orchestrator.DefaultRateLimitPolicy())
		f.adapter.initResult = gateway.PaymentResult{
			Success:     true,
			PaymentID:   "TR001",
			RedirectURL: "https://stub/pay",
			Status:      gateway.StatusPending,
		}

		res, err := f.orch.Initialize(context.Background(), "stubpay", validRequest(), orchestrator.RequestMeta{})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, gateway.StatusPending, res.Status)
		assert.Equal(t, "stubpay", res.Data["provider"])
		assert.Equal(t, "initialize", res.Data["operation"])
	})

	t.Run("business rejection passes through unerrored", func(t *testing.T) {
		f := newFixture(t, orchestrator.DefaultRateLimitPolicy())
		f.adapter.initResult = gateway.PaymentResult{
			Success: false,
			Message: "duplicate invoice",
			Status:  gateway.StatusFailed,
		}

		res, err := f.orch.Initialize(context.Background(), "stubpay", validRequest(), orchestrator.RequestMeta{})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "duplicate invoice", res.Message)
	})

	t.Run("empty provider is a validation error", func(t *testing.T) {
		f := newFixture(t, orchestrator.DefaultRateLimitPolicy())
		_, err := f.orch.Initialize(context.Background(), "  ", validRequest(), orchestrator.RequestMeta{})
		var verr *gateway.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("unconfigured provider is a configuration error", func(t *testing.T) {
		f := newFixture(t, orchestrator.DefaultRateLimitPolicy())
		_, err := f.orch.Initialize(context.Background(), "ghostpay", validRequest(), orchestrator.RequestMeta{})
		var cerr *gateway.ConfigurationError
		assert.ErrorAs(t, err, &cerr)
	})

	t.Run("network error surfaces without retry", func(t *testing.T) {
		f := newFixture(t, orchestrator.DefaultRateLimitPolicy())
		f.adapter.initErr = &gateway.NetworkError{Gateway: "stubpay", Op: "create", Err: errors.New("connection refused")}

		_, err := f.orch.Initialize(context.Background(), "stubpay", validRequest(), orchestrator.RequestMeta{})
		var nerr *gateway.NetworkError
		assert.ErrorAs(t, err, &nerr)
	})

	t.Run("malformed request never charges the rate limiter", func(t *testing.T) {
		f := newFixture(t, orchestrator.RateLimitPolicy{MaxAttempts: 1, Window: time.Minute})
		f.adapter.initResult = gateway.PaymentResult{Success: true, Status: gateway.StatusPending}

		bad := validRequest()
		bad.AmountCents = 0
		_, err := f.orch.Initialize(context.Background(), "stubpay", bad, orchestrator.RequestMeta{})
		var verr *gateway.ValidationError
		require.ErrorAs(t, err, &verr)

		// The single budgeted attempt for this order is still available.
		_, err = f.orch.Initialize(context.Background(), "stubpay", validRequest(), orchestrator.RequestMeta{})
		require.NoError(t, err)
	})

	t.Run("out-of-vocabulary status folds to unknown", func(t *testing.T) {
		f := newFixture(t, orchestrator.DefaultRateLimitPolicy())
		f.adapter.initResult = gateway.PaymentResult{Success: false, Status: gateway.Status("weird")}

		res, err := f.orch.Initialize(context.Background(), "stubpay", validRequest(), orchestrator.RequestMeta{})
		require.NoError(t, err)
		assert.Equal(t, gateway.StatusUnknown, res.Status)
	})
}

func TestRateLimiting(t *testing.T) {
	f := newFixture(t, orchestrator.RateLimitPolicy{MaxAttempts: 3, Window: time.Minute})
	f.adapter.verify = gateway.PaymentResult{Success: true, Status: gateway.StatusCompleted}

	for i := 0; i < 3; i++ {
		_, err := f.orch.Verify(context.Background(), "stubpay", "TR001", orchestrator.RequestMeta{})
		require.NoError(t, err)
	}

	_, err := f.orch.Verify(context.Background(), "stubpay", "TR001", orchestrator.RequestMeta{})
	var serr *gateway.SecurityError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "rate limit exceeded", serr.Reason)
	assert.Equal(t, 3, f.adapter.verifyCalls, "refused attempt must not reach the adapter")

	// A different identifier has its own window.
	_, err = f.orch.Verify(context.Background(), "stubpay", "TR002", orchestrator.RequestMeta{})
	require.NoError(t, err)

	// The original identifier recovers once the window lapses.
	*f.now = f.now.Add(2 * time.Minute)
	_, err = f.orch.Verify(context.Background(), "stubpay", "TR001", orchestrator.RequestMeta{})
	require.NoError(t, err)
}

func TestRefund(t *testing.T) {
	t.Run("valid refund reaches the adapter", func(t *testing.T) {
		f := newFixture(t, orchestrator.DefaultRateLimitPolicy())
		f.adapter.refund = gateway.PaymentResult{
			Success:       true,
			TransactionID: "RF1",
			Status:        gateway.StatusRefunded,
		}

		p := &payment.Payment{Status: payment.StatusCompleted, AmountCents: 10050}
		res, err := f.orch.Refund(context.Background(), "stubpay", "TR001", 4000, "damaged goods", p, orchestrator.RequestMeta{})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, gateway.StatusRefunded, res.Status)
	})

	t.Run("non-positive amount rejected", func(t *testing.T) {
		f := newFixture(t, orchestrator.DefaultRateLimitPolicy())
		_, err := f.orch.Refund(context.Background(), "stubpay", "TR001", 0, "reason", nil, orchestrator.RequestMeta{})
		var verr *gateway.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("empty reason rejected", func(t *testing.T) {
		f := newFixture(t, orchestrator.DefaultRateLimitPolicy())
		_, err := f.orch.Refund(context.Background(), "stubpay", "TR001", 4000, "  ", nil, orchestrator.RequestMeta{})
		var verr *gateway.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("over-refund rejected before any network call", func(t *testing.T) {
		f := newFixture(t, orchestrator.DefaultRateLimitPolicy())
		p := &payment.Payment{Status: payment.StatusCompleted, AmountCents: 10050, RefundedCents: 10050}

		_, err := f.orch.Refund(context.Background(), "stubpay", "TR001", 1, "reason", p, orchestrator.RequestMeta{})
		var verr *gateway.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestStatus(t *testing.T) {
	f := newFixture(t, orchestrator.DefaultRateLimitPolicy())
	f.adapter.status = gateway.PaymentResult{Success: true, Status: gateway.StatusCompleted}

	res, err := f.orch.Status(context.Background(), "stubpay", "TR001", orchestrator.RequestMeta{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "status", res.Data["operation"])
}
