package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paygate/internal/gateway"
	"paygate/internal/kv"
	"paygate/internal/orchestrator"
	"paygate/internal/payment"
	"paygate/internal/security"
	"paygate/internal/store"
)

// fakePayments backs the payments interface with an in-memory map so
// handlers can be exercised without a database.
type fakePayments struct {
	mu   sync.Mutex
	seq  int64
	rows map[int64]*payment.Payment
}

func newFakePayments() *fakePayments {
	return &fakePayments{rows: make(map[int64]*payment.Payment)}
}

func (f *fakePayments) Create(ctx context.Context, p *payment.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.OrderID == p.OrderID && row.Provider == p.Provider {
			return store.ErrConflict
		}
	}
	f.seq++
	p.ID = f.seq
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	f.rows[p.ID] = &cp
	return nil
}

func (f *fakePayments) GetByID(ctx context.Context, id int64) (*payment.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakePayments) GetByOrderAndProvider(ctx context.Context, orderID, provider string) (*payment.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.OrderID == orderID && row.Provider == provider {
			cp := *row
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakePayments) GetByProviderPaymentID(ctx context.Context, provider, paymentID string) (*payment.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Provider == provider && row.PaymentID == paymentID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakePayments) SetReference(ctx context.Context, id int64, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.Reference = reference
	}
	return nil
}

func (f *fakePayments) SetProviderRefs(ctx context.Context, id int64, paymentID, transactionID string, gatewayResp []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		if paymentID != "" {
			row.PaymentID = paymentID
		}
		if transactionID != "" {
			row.TransactionID = transactionID
		}
	}
	return nil
}

func (f *fakePayments) SetStatus(ctx context.Context, id int64, status payment.Status, gatewayResp []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.Status = status
	}
	return nil
}

func (f *fakePayments) SetRefundState(ctx context.Context, id int64, status payment.Status, refundedCents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.Status = status
		row.RefundedCents = refundedCents
	}
	return nil
}

type fakeRefunds struct {
	mu   sync.Mutex
	seq  int64
	rows map[int64]*payment.Refund
}

func newFakeRefunds() *fakeRefunds {
	return &fakeRefunds{rows: make(map[int64]*payment.Refund)}
}

func (f *fakeRefunds) Create(ctx context.Context, r *payment.Refund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	r.ID = f.seq
	r.CreatedAt = time.Now()
	cp := *r
	f.rows[r.ID] = &cp
	return nil
}

func (f *fakeRefunds) SetStatus(ctx context.Context, id int64, status payment.RefundStatus, providerRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.Status = status
		if providerRef != "" {
			row.ProviderRef = providerRef
		}
	}
	return nil
}

func (f *fakeRefunds) CompletedTotalCents(ctx context.Context, paymentID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, row := range f.rows {
		if row.PaymentID == paymentID && row.Status == payment.RefundCompleted {
			total += row.AmountCents
		}
	}
	return total, nil
}

func (f *fakeRefunds) ListByPayment(ctx context.Context, paymentID int64) ([]*payment.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*payment.Refund
	for _, row := range f.rows {
		if row.PaymentID == paymentID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeWebhookEvents struct {
	mu   sync.Mutex
	seq  int64
	rows map[int64]*store.WebhookEvent
}

func newFakeWebhookEvents() *fakeWebhookEvents {
	return &fakeWebhookEvents{rows: make(map[int64]*store.WebhookEvent)}
}

func (f *fakeWebhookEvents) Record(ctx context.Context, e *store.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Provider == e.Provider && row.EventID == e.EventID {
			return store.ErrConflict
		}
	}
	f.seq++
	e.ID = f.seq
	e.CreatedAt = time.Now()
	cp := *e
	f.rows[e.ID] = &cp
	return nil
}

func (f *fakeWebhookEvents) MarkProcessed(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.Processed = true
	}
	return nil
}

func (f *fakeWebhookEvents) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

// adapterOutcome is one scripted result for the stub adapter.
type adapterOutcome struct {
	res gateway.PaymentResult
	err error
}

// scriptedAdapter plays back queued outcomes per operation; an empty queue
// falls back to the operation's default outcome.
type scriptedAdapter struct {
	initCalls     int
	initDefault   adapterOutcome
	verifyCalls   int
	verifyQueue   []adapterOutcome
	verifyDefault adapterOutcome
	refundDefault adapterOutcome
}

func (s *scriptedAdapter) InitializePayment(ctx context.Context, req gateway.PaymentRequest) (gateway.PaymentResult, error) {
	s.initCalls++
	return s.initDefault.res, s.initDefault.err
}

func (s *scriptedAdapter) VerifyPayment(ctx context.Context, paymentID string) (gateway.PaymentResult, error) {
	s.verifyCalls++
	if len(s.verifyQueue) > 0 {
		out := s.verifyQueue[0]
		s.verifyQueue = s.verifyQueue[1:]
		return out.res, out.err
	}
	return s.verifyDefault.res, s.verifyDefault.err
}

func (s *scriptedAdapter) RefundPayment(ctx context.Context, paymentID string, amountCents int64, reason string) (gateway.PaymentResult, error) {
	return s.refundDefault.res, s.refundDefault.err
}

func (s *scriptedAdapter) GetPaymentStatus(ctx context.Context, paymentID string) (gateway.PaymentResult, error) {
	return s.VerifyPayment(ctx, paymentID)
}

func (s *scriptedAdapter) GatewayName() string { return "bkash" }
func (s *scriptedAdapter) IsConfigured() bool  { return true }

// newTestApp wires an application around in-memory fakes and the scripted
// adapter registered under the bkash name.
func newTestApp(t *testing.T, adapter gateway.Adapter) (*application, *fakePayments) {
	t.Helper()

	logger := zap.NewNop().Sugar()
	kvStore := kv.NewMemoryStoreWithClock(time.Now)
	guard := security.NewGuard(kvStore, logger, "test-encryption-secret", security.DefaultFraudConfig())

	registry := gateway.NewRegistry(logger)
	require.NoError(t, registry.Register("bkash", func(cfg gateway.Config) (gateway.Adapter, error) {
		return adapter, nil
	}))
	_, err := registry.Create("bkash", gateway.Config{})
	require.NoError(t, err)

	refs, err := payment.NewReferenceCodec("test-salt")
	require.NoError(t, err)

	payments := newFakePayments()
	app := &application{
		config: config{
			env:             "test",
			rateLimiter:     rateLimiterConfig{enabled: false},
			providers:       map[string]gateway.Config{"bkash": {}},
			webhookSecrets:  map[string]string{},
			integritySecret: "integrity-secret",
		},
		logger: logger,
		store: store.Storage{
			Payments:      payments,
			Refunds:       newFakeRefunds(),
			WebhookEvents: newFakeWebhookEvents(),
		},
		registry:     registry,
		orchestrator: orchestrator.New(registry, guard, logger, orchestrator.DefaultRateLimitPolicy()),
		guard:        guard,
		refs:         refs,
		kv:           kvStore,
	}
	return app, payments
}
