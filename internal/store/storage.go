package store

import (
	"context"
	"errors"
	"time"

	"paygate/internal/infra/dbx"
	"paygate/internal/payment"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrConflict          = errors.New("resource already exists")
	QueryTimeoutDuration = time.Second * 5
)

// Storage aggregates the repositories the application consumes. Interfaces
// live here so handlers and workers can be tested against fakes.
type Storage struct {
	Payments interface {
		Create(ctx context.Context, p *payment.Payment) error
		GetByID(ctx context.Context, id int64) (*payment.Payment, error)
		GetByOrderAndProvider(ctx context.Context, orderID, provider string) (*payment.Payment, error)
		GetByProviderPaymentID(ctx context.Context, provider, paymentID string) (*payment.Payment, error)
		SetReference(ctx context.Context, id int64, reference string) error
		SetProviderRefs(ctx context.Context, id int64, paymentID, transactionID string, gatewayResp []byte) error
		SetStatus(ctx context.Context, id int64, status payment.Status, gatewayResp []byte) error
		SetRefundState(ctx context.Context, id int64, status payment.Status, refundedCents int64) error
	}
	Refunds interface {
		Create(ctx context.Context, r *payment.Refund) error
		SetStatus(ctx context.Context, id int64, status payment.RefundStatus, providerRef string) error
		CompletedTotalCents(ctx context.Context, paymentID int64) (int64, error)
		ListByPayment(ctx context.Context, paymentID int64) ([]*payment.Refund, error)
	}
	WebhookEvents interface {
		// Record stores the raw delivery; it returns ErrConflict when the
		// same (provider, event id) was already recorded, which is how
		// at-least-once redelivery is absorbed.
		Record(ctx context.Context, e *WebhookEvent) error
		MarkProcessed(ctx context.Context, id int64) error
		// Delete releases a recorded delivery whose processing failed, so
		// the provider's redelivery is not absorbed as a duplicate.
		Delete(ctx context.Context, id int64) error
	}
}

func NewStorage(q dbx.Querier) Storage {
	return Storage{
		Payments:      &PaymentsStore{q},
		Refunds:       &RefundsStore{q},
		WebhookEvents: &WebhookEventsStore{q},
	}
}
