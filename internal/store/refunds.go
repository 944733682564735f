package store

import (
	"context"
	"fmt"

	"paygate/internal/infra/dbx"
	"paygate/internal/payment"
)

type RefundsStore struct{ q dbx.Querier }

func (s *RefundsStore) Create(ctx context.Context, r *payment.Refund) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	err := s.q.QueryRow(ctx, `
		INSERT INTO refunds (payment_id, amount_cents, reason, status, provider_ref)
		VALUES ($1, $2, $3, COALESCE(NULLIF($4,''),'pending')::refund_status, $5)
		RETURNING id, created_at
	`, r.PaymentID, r.AmountCents, r.Reason, string(r.Status), r.ProviderRef).
		Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create refund: %w", err)
	}
	return nil
}

func (s *RefundsStore) SetStatus(ctx context.Context, id int64, status payment.RefundStatus, providerRef string) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	_, err := s.q.Exec(ctx, `
		UPDATE refunds
		   SET status = $2::refund_status,
		       provider_ref = COALESCE(NULLIF($3,''), provider_ref)
		 WHERE id = $1
	`, id, string(status), providerRef)
	if err != nil {
		return fmt.Errorf("set refund status: %w", err)
	}
	return nil
}

// CompletedTotalCents sums the settled refunds for a payment. The refund
// status of the payment is always derived from this sum, never from a
// running counter.
func (s *RefundsStore) CompletedTotalCents(ctx context.Context, paymentID int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	var total int64
	err := s.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		  FROM refunds
		 WHERE payment_id = $1 AND status = 'completed'
	`, paymentID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum completed refunds: %w", err)
	}
	return total, nil
}

func (s *RefundsStore) ListByPayment(ctx context.Context, paymentID int64) ([]*payment.Refund, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	rows, err := s.q.Query(ctx, `
		SELECT id, payment_id, amount_cents, reason, status, provider_ref, created_at
		  FROM refunds
		 WHERE payment_id = $1
		 ORDER BY id ASC
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var out []*payment.Refund
	for rows.Next() {
		var r payment.Refund
		if err := rows.Scan(&r.ID, &r.PaymentID, &r.AmountCents, &r.Reason, &r.Status, &r.ProviderRef, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
