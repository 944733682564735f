package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"paygate/internal/infra/dbx"
	"paygate/internal/payment"
)

type PaymentsStore struct{ q dbx.Querier }

const paymentColumns = `
	id, reference, order_id, provider, payment_id, transaction_id,
	amount_cents, currency, status, refunded_cents, gateway_response,
	created_at, updated_at`

func scanPayment(row pgx.Row) (*payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(
		&p.ID, &p.Reference, &p.OrderID, &p.Provider, &p.PaymentID, &p.TransactionID,
		&p.AmountCents, &p.Currency, &p.Status, &p.RefundedCents, &p.GatewayResp,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}

// Create inserts a new payment in status pending. The unique
// (order_id, provider) index turns duplicate submissions into ErrConflict.
func (s *PaymentsStore) Create(ctx context.Context, p *payment.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	err := s.q.QueryRow(ctx, `
		INSERT INTO payments (reference, order_id, provider, payment_id, amount_cents, currency, status, gateway_response)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE(NULLIF($7,''),'pending')::payment_status, $8)
		RETURNING id, created_at, updated_at
	`, p.Reference, p.OrderID, p.Provider, p.PaymentID, p.AmountCents, p.Currency, string(p.Status), p.GatewayResp).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (s *PaymentsStore) GetByID(ctx context.Context, id int64) (*payment.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	return scanPayment(s.q.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id))
}

func (s *PaymentsStore) GetByOrderAndProvider(ctx context.Context, orderID, provider string) (*payment.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	return scanPayment(s.q.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id=$1 AND provider=$2`, orderID, provider))
}

func (s *PaymentsStore) GetByProviderPaymentID(ctx context.Context, provider, paymentID string) (*payment.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	return scanPayment(s.q.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider=$1 AND payment_id=$2 LIMIT 1`, provider, paymentID))
}

// SetReference stores the public reference derived from the row id right
// after insert.
func (s *PaymentsStore) SetReference(ctx context.Context, id int64, reference string) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	_, err := s.q.Exec(ctx, `UPDATE payments SET reference=$2, updated_at=now() WHERE id=$1`, id, reference)
	if err != nil {
		return fmt.Errorf("set payment reference: %w", err)
	}
	return nil
}

// SetProviderRefs stores the provider's identifiers and raw response after a
// successful initialize.
func (s *PaymentsStore) SetProviderRefs(ctx context.Context, id int64, paymentID, transactionID string, gatewayResp []byte) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	_, err := s.q.Exec(ctx, `
		UPDATE payments
		   SET payment_id = COALESCE(NULLIF($2,''), payment_id),
		       transaction_id = COALESCE(NULLIF($3,''), transaction_id),
		       gateway_response = COALESCE($4, gateway_response),
		       updated_at = now()
		 WHERE id = $1
	`, id, paymentID, transactionID, gatewayResp)
	if err != nil {
		return fmt.Errorf("set provider refs: %w", err)
	}
	return nil
}

// SetStatus writes a status the caller has already validated through the
// entity's transition rules.
func (s *PaymentsStore) SetStatus(ctx context.Context, id int64, status payment.Status, gatewayResp []byte) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	_, err := s.q.Exec(ctx, `
		UPDATE payments
		   SET status = $2::payment_status,
		       gateway_response = COALESCE($3, gateway_response),
		       updated_at = now()
		 WHERE id = $1
	`, id, string(status), gatewayResp)
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	return nil
}

// SetRefundState writes the recomputed refund status and derived total.
func (s *PaymentsStore) SetRefundState(ctx context.Context, id int64, status payment.Status, refundedCents int64) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	_, err := s.q.Exec(ctx, `
		UPDATE payments
		   SET status = $2::payment_status,
		       refunded_cents = $3,
		       updated_at = now()
		 WHERE id = $1 AND refunded_cents <= $3
	`, id, string(status), refundedCents)
	if err != nil {
		return fmt.Errorf("set refund state: %w", err)
	}
	return nil
}
