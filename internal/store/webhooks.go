package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"paygate/internal/infra/dbx"
)

// WebhookEvent is one raw provider delivery, kept for audit and for
// absorbing at-least-once redelivery: (provider, event_id) is unique.
type WebhookEvent struct {
	ID             int64     `json:"id"`
	Provider       string    `json:"provider"`
	EventID        string    `json:"event_id"`
	Payload        []byte    `json:"payload"`
	SignatureValid bool      `json:"signature_valid"`
	Processed      bool      `json:"processed"`
	CreatedAt      time.Time `json:"created_at"`
}

type WebhookEventsStore struct{ q dbx.Querier }

func (s *WebhookEventsStore) Record(ctx context.Context, e *WebhookEvent) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	err := s.q.QueryRow(ctx, `
		INSERT INTO webhook_events (provider, event_id, payload, signature_valid)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, e.Provider, e.EventID, e.Payload, e.SignatureValid).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

func (s *WebhookEventsStore) MarkProcessed(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	_, err := s.q.Exec(ctx, `UPDATE webhook_events SET processed = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark webhook processed: %w", err)
	}
	return nil
}

// Delete removes an event row after a failed processing attempt; the
// provider's redelivery inserts it again.
func (s *WebhookEventsStore) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	_, err := s.q.Exec(ctx, `DELETE FROM webhook_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook event: %w", err)
	}
	return nil
}
