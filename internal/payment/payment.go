// Package payment owns the Payment lifecycle rules: the status vocabulary,
// the legal transitions, and how orchestrator results and refund settlements
// drive them. Persistence lives elsewhere; this package only decides what a
// store is allowed to write.
package payment

import (
	"encoding/json"
	"fmt"
	"time"

	"paygate/internal/gateway"
)

// Status is the lifecycle state of a Payment entity. This is a wider
// vocabulary than the canonical gateway status because the entity also
// tracks caller actions (cancelled) and partial refunds.
type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// Payment is the entity whose lifecycle this core governs. (OrderID,
// Provider) is unique; RefundedCents is derived, never incremented blindly.
type Payment struct {
	ID            int64           `json:"id"`
	Reference     string          `json:"reference"`
	OrderID       string          `json:"order_id"`
	Provider      string          `json:"provider"`
	PaymentID     string          `json:"payment_id,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	AmountCents   int64           `json:"amount_cents"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"status"`
	RefundedCents int64           `json:"refunded_cents"`
	GatewayResp   json.RawMessage `json:"gateway_response,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RefundStatus tracks an individual refund record. Only completed refunds
// count toward the payment's refunded total.
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

// Refund is one refund attempt against a payment.
type Refund struct {
	ID          int64        `json:"id"`
	PaymentID   int64        `json:"payment_id"`
	AmountCents int64        `json:"amount_cents"`
	Reason      string       `json:"reason"`
	Status      RefundStatus `json:"status"`
	ProviderRef string       `json:"provider_ref,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// transitions is the full legal-move table. Reapplying the current status is
// handled separately in Transition as an idempotent no-op.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusRefunded, StatusPartiallyRefunded},
	// Partial refunds can keep settling up to the full amount.
	StatusPartiallyRefunded: {StatusRefunded, StatusPartiallyRefunded},
	StatusFailed:            {},
	StatusCancelled:         {},
	StatusRefunded:          {},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave the status.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// Transition applies a status change in place. Webhook delivery is
// at-least-once, so moving to the state the payment is already in is a
// no-op, not an error; the bool reports whether anything changed.
func (p *Payment) Transition(to Status) (bool, error) {
	if p.Status == to {
		return false, nil
	}
	if !CanTransition(p.Status, to) {
		return false, fmt.Errorf("payment %s: illegal transition %s -> %s", p.Reference, p.Status, to)
	}
	p.Status = to
	return true, nil
}

// Cancel is the explicit caller action, legal only before completion.
func (p *Payment) Cancel() (bool, error) {
	if p.Status == StatusCancelled {
		return false, nil
	}
	if !CanTransition(p.Status, StatusCancelled) {
		return false, fmt.Errorf("payment %s: cannot cancel in status %s", p.Reference, p.Status)
	}
	p.Status = StatusCancelled
	return true, nil
}

// ApplyResult maps a verify/status/webhook outcome onto the entity,
// idempotently. Unknown canonical status never moves the entity.
func (p *Payment) ApplyResult(res gateway.PaymentResult) (bool, error) {
	if res.TransactionID != "" {
		p.TransactionID = res.TransactionID
	}
	if res.PaymentID != "" && p.PaymentID == "" {
		p.PaymentID = res.PaymentID
	}

	switch res.Status {
	case gateway.StatusCompleted:
		return p.Transition(StatusCompleted)
	case gateway.StatusFailed:
		return p.Transition(StatusFailed)
	case gateway.StatusRefunded:
		// Refund settlement is recomputed from refund records, not from a
		// provider status alone; see ApplyRefundSettlement.
		return false, nil
	case gateway.StatusPending:
		if p.Status == StatusPending {
			return p.Transition(StatusProcessing)
		}
		return false, nil
	default:
		return false, nil
	}
}

// RemainingRefundableCents is what can still be refunded.
func (p *Payment) RemainingRefundableCents() int64 {
	remaining := p.AmountCents - p.RefundedCents
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ValidateRefundAmount rejects a refund before any network call when the
// requested amount is non-positive or exceeds what is still refundable.
func (p *Payment) ValidateRefundAmount(amountCents int64) error {
	if amountCents <= 0 {
		return &gateway.ValidationError{Field: "amount_cents", Reason: "must be greater than zero"}
	}
	if p.Status != StatusCompleted && p.Status != StatusPartiallyRefunded {
		return &gateway.ValidationError{Field: "status", Reason: fmt.Sprintf("payment in status %s is not refundable", p.Status)}
	}
	if amountCents > p.RemainingRefundableCents() {
		return &gateway.ValidationError{
			Field:  "amount_cents",
			Reason: fmt.Sprintf("exceeds remaining refundable amount %d", p.RemainingRefundableCents()),
		}
	}
	return nil
}

// ApplyRefundSettlement recomputes the refund status from the sum of
// completed refund records. Deriving from records — instead of bumping a
// counter — keeps RefundedCents from drifting from what was actually
// settled, and keeps it monotonically non-decreasing.
func (p *Payment) ApplyRefundSettlement(completedRefundCents int64) (bool, error) {
	if completedRefundCents < p.RefundedCents {
		return false, fmt.Errorf("payment %s: refunded amount would shrink from %d to %d",
			p.Reference, p.RefundedCents, completedRefundCents)
	}
	if completedRefundCents > p.AmountCents {
		return false, fmt.Errorf("payment %s: refunded amount %d exceeds original amount %d",
			p.Reference, completedRefundCents, p.AmountCents)
	}

	p.RefundedCents = completedRefundCents

	switch {
	case completedRefundCents == 0:
		return false, nil
	case completedRefundCents == p.AmountCents:
		return p.Transition(StatusRefunded)
	default:
		return p.Transition(StatusPartiallyRefunded)
	}
}
