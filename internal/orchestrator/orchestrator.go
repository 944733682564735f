// Package orchestrator is the single entry point for the four uniform
// payment operations. Every call runs the same fixed order: validate the
// request shape, apply security pre-checks, resolve the provider adapter,
// invoke it, and normalize the outcome. The orchestrator persists nothing
// and never retries a NetworkError — re-dispatch belongs to the caller's
// job layer, so idempotency requirements stay visible there.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"paygate/internal/gateway"
	"paygate/internal/payment"
	"paygate/internal/security"
)

// RateLimitPolicy bounds how often one identifier may drive operations.
type RateLimitPolicy struct {
	MaxAttempts int
	Window      time.Duration
}

func DefaultRateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{MaxAttempts: 30, Window: time.Minute}
}

// RequestMeta is caller context the security pre-checks read. Zero value
// skips the ip-based checks.
type RequestMeta struct {
	ClientIP  string
	UserAgent string
}

type Orchestrator struct {
	registry *gateway.Registry
	guard    *security.Guard
	logger   *zap.SugaredLogger
	policy   RateLimitPolicy
}

func New(registry *gateway.Registry, guard *security.Guard, logger *zap.SugaredLogger, policy RateLimitPolicy) *Orchestrator {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRateLimitPolicy()
	}
	return &Orchestrator{
		registry: registry,
		guard:    guard,
		logger:   logger,
		policy:   policy,
	}
}

// Initialize starts a payment with the named provider. On success the caller
// creates the Payment entity in status pending and persists it.
func (o *Orchestrator) Initialize(ctx context.Context, provider string, req gateway.PaymentRequest, meta RequestMeta) (gateway.PaymentResult, error) {
	// Provider-independent shape checks run before the limiter is charged;
	// currency rules stay with the adapter.
	if err := req.Validate(nil); err != nil {
		return gateway.PaymentResult{}, err
	}

	if err := o.preCheck(provider, "initialize", req.OrderID, meta, map[string]any{
		"amount_cents": req.AmountCents,
		"user_agent":   meta.UserAgent,
	}); err != nil {
		return gateway.PaymentResult{}, err
	}

	adapter, err := o.registry.Resolve(provider)
	if err != nil {
		return gateway.PaymentResult{}, err
	}

	res, err := adapter.InitializePayment(ctx, req)
	if err != nil {
		return gateway.PaymentResult{}, err
	}
	return o.classify(adapter, "initialize", res), nil
}

// Verify confirms a payment's outcome with the provider.
func (o *Orchestrator) Verify(ctx context.Context, provider, paymentID string, meta RequestMeta) (gateway.PaymentResult, error) {
	if err := o.preCheck(provider, "verify", paymentID, meta, map[string]any{"user_agent": meta.UserAgent}); err != nil {
		return gateway.PaymentResult{}, err
	}

	adapter, err := o.registry.Resolve(provider)
	if err != nil {
		return gateway.PaymentResult{}, err
	}

	res, err := adapter.VerifyPayment(ctx, paymentID)
	if err != nil {
		return gateway.PaymentResult{}, err
	}
	return o.classify(adapter, "verify", res), nil
}

// Refund sends a refund to the provider. When the current Payment entity is
// supplied, the amount is checked against the remaining refundable balance
// before any network call.
func (o *Orchestrator) Refund(ctx context.Context, provider, paymentID string, amountCents int64, reason string, current *payment.Payment, meta RequestMeta) (gateway.PaymentResult, error) {
	if amountCents <= 0 {
		return gateway.PaymentResult{}, &gateway.ValidationError{Field: "amount_cents", Reason: "must be greater than zero"}
	}
	if strings.TrimSpace(reason) == "" {
		return gateway.PaymentResult{}, &gateway.ValidationError{Field: "reason", Reason: "must not be empty"}
	}
	if current != nil {
		if err := current.ValidateRefundAmount(amountCents); err != nil {
			return gateway.PaymentResult{}, err
		}
	}

	if err := o.preCheck(provider, "refund", paymentID, meta, map[string]any{
		"amount_cents": amountCents,
		"user_agent":   meta.UserAgent,
	}); err != nil {
		return gateway.PaymentResult{}, err
	}

	adapter, err := o.registry.Resolve(provider)
	if err != nil {
		return gateway.PaymentResult{}, err
	}

	res, err := adapter.RefundPayment(ctx, paymentID, amountCents, reason)
	if err != nil {
		return gateway.PaymentResult{}, err
	}
	return o.classify(adapter, "refund", res), nil
}

// Status queries the provider's view of a payment without side effects.
func (o *Orchestrator) Status(ctx context.Context, provider, paymentID string, meta RequestMeta) (gateway.PaymentResult, error) {
	if err := o.preCheck(provider, "status", paymentID, meta, map[string]any{"user_agent": meta.UserAgent}); err != nil {
		return gateway.PaymentResult{}, err
	}

	adapter, err := o.registry.Resolve(provider)
	if err != nil {
		return gateway.PaymentResult{}, err
	}

	res, err := adapter.GetPaymentStatus(ctx, paymentID)
	if err != nil {
		return gateway.PaymentResult{}, err
	}
	return o.classify(adapter, "status", res), nil
}

// preCheck runs the SecurityGuard gate: fixed-window rate limit on the
// provider+identifier pair, then advisory fraud tagging. Rate-limit refusal
// is a SecurityError; fraud tags only annotate the log.
func (o *Orchestrator) preCheck(provider, op, identifier string, meta RequestMeta, requestData map[string]any) error {
	if strings.TrimSpace(provider) == "" {
		return &gateway.ValidationError{Field: "provider", Reason: "must not be empty"}
	}

	limiterKey := fmt.Sprintf("%s:%s:%s", provider, op, identifier)
	if !o.guard.CheckRateLimit(limiterKey, o.policy.MaxAttempts, o.policy.Window) {
		return &gateway.SecurityError{
			Reason:  "rate limit exceeded",
			Context: map[string]string{"provider": provider, "operation": op},
		}
	}

	if meta.ClientIP != "" {
		tags := o.guard.DetectFraudulentActivity(meta.ClientIP, requestData)
		if len(tags) > 0 {
			o.logger.Infow("operation carries fraud indicators",
				"provider", provider, "operation", op, "tags", security.TagNames(tags))
		}
	}
	return nil
}

// classify stamps provider identity onto the normalized result and folds
// out-of-vocabulary statuses to unknown.
func (o *Orchestrator) classify(adapter gateway.Adapter, op string, res gateway.PaymentResult) gateway.PaymentResult {
	switch res.Status {
	case gateway.StatusPending, gateway.StatusCompleted, gateway.StatusFailed, gateway.StatusRefunded:
	default:
		res.Status = gateway.StatusUnknown
	}

	if res.Data == nil {
		res.Data = map[string]any{}
	}
	res.Data["provider"] = adapter.GatewayName()
	res.Data["operation"] = op

	o.logger.Infow("gateway operation finished",
		"provider", adapter.GatewayName(),
		"operation", op,
		"success", res.Success,
		"status", res.Status,
	)
	return res
}
