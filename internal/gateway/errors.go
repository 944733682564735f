package gateway

import "fmt"

// The error taxonomy is deliberate: configuration, validation, transport and
// security faults are typed errors, while provider business rejections
// (insufficient funds, duplicate order) are PaymentResult{Success:false} and
// never errors. Callers branch on result.Success for business outcomes and
// errors.As for infrastructure faults.

// ConfigurationError means a provider is unusable as configured: missing or
// empty credentials, or an unknown provider name. Raised at construction,
// never retried.
type ConfigurationError struct {
	Gateway string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Gateway == "" {
		return fmt.Sprintf("gateway configuration: %s", e.Reason)
	}
	return fmt.Sprintf("gateway %s configuration: %s", e.Gateway, e.Reason)
}

// ValidationError means the caller's input is malformed. Raised before any
// network call, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// NetworkError means the provider could not be reached or answered with
// something unparsable: timeout, connection refused, malformed body. It is
// retryable, but only by the caller's queue policy — the core never retries
// inline, so idempotency requirements stay visible to callers.
type NetworkError struct {
	Gateway string
	Op      string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("gateway %s: %s: %v", e.Gateway, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SecurityError means a request failed a security check: webhook signature
// mismatch, tamper-hash mismatch, rate limit exceeded. Always a hard
// rejection; context must already be redacted before it lands here.
type SecurityError struct {
	Reason  string
	Context map[string]string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security: %s", e.Reason)
}
