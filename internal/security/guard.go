// Package security is the shared boundary every payment operation passes
// through: fixed-window rate limiting, advisory fraud tagging, tamper-evident
// hashing of quoted fields, webhook signature handling and at-rest protection
// of sensitive values. Nothing here scores risk; it only tags and rejects.
package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"

	"paygate/internal/gateway"
	"paygate/internal/kv"
)

// FraudTag is one independent advisory indicator. Tags are a set, not a
// score; composite risk scoring lives above this layer.
type FraudTag string

const (
	TagIPDenylisted        FraudTag = "ip_denylisted"
	TagIPExitNode          FraudTag = "ip_exit_node"
	TagVelocityExceeded    FraudTag = "velocity_exceeded"
	TagAmountOutOfRange    FraudTag = "amount_out_of_range"
	TagSuspiciousUserAgent FraudTag = "suspicious_user_agent"
)

// FraudConfig holds the thresholds and lists the fraud checks read.
type FraudConfig struct {
	DeniedIPs        map[string]struct{}
	ExitNodeIPs      map[string]struct{}
	MaxAttemptsPerIP int
	VelocityWindow   time.Duration
	MinAmountCents   int64
	MaxAmountCents   int64
	// Substrings of automation tooling user agents.
	AutomationAgents []string
}

func DefaultFraudConfig() FraudConfig {
	return FraudConfig{
		DeniedIPs:        map[string]struct{}{},
		ExitNodeIPs:      map[string]struct{}{},
		MaxAttemptsPerIP: 20,
		VelocityWindow:   5 * time.Minute,
		MinAmountCents:   100,       // 1.00
		MaxAmountCents:   50_000_00, // 50,000.00
		AutomationAgents: []string{"curl", "python-requests", "wget", "httpclient", "bot", "scrapy"},
	}
}

// sensitiveKeys never participate in tamper hashes and are the field set
// protected by EncryptField.
var sensitiveKeys = map[string]struct{}{
	"card_number":    {},
	"cvv":            {},
	"pin":            {},
	"password":       {},
	"account_number": {},
	"api_key":        {},
	"secret":         {},
	"token":          {},
}

const maskedPlaceholder = "****"

// Guard is constructed once and shared; all its state lives in the injected
// kv store, so concurrent callers are safe.
type Guard struct {
	store  kv.Store
	logger *zap.SugaredLogger
	now    func() time.Time
	fraud  FraudConfig
	// aead key for at-rest field protection, derived from the configured
	// encryption secret.
	aeadKey []byte
}

func NewGuard(store kv.Store, logger *zap.SugaredLogger, encryptionSecret string, fraud FraudConfig) *Guard {
	key := sha256.Sum256([]byte(encryptionSecret))
	return &Guard{
		store:   store,
		logger:  logger,
		now:     time.Now,
		fraud:   fraud,
		aeadKey: key[:],
	}
}

// WithClock swaps the time source; tests use it to cross window boundaries.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// CheckRateLimit records one attempt for the identifier and reports whether
// it is still inside the budget. Fixed-window semantics: the counter resets
// when the window expires, and bursts straddling a boundary are tolerated.
func (g *Guard) CheckRateLimit(identifier string, maxAttempts int, window time.Duration) bool {
	count, _ := g.store.Increment("ratelimit:"+identifier, window)
	if count > int64(maxAttempts) {
		g.logger.Warnw("rate limit exceeded", "identifier", identifier, "attempts", count, "max", maxAttempts)
		return false
	}
	return true
}

// DetectFraudulentActivity runs each advisory check independently and
// returns the set of tags that fired. It never rejects by itself.
func (g *Guard) DetectFraudulentActivity(ip string, requestData map[string]any) map[FraudTag]struct{} {
	tags := make(map[FraudTag]struct{})

	if _, ok := g.fraud.DeniedIPs[ip]; ok {
		tags[TagIPDenylisted] = struct{}{}
	}
	if _, ok := g.fraud.ExitNodeIPs[ip]; ok {
		tags[TagIPExitNode] = struct{}{}
	}

	if ip != "" && g.fraud.MaxAttemptsPerIP > 0 {
		count, _ := g.store.Increment("fraud:velocity:"+ip, g.fraud.VelocityWindow)
		if count > int64(g.fraud.MaxAttemptsPerIP) {
			tags[TagVelocityExceeded] = struct{}{}
		}
	}

	if amount, ok := amountFrom(requestData); ok {
		if amount < g.fraud.MinAmountCents || (g.fraud.MaxAmountCents > 0 && amount > g.fraud.MaxAmountCents) {
			tags[TagAmountOutOfRange] = struct{}{}
		}
	}

	ua, _ := requestData["user_agent"].(string)
	if strings.TrimSpace(ua) == "" {
		tags[TagSuspiciousUserAgent] = struct{}{}
	} else {
		lower := strings.ToLower(ua)
		for _, frag := range g.fraud.AutomationAgents {
			if strings.Contains(lower, frag) {
				tags[TagSuspiciousUserAgent] = struct{}{}
				break
			}
		}
	}

	if len(tags) > 0 {
		g.logger.Infow("fraud indicators", "ip", ip, "tags", TagNames(tags))
	}
	return tags
}

func amountFrom(data map[string]any) (int64, bool) {
	switch v := data["amount_cents"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// TagNames renders a tag set as a sorted slice for logs and payloads.
func TagNames(tags map[FraudTag]struct{}) []string {
	out := make([]string, 0, len(tags))
	for t := range tags {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// GenerateHash produces the tamper-evident digest binding quoted payment
// fields: sensitive keys removed, remaining keys sorted, URL-encoded as
// key=value&..., shared secret appended, SHA-256, hex.
func (g *Guard) GenerateHash(data map[string]string, secret string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if _, sensitive := sensitiveKeys[strings.ToLower(k)]; sensitive {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(data[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "&") + secret))
	return hex.EncodeToString(sum[:])
}

// VerifyHash recomputes and compares in constant time.
func (g *Guard) VerifyHash(data map[string]string, hash, secret string) bool {
	expected := g.GenerateHash(data, secret)
	return hmac.Equal([]byte(expected), []byte(hash))
}

// SignWebhook is HMAC-SHA256 over the raw body bytes, hex-encoded.
func (g *Guard) SignWebhook(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook enforces the webhook signature contract. With a configured
// secret, a missing or mismatched signature fails hard. With no secret the
// check is skipped and a warning is logged — deliberate insecure-by-
// configuration, not something to silently repair.
func (g *Guard) VerifyWebhook(provider string, rawBody []byte, signature, secret string) error {
	if secret == "" {
		g.logger.Warnw("webhook signature verification skipped: no secret configured", "provider", provider)
		return nil
	}
	if strings.TrimSpace(signature) == "" {
		return &gateway.SecurityError{
			Reason:  "webhook signature header missing",
			Context: map[string]string{"provider": provider},
		}
	}
	expected := g.SignWebhook(rawBody, secret)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return &gateway.SecurityError{
			Reason:  "webhook signature mismatch",
			Context: map[string]string{"provider": provider},
		}
	}
	return nil
}

// EncryptField protects one sensitive value at rest. Output is
// base64(nonce || ciphertext).
func (g *Guard) EncryptField(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(g.aeadKey)
	if err != nil {
		return "", fmt.Errorf("encrypt field: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("encrypt field: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptField reverses EncryptField. Corrupt or foreign ciphertext degrades
// to the masked placeholder with a logged warning — it never errors into
// business logic.
func (g *Guard) DecryptField(ciphertext string) string {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		g.logger.Warnw("field decryption failed, returning masked value", "reason", "invalid encoding")
		return maskedPlaceholder
	}
	aead, err := chacha20poly1305.NewX(g.aeadKey)
	if err != nil {
		g.logger.Warnw("field decryption failed, returning masked value", "reason", "cipher init")
		return maskedPlaceholder
	}
	if len(sealed) < aead.NonceSize() {
		g.logger.Warnw("field decryption failed, returning masked value", "reason", "short ciphertext")
		return maskedPlaceholder
	}
	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		g.logger.Warnw("field decryption failed, returning masked value", "reason", "authentication")
		return maskedPlaceholder
	}
	return string(plain)
}

// IsSensitiveField reports whether a field name is in the protected set.
func IsSensitiveField(name string) bool {
	_, ok := sensitiveKeys[strings.ToLower(name)]
	return ok
}

// MaskValue keeps the last four characters of a sensitive value.
func MaskValue(v string) string {
	if len(v) <= 4 {
		return maskedPlaceholder
	}
	return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
}
