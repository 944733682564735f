package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"paygate/internal/store"
)

// webhookSignatureHeader carries the provider's HMAC over the raw body.
const webhookSignatureHeader = "X-Webhook-Signature"

// webhookDedupTTL bounds how long a delivery is remembered for replay
// suppression in the kv store; the webhook_events table is the durable record.
const webhookDedupTTL = 24 * time.Hour

// webhookPaymentKeys lists, per provider, the payload fields that may carry
// the provider payment identifier, in preference order.
var webhookPaymentKeys = map[string][]string{
	"bkash":      {"paymentID", "paymentId"},
	"nagad":      {"paymentRefId", "payment_ref_id"},
	"sslcommerz": {"tran_id", "bank_tran_id"},
}

func (app *application) webhookHandler(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	if !app.registry.IsAvailable(provider) {
		app.badRequestResponse(w, r, fmt.Errorf("unsupported provider: %s", provider))
		return
	}

	// The signature is computed over the raw bytes, so read before decoding.
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		app.badRequestResponse(w, r, fmt.Errorf("reading webhook body: %w", err))
		return
	}

	secret := app.config.webhookSecrets[provider]
	if err := app.guard.VerifyWebhook(provider, rawBody, r.Header.Get(webhookSignatureHeader), secret); err != nil {
		app.gatewayErrorResponse(w, r, err)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		app.badRequestResponse(w, r, fmt.Errorf("invalid webhook payload: %w", err))
		return
	}

	providerPaymentID := webhookPaymentID(provider, payload)
	if providerPaymentID == "" {
		app.badRequestResponse(w, r, fmt.Errorf("webhook payload missing payment identifier"))
		return
	}

	// Delivery is at-least-once. A body-hash nonce absorbs fast replays;
	// the unique (provider, event_id) row absorbs the rest.
	bodyDigest := sha256.Sum256(rawBody)
	nonce := provider + ":" + hex.EncodeToString(bodyDigest[:])
	if !app.kv.SetNX("webhook:"+nonce, "1", webhookDedupTTL) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
		return
	}

	eventID, _ := payload["event_id"].(string)
	if eventID == "" {
		eventID = uuid.NewString()
	}

	event := &store.WebhookEvent{
		Provider:       provider,
		EventID:        eventID,
		Payload:        rawBody,
		SignatureValid: secret != "",
	}
	if err := app.store.WebhookEvents.Record(r.Context(), event); err != nil {
		if errors.Is(err, store.ErrConflict) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
			return
		}
		app.internalServerError(w, r, err)
		return
	}

	// Never trust the pushed status: re-verify with the provider before
	// applying any transition.
	res, err := app.orchestrator.Verify(r.Context(), provider, providerPaymentID, app.requestMeta(r))
	if err != nil {
		app.logger.Errorw("webhook verification failed", "provider", provider, "payment_id", providerPaymentID, "error", err)
		// 5xx so the provider redelivers; both the nonce and the event row
		// have to be released, or the retry would be absorbed as a
		// duplicate without the transition ever being applied.
		app.kv.Delete("webhook:" + nonce)
		if derr := app.store.WebhookEvents.Delete(r.Context(), event.ID); derr != nil {
			app.logger.Errorw("releasing webhook event after failed verification", "event_id", event.ID, "error", derr)
		}
		writeJSONError(w, http.StatusInternalServerError, "verification error")
		return
	}

	p, err := app.store.Payments.GetByProviderPaymentID(r.Context(), provider, providerPaymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Unknown payment: acknowledge so the provider stops retrying,
			// keep the event row for reconciliation.
			app.logger.Warnw("webhook for unknown payment", "provider", provider, "payment_id", providerPaymentID)
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
			return
		}
		app.internalServerError(w, r, err)
		return
	}

	changed, err := p.ApplyResult(res)
	if err != nil {
		app.conflictResponse(w, r, err)
		return
	}
	if changed {
		if err := app.store.Payments.SetStatus(r.Context(), p.ID, p.Status, rawResult(res)); err != nil {
			app.internalServerError(w, r, err)
			return
		}
		app.logger.Infow("webhook applied transition",
			"provider", provider, "reference", p.Reference, "status", p.Status)
	}

	if err := app.store.WebhookEvents.MarkProcessed(r.Context(), event.ID); err != nil {
		app.logger.Errorw("marking webhook processed", "event_id", event.ID, "error", err)
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func webhookPaymentID(provider string, payload map[string]any) string {
	for _, key := range webhookPaymentKeys[provider] {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
