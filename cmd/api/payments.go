package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"paygate/internal/gateway"
	"paygate/internal/orchestrator"
	"paygate/internal/payment"
	"paygate/internal/store"
)

type CreatePaymentPayload struct {
	Provider    string `json:"provider" validate:"required"`
	OrderID     string `json:"order_id" validate:"required,max=50"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
	CallbackURL string `json:"callback_url" validate:"omitempty,url"`
	ReturnURL   string `json:"return_url" validate:"omitempty,url"`
	NotifyURL   string `json:"notify_url" validate:"omitempty,url"`
	Description string `json:"description" validate:"omitempty,max=255"`
}

type RefundPaymentPayload struct {
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Reason      string `json:"reason" validate:"required,max=255"`
}

type VerifyPaymentPayload struct {
	// Optional client-echoed quote fields; when a hash is present the quoted
	// values are checked against the stored payment before the provider is
	// consulted.
	AmountCents int64  `json:"amount_cents,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Hash        string `json:"hash,omitempty"`
}

func (app *application) requestMeta(r *http.Request) orchestrator.RequestMeta {
	return orchestrator.RequestMeta{
		ClientIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

// integrityFields is the field set the tamper-evident hash binds.
func integrityFields(p *payment.Payment) map[string]string {
	return map[string]string{
		"reference":    p.Reference,
		"provider":     p.Provider,
		"amount_cents": strconv.FormatInt(p.AmountCents, 10),
		"currency":     p.Currency,
	}
}

func rawResult(res gateway.PaymentResult) []byte {
	if len(res.Data) == 0 {
		return nil
	}
	b, err := json.Marshal(res.Data)
	if err != nil {
		return nil
	}
	return b
}

func (app *application) initializePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var payload CreatePaymentPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	provider := strings.ToLower(payload.Provider)

	// (order_id, provider) is unique; catching the duplicate here avoids
	// burning a provider call just to hit the constraint afterwards.
	if existing, err := app.store.Payments.GetByOrderAndProvider(r.Context(), payload.OrderID, provider); err == nil {
		app.conflictResponse(w, r, fmt.Errorf("payment for order %s via %s already exists (reference %s)",
			payload.OrderID, provider, existing.Reference))
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		app.internalServerError(w, r, err)
		return
	}

	req := gateway.PaymentRequest{
		OrderID:     payload.OrderID,
		AmountCents: payload.AmountCents,
		Currency:    strings.ToUpper(payload.Currency),
		CallbackURL: payload.CallbackURL,
		ReturnURL:   payload.ReturnURL,
		NotifyURL:   payload.NotifyURL,
		Description: payload.Description,
	}

	res, err := app.orchestrator.Initialize(r.Context(), provider, req, app.requestMeta(r))
	if err != nil {
		app.gatewayErrorResponse(w, r, err)
		return
	}

	if !res.Success {
		// Provider rejected the business request; nothing to persist.
		app.jsonResponse(w, http.StatusOK, map[string]any{"result": res})
		return
	}

	p := &payment.Payment{
		OrderID:     req.OrderID,
		Provider:    provider,
		PaymentID:   res.PaymentID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Status:      payment.StatusPending,
		GatewayResp: rawResult(res),
	}

	if err := app.store.Payments.Create(r.Context(), p); err != nil {
		if errors.Is(err, store.ErrConflict) {
			app.conflictResponse(w, r, fmt.Errorf("payment for order %s via %s already exists", req.OrderID, provider))
			return
		}
		app.internalServerError(w, r, err)
		return
	}

	reference, err := app.refs.Encode(p.ID)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	p.Reference = reference
	if err := app.store.Payments.SetReference(r.Context(), p.ID, reference); err != nil {
		app.internalServerError(w, r, err)
		return
	}

	app.logger.Infow("payment created",
		"merchant", getMerchantFromContext(r), "reference", reference, "provider", provider)

	app.jsonResponse(w, http.StatusCreated, map[string]any{
		"payment": p,
		"result":  res,
		"hash":    app.guard.GenerateHash(integrityFields(p), app.config.integritySecret),
	})
}

// loadPayment resolves the {reference} URL parameter. A nil return means the
// response is already written.
func (app *application) loadPayment(w http.ResponseWriter, r *http.Request) *payment.Payment {
	reference := chi.URLParam(r, "reference")

	id, err := app.refs.Decode(reference)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return nil
	}

	p, err := app.store.Payments.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			app.notFoundResponse(w, r)
			return nil
		}
		app.internalServerError(w, r, err)
		return nil
	}
	return p
}

func (app *application) getPaymentHandler(w http.ResponseWriter, r *http.Request) {
	p := app.loadPayment(w, r)
	if p == nil {
		return
	}

	refunds, err := app.store.Refunds.ListByPayment(r.Context(), p.ID)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	app.jsonResponse(w, http.StatusOK, map[string]any{"payment": p, "refunds": refunds})
}

func (app *application) verifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	p := app.loadPayment(w, r)
	if p == nil {
		return
	}

	var payload VerifyPaymentPayload
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &payload); err != nil {
			app.badRequestResponse(w, r, err)
			return
		}
	}

	// A client that echoes quoted fields must echo them unmodified.
	if payload.Hash != "" {
		if !app.guard.VerifyHash(integrityFields(p), payload.Hash, app.config.integritySecret) {
			app.gatewayErrorResponse(w, r, &gateway.SecurityError{
				Reason:  "payment integrity hash mismatch",
				Context: map[string]string{"reference": p.Reference},
			})
			return
		}
	}

	res, err := app.orchestrator.Verify(r.Context(), p.Provider, providerLookupID(p), app.requestMeta(r))
	if err != nil {
		app.gatewayErrorResponse(w, r, err)
		return
	}

	app.applyResult(w, r, p, res)
}

func (app *application) paymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	p := app.loadPayment(w, r)
	if p == nil {
		return
	}

	res, err := app.orchestrator.Status(r.Context(), p.Provider, providerLookupID(p), app.requestMeta(r))
	if err != nil {
		app.gatewayErrorResponse(w, r, err)
		return
	}

	app.applyResult(w, r, p, res)
}

func (app *application) refundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	p := app.loadPayment(w, r)
	if p == nil {
		return
	}

	var payload RefundPaymentPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	res, err := app.orchestrator.Refund(r.Context(), p.Provider, refundLookupID(p), payload.AmountCents, payload.Reason, p, app.requestMeta(r))
	if err != nil {
		app.gatewayErrorResponse(w, r, err)
		return
	}

	refund := &payment.Refund{
		PaymentID:   p.ID,
		AmountCents: payload.AmountCents,
		Reason:      payload.Reason,
		Status:      payment.RefundPending,
	}
	if err := app.store.Refunds.Create(r.Context(), refund); err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if !res.Success {
		if err := app.store.Refunds.SetStatus(r.Context(), refund.ID, payment.RefundFailed, ""); err != nil {
			app.internalServerError(w, r, err)
			return
		}
		refund.Status = payment.RefundFailed
		app.jsonResponse(w, http.StatusOK, map[string]any{"payment": p, "refund": refund, "result": res})
		return
	}

	if err := app.store.Refunds.SetStatus(r.Context(), refund.ID, payment.RefundCompleted, res.TransactionID); err != nil {
		app.internalServerError(w, r, err)
		return
	}
	refund.Status = payment.RefundCompleted

	// Recompute the refund state from settled records; the sum drives the
	// status, not the other way around.
	total, err := app.store.Refunds.CompletedTotalCents(r.Context(), p.ID)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	if _, err := p.ApplyRefundSettlement(total); err != nil {
		app.internalServerError(w, r, err)
		return
	}
	if err := app.store.Payments.SetRefundState(r.Context(), p.ID, p.Status, p.RefundedCents); err != nil {
		app.internalServerError(w, r, err)
		return
	}

	app.jsonResponse(w, http.StatusOK, map[string]any{"payment": p, "refund": refund, "result": res})
}

func (app *application) cancelPaymentHandler(w http.ResponseWriter, r *http.Request) {
	p := app.loadPayment(w, r)
	if p == nil {
		return
	}

	changed, err := p.Cancel()
	if err != nil {
		app.conflictResponse(w, r, err)
		return
	}
	if changed {
		if err := app.store.Payments.SetStatus(r.Context(), p.ID, p.Status, nil); err != nil {
			app.internalServerError(w, r, err)
			return
		}
	}

	app.jsonResponse(w, http.StatusOK, map[string]any{"payment": p})
}

// applyResult folds an orchestrator result into the entity and persists any
// resulting transition. Reapplying the same outcome is a no-op.
func (app *application) applyResult(w http.ResponseWriter, r *http.Request, p *payment.Payment, res gateway.PaymentResult) {
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
	}
	if res.PaymentID != "" || res.TransactionID != "" {
		if err := app.store.Payments.SetProviderRefs(r.Context(), p.ID, res.PaymentID, res.TransactionID, nil); err != nil {
			app.internalServerError(w, r, err)
			return
		}
	}

	app.jsonResponse(w, http.StatusOK, map[string]any{"payment": p, "result": res})
}

// providerLookupID is the identifier verify/status calls pass to the
// provider: the provider's own payment id when we have one, otherwise the
// merchant order id (acquirers key their validator API on it).
func providerLookupID(p *payment.Payment) string {
	if p.PaymentID != "" {
		return p.PaymentID
	}
	return p.OrderID
}

// refundLookupID is the identifier refunds are keyed by. Acquirer-style
// providers authorize refunds against the bank transaction id.
func refundLookupID(p *payment.Payment) string {
	if p.TransactionID != "" {
		return p.TransactionID
	}
	return providerLookupID(p)
}
