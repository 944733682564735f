package main

import (
	"errors"
	"net/http"

	"paygate/internal/gateway"
)

func (app *application) internalServerError(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Errorw("internal error", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	writeJSONError(w, http.StatusInternalServerError, "the server encountered a problem")
}

func (app *application) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("bad request", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	writeJSONError(w, http.StatusBadRequest, err.Error())
}

func (app *application) notFoundResponse(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusNotFound, "resource not found")
}

func (app *application) conflictResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("conflict", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	writeJSONError(w, http.StatusConflict, err.Error())
}

func (app *application) unauthorizedErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("unauthorized", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	writeJSONError(w, http.StatusUnauthorized, "unauthorized")
}

func (app *application) unauthorizedBasicErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("unauthorized basic", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	w.Header().Set("WWW-Authenticate", `Basic realm="restricted", charset="UTF-8"`)
	writeJSONError(w, http.StatusUnauthorized, "unauthorized")
}

func (app *application) rateLimitExceededResponse(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
}

// gatewayErrorResponse maps the gateway error taxonomy onto HTTP statuses.
// Validation and configuration faults are the caller's to fix; security
// faults are hard rejections; network faults mean the provider is
// unreachable and the caller's queue should retry.
func (app *application) gatewayErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *gateway.ValidationError
		configErr     *gateway.ConfigurationError
		securityErr   *gateway.SecurityError
		networkErr    *gateway.NetworkError
	)

	switch {
	case errors.As(err, &validationErr):
		app.badRequestResponse(w, r, validationErr)
	case errors.As(err, &configErr):
		app.logger.Errorw("gateway misconfigured", "error", configErr.Error())
		writeJSONError(w, http.StatusUnprocessableEntity, configErr.Error())
	case errors.As(err, &securityErr):
		app.logger.Warnw("security rejection", "path", r.URL.Path, "reason", securityErr.Reason, "context", securityErr.Context)
		if securityErr.Reason == "rate limit exceeded" {
			app.rateLimitExceededResponse(w, r)
			return
		}
		writeJSONError(w, http.StatusForbidden, securityErr.Reason)
	case errors.As(err, &networkErr):
		app.logger.Errorw("gateway unreachable", "error", networkErr.Error())
		writeJSONError(w, http.StatusBadGateway, "payment provider unreachable, retry later")
	default:
		app.internalServerError(w, r, err)
	}
}
