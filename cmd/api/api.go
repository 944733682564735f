package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"paygate/internal/auth"
	"paygate/internal/gateway"
	"paygate/internal/kv"
	"paygate/internal/orchestrator"
	"paygate/internal/payment"
	"paygate/internal/security"
	"paygate/internal/store"
)

type application struct {
	config        config
	logger        *zap.SugaredLogger
	store         store.Storage
	registry      *gateway.Registry
	orchestrator  *orchestrator.Orchestrator
	guard         *security.Guard
	refs          *payment.ReferenceCodec
	authenticator auth.Authenticator
	kv            kv.Store
}

type config struct {
	addr        string
	env         string
	apiURL      string
	frontendURL string
	db          dbConfig
	auth        authConfig
	rateLimiter rateLimiterConfig
	// providers maps a provider name to its credential set.
	providers map[string]gateway.Config
	// webhookSecrets maps a provider name to its shared webhook secret.
	// An empty entry means signature verification is deliberately skipped.
	webhookSecrets map[string]string
	// integritySecret keys the tamper-evident hash that binds quoted
	// payment fields between initialize and verify.
	integritySecret string
}

type authConfig struct {
	basic basicConfig
	token tokenConfig
}

type tokenConfig struct {
	secret string
	exp    time.Duration
	iss    string
}

type basicConfig struct {
	user string
	pass string
}

type dbConfig struct {
	addr        string
	maxConns    int32
	maxIdleTime string
}

type rateLimiterConfig struct {
	maxAttempts int
	window      time.Duration
	enabled     bool
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(app.SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{app.config.frontendURL},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Every provider call is one synchronous round-trip with a 30s client
	// timeout; the request budget leaves headroom for exactly one of them.
	r.Use(middleware.Timeout(45 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.With(app.BasicAuthMiddleware()).Get("/health", app.healthCheckHandler)
		r.With(app.BasicAuthMiddleware()).Get("/debug/vars", expvar.Handler().ServeHTTP)

		r.Route("/payments", func(r chi.Router) {
			r.Use(app.AuthTokenMiddleware)
			r.Use(app.RateLimitMiddleware)

			r.Post("/", app.initializePaymentHandler)
			r.Route("/{reference}", func(r chi.Router) {
				r.Get("/", app.getPaymentHandler)
				r.Post("/verify", app.verifyPaymentHandler)
				r.Get("/status", app.paymentStatusHandler)
				r.Post("/refund", app.refundPaymentHandler)
				r.Post("/cancel", app.cancelPaymentHandler)
			})
		})

		// Providers call this; authentication is the webhook signature.
		r.Post("/webhooks/{provider}", app.webhookHandler)
	})

	return r
}

func (app *application) run(mux http.Handler) error {
	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 50,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Infow("signal caught", "signal", s.String())

		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Infow("server has started", "addr", app.config.addr, "env", app.config.env)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Infow("server has stopped", "addr", app.config.addr, "env", app.config.env)

	return nil
}
