package main

import (
	"expvar"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"paygate/internal/auth"
	"paygate/internal/db"
	"paygate/internal/gateway"
	"paygate/internal/kv"
	"paygate/internal/orchestrator"
	"paygate/internal/payment"
	"paygate/internal/security"
	"paygate/internal/store"
)

var version = "1.0.0"

// NewLogger creates a zap logger with a colored console encoder.
func NewLogger() (*zap.SugaredLogger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)
	core := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), zapcore.InfoLevel)

	return zap.New(core).Sugar(), nil
}

// LoadRateLimiterConfig retrieves rate limiter settings from environment variables.
func LoadRateLimiterConfig() rateLimiterConfig {
	cfg := rateLimiterConfig{
		maxAttempts: 60,
		window:      time.Minute,
		enabled:     true,
	}

	if val, exists := os.LookupEnv("RATELIMITER_MAX_ATTEMPTS"); exists {
		if parsed, err := strconv.Atoi(val); err == nil {
			cfg.maxAttempts = parsed
		} else {
			fmt.Println("Invalid RATELIMITER_MAX_ATTEMPTS, defaulting to", cfg.maxAttempts)
		}
	}
	if val, exists := os.LookupEnv("RATELIMITER_WINDOW"); exists {
		if parsed, err := time.ParseDuration(val); err == nil {
			cfg.window = parsed
		} else {
			fmt.Println("Invalid RATELIMITER_WINDOW, defaulting to", cfg.window)
		}
	}
	if val, exists := os.LookupEnv("RATELIMITER_ENABLED"); exists {
		if parsed, err := strconv.ParseBool(val); err == nil {
			cfg.enabled = parsed
		} else {
			fmt.Println("Invalid RATELIMITER_ENABLED, defaulting to", cfg.enabled)
		}
	}
	return cfg
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

// loadProviderConfigs builds the credential set for every provider that has
// its primary credential present in the environment.
func loadProviderConfigs() (map[string]gateway.Config, map[string]string) {
	providers := make(map[string]gateway.Config)
	webhookSecrets := make(map[string]string)

	if os.Getenv("BKASH_APP_KEY") != "" {
		providers["bkash"] = gateway.Config{
			Credentials: map[string]string{
				"app_key":    os.Getenv("BKASH_APP_KEY"),
				"app_secret": os.Getenv("BKASH_APP_SECRET"),
				"username":   os.Getenv("BKASH_USERNAME"),
				"password":   os.Getenv("BKASH_PASSWORD"),
			},
			Sandbox: envBool("BKASH_SANDBOX"),
		}
		webhookSecrets["bkash"] = os.Getenv("BKASH_WEBHOOK_SECRET")
	}

	if os.Getenv("NAGAD_MERCHANT_ID") != "" {
		providers["nagad"] = gateway.Config{
			Credentials: map[string]string{
				"merchant_id":  os.Getenv("NAGAD_MERCHANT_ID"),
				"merchant_key": os.Getenv("NAGAD_MERCHANT_KEY"),
			},
			Sandbox: envBool("NAGAD_SANDBOX"),
		}
		webhookSecrets["nagad"] = os.Getenv("NAGAD_WEBHOOK_SECRET")
	}

	if os.Getenv("SSLCOMMERZ_STORE_ID") != "" {
		providers["sslcommerz"] = gateway.Config{
			Credentials: map[string]string{
				"store_id":       os.Getenv("SSLCOMMERZ_STORE_ID"),
				"store_password": os.Getenv("SSLCOMMERZ_STORE_PASSWORD"),
			},
			Sandbox: envBool("SSLCOMMERZ_SANDBOX"),
		}
		webhookSecrets["sslcommerz"] = os.Getenv("SSLCOMMERZ_WEBHOOK_SECRET")
	}

	return providers, webhookSecrets
}

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Fatalf("Error loading .env file: %v", err)
	}

	maxConns, err := strconv.Atoi(os.Getenv("DB_MAX_CONNS"))
	if err != nil {
		log.Fatalf("Invalid value for DB_MAX_CONNS: %v", err)
	}

	providers, webhookSecrets := loadProviderConfigs()

	cfg := config{
		addr:        os.Getenv("ADDR"),
		env:         os.Getenv("ENV"),
		apiURL:      os.Getenv("EXTERNAL_URL"),
		frontendURL: os.Getenv("FRONTEND_URL"),
		db: dbConfig{
			addr:        os.Getenv("DB_ADDR"),
			maxConns:    int32(maxConns),
			maxIdleTime: os.Getenv("DB_MAX_IDLE_TIME"),
		},
		auth: authConfig{
			basic: basicConfig{
				user: os.Getenv("AUTH_BASIC_USER"),
				pass: os.Getenv("AUTH_BASIC_PASS"),
			},
			token: tokenConfig{
				secret: os.Getenv("AUTH_TOKEN_SECRET"),
				exp:    time.Hour * 24,
				iss:    "paygate",
			},
		},
		rateLimiter:     LoadRateLimiterConfig(),
		providers:       providers,
		webhookSecrets:  webhookSecrets,
		integritySecret: os.Getenv("INTEGRITY_HASH_SECRET"),
	}

	logger, err := NewLogger()
	if err != nil {
		fmt.Println("Error creating logger:", err)
		return
	}
	defer logger.Sync()

	pool, err := db.New(cfg.db.addr, cfg.db.maxConns, cfg.db.maxIdleTime)
	if err != nil {
		logger.Fatal(err)
	}
	defer pool.Close()
	logger.Info("database connection pool established")

	storage := store.NewStorage(pool)

	kvStore := kv.NewMemoryStore()
	defer kvStore.Close()

	guard := security.NewGuard(kvStore, logger, os.Getenv("FIELD_ENCRYPTION_SECRET"), security.DefaultFraudConfig())

	registry := gateway.NewRegistry(logger)
	factories := map[string]gateway.Factory{
		"bkash":      gateway.NewBkashAdapter,
		"nagad":      gateway.NewNagadAdapter,
		"sslcommerz": gateway.NewSSLCommerzAdapter,
	}
	for name, factory := range factories {
		if err := registry.Register(name, factory); err != nil {
			logger.Fatalw("provider registration failed", "provider", name, "error", err)
		}
	}

	for name, providerCfg := range cfg.providers {
		if _, err := registry.Create(name, providerCfg); err != nil {
			logger.Fatalw("provider configuration failed", "provider", name, "error", err)
		}
		logger.Infow("provider configured", "provider", name, "sandbox", providerCfg.Sandbox)
	}

	orch := orchestrator.New(registry, guard, logger, orchestrator.RateLimitPolicy{
		MaxAttempts: cfg.rateLimiter.maxAttempts,
		Window:      cfg.rateLimiter.window,
	})

	refs, err := payment.NewReferenceCodec(os.Getenv("REFERENCE_SALT"))
	if err != nil {
		logger.Fatal(err)
	}

	jwtAuthenticator := auth.NewJWTAuthenticator(
		cfg.auth.token.secret,
		cfg.auth.token.iss,
		cfg.auth.token.iss,
	)

	app := &application{
		config:        cfg,
		logger:        logger,
		store:         storage,
		registry:      registry,
		orchestrator:  orch,
		guard:         guard,
		refs:          refs,
		authenticator: jwtAuthenticator,
		kv:            kvStore,
	}

	// Metrics exposed at /v1/debug/vars
	expvar.NewString("version").Set(version)
	expvar.NewString("instance_id").Set(uuid.NewString())
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))
	expvar.Publish("database", expvar.Func(func() any {
		return pool.Stat().TotalConns()
	}))

	mux := app.mount()

	logger.Fatal(app.run(mux))
}
