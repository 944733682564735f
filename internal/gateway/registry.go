package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Factory builds a configured adapter. Construction must validate the config
// eagerly and return ConfigurationError on any missing credential.
type Factory func(cfg Config) (Adapter, error)

// Registry resolves provider names to adapter instances. Names are
// case-insensitive. New providers are added with Register; nothing here is
// resolved through reflection or dynamic lookup.
type Registry struct {
	factories map[string]Factory
	adapters  map[string]Adapter
	logger    *zap.SugaredLogger
}

func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		adapters:  make(map[string]Adapter),
		logger:    logger,
	}
}

// Register adds a factory under a provider name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return &ConfigurationError{Reason: "provider name must not be empty"}
	}
	if f == nil {
		return &ConfigurationError{Gateway: name, Reason: "factory must not be nil"}
	}
	r.factories[name] = f
	return nil
}

// Create constructs and caches an adapter for the named provider. Unknown
// names and construction failures both surface as ConfigurationError.
func (r *Registry) Create(name string, cfg Config) (Adapter, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	f, ok := r.factories[key]
	if !ok {
		return nil, &ConfigurationError{Gateway: name, Reason: "unknown provider"}
	}

	r.logger.Infow("creating gateway adapter", "provider", key, "config", RedactConfig(cfg))

	adapter, err := f(cfg)
	if err != nil {
		var cerr *ConfigurationError
		if errors.As(err, &cerr) {
			return nil, err
		}
		return nil, &ConfigurationError{Gateway: name, Reason: err.Error()}
	}
	if !adapter.IsConfigured() {
		return nil, &ConfigurationError{Gateway: name, Reason: "adapter reports incomplete configuration"}
	}
	r.adapters[key] = adapter
	return adapter, nil
}

// Resolve returns the adapter previously created for the named provider.
func (r *Registry) Resolve(name string) (Adapter, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	a, ok := r.adapters[key]
	if !ok {
		return nil, &ConfigurationError{Gateway: name, Reason: "provider not configured"}
	}
	return a, nil
}

// IsAvailable reports whether a usable adapter exists for the name.
func (r *Registry) IsAvailable(name string) bool {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	return ok && a.IsConfigured()
}

// Providers lists the configured provider names, sorted.
func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// secretKeyFragments is the fixed deny-list of credential key substrings
// that are redacted before a config ever reaches a log sink. Redaction is
// unconditional, not opt-in.
var secretKeyFragments = []string{
	"key", "secret", "password", "passwd", "token", "private", "credential",
}

// RedactConfig returns a loggable copy of the config with secret-bearing
// values replaced.
func RedactConfig(cfg Config) map[string]string {
	out := make(map[string]string, len(cfg.Credentials)+1)
	for k, v := range cfg.Credentials {
		out[k] = v
		lower := strings.ToLower(k)
		for _, frag := range secretKeyFragments {
			if strings.Contains(lower, frag) {
				out[k] = "[REDACTED]"
				break
			}
		}
	}
	out["sandbox"] = fmt.Sprintf("%t", cfg.Sandbox)
	return out
}
