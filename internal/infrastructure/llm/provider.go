package llm

import (
	"fmt"
	"sync"

	"github.com/atelier-ai/atelier/internal/domain/service"
	"go.uber.org/zap"
)

// Provider is the infrastructure-layer model client interface. Each wire
// format implements service.ModelClient plus identification.
type Provider interface {
	service.ModelClient

	// Name returns the provider identifier.
	Name() string
}

// ProviderConfig configures one provider instance.
type ProviderConfig struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"` // "openai" (default)
	BaseURL     string  `json:"base_url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// --- Provider factory registry ---
// Providers register themselves via init() in their own package. Adding a
// wire format = implement Provider + RegisterFactory("type", New).

// ProviderFactory creates a Provider from config.
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory for the given type name.
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateProvider creates a Provider using the registered factory for
// cfg.Type, defaulting to "openai".
func CreateProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	t := cfg.Type
	if t == "" {
		t = "openai"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()

	if !ok {
		factoryMu.RLock()
		available := make([]string, 0, len(factories))
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", t, available)
	}

	return factory(cfg, logger), nil
}

// StatusError is an HTTP-level model API failure carrying the status code so
// the retry policy can distinguish 5xx from 4xx.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model API error %d: %s", e.Code, e.Body)
}

// IsRetryable reports whether the error is a transient 5xx failure.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if ok := asStatusError(err, &statusErr); ok {
		return statusErr.Code >= 500 && statusErr.Code <= 599
	}
	return false
}

func asStatusError(err error, target **StatusError) bool {
	for err != nil {
		if se, ok := err.(*StatusError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
