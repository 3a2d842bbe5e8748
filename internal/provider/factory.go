package provider

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"shopbot/internal/config"
	"shopbot/internal/domain"
)

// Factory creates and caches providers from config. Unknown provider names
// with an API base are treated as OpenAI-compatible, which covers most
// hosted and self-hosted gateways.
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger
	client *http.Client
	cache  map[string]domain.Provider
	mu     sync.Mutex
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
		client: SharedHTTPClient(defaultHTTPTimeout),
		cache:  make(map[string]domain.Provider),
	}
}

// Get returns the provider with the given name, or the default if name is
// empty. Created providers are cached so the same instance is reused.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	p := NewOpenAI(OpenAIConfig{
		APIKey:        pc.APIKey,
		APIBase:       pc.APIBase,
		Model:         pc.Model,
		AdvancedModel: pc.AdvancedModel,
		Client:        f.client,
		Logger:        f.logger.With("provider", name),
	})
	f.cache[name] = p
	return p, nil
}

// Chain builds the provider for the handler: the failover chain when one is
// configured, otherwise the default provider alone. Returns nil (no error)
// when no provider is enabled, which disables the LLM path.
func (f *Factory) Chain() (domain.Provider, error) {
	if len(f.cfg.General.FailoverChain) > 0 {
		providers := make([]domain.Provider, 0, len(f.cfg.General.FailoverChain))
		for _, name := range f.cfg.General.FailoverChain {
			p, err := f.Get(name)
			if err != nil {
				f.logger.Warn("skipping failover provider", "provider", name, "error", err)
				continue
			}
			providers = append(providers, p)
		}
		if len(providers) == 0 {
			return nil, fmt.Errorf("failover chain configured but no provider usable")
		}
		if len(providers) == 1 {
			return providers[0], nil
		}
		return NewFailover(providers, f.logger), nil
	}

	p, err := f.Get("")
	if err != nil {
		f.logger.Info("no LLM provider available, general inquiries get the static menu", "error", err)
		return nil, nil
	}
	return p, nil
}
