package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"shopbot/internal/domain"
)

// Failover tries multiple providers in order, falling back to the next one
// when the current fails. It implements both Provider and StreamingProvider.
type Failover struct {
	providers []domain.Provider
	logger    *slog.Logger
}

// NewFailover creates a failover chain from the given providers. At least
// one provider is required.
func NewFailover(providers []domain.Provider, logger *slog.Logger) *Failover {
	return &Failover{
		providers: providers,
		logger:    logger,
	}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

func (f *Failover) Healthy(ctx context.Context) error {
	for _, p := range f.providers {
		if err := p.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy provider in failover chain")
}

// Generate tries each provider in order and returns the first success.
func (f *Failover) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	var lastErr error
	for i, p := range f.providers {
		text, err := p.Generate(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover: used fallback provider", "provider", p.Name(), "attempt", i+1)
			}
			return text, nil
		}
		lastErr = err
		f.logger.Warn("failover: provider failed, trying next",
			"provider", p.Name(),
			"attempt", i+1,
			"error", err,
		)
	}
	return "", fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}

// GenerateStream uses the first streaming provider in the chain.
//
// Streaming failover is unsafe: each provider closes out on return, and
// handing an already-closed channel to the next provider would panic. So the
// first streaming provider is used without fallback; Generate still fails
// over fully.
func (f *Failover) GenerateStream(ctx context.Context, req domain.GenerateRequest, out chan<- string) error {
	for _, p := range f.providers {
		sp, ok := p.(domain.StreamingProvider)
		if !ok {
			continue
		}
		return sp.GenerateStream(ctx, req, out)
	}

	// No streaming provider in the chain. Generate once and emit the whole
	// reply as a single token.
	defer close(out)
	text, err := f.Generate(ctx, req)
	if err != nil {
		return err
	}
	select {
	case out <- text:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
