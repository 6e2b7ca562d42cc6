// Package farm routes chat, completion, and embedding requests across
// heterogeneous AI backends with per-provider admission control and
// resilient retries.
package farm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Cstannahill/farm-framework/config"
	"github.com/Cstannahill/farm-framework/core"
	"github.com/Cstannahill/farm-framework/internal/tokens"
	"github.com/Cstannahill/farm-framework/ratelimit"
	"github.com/Cstannahill/farm-framework/retry"
	"github.com/Cstannahill/farm-framework/router"
)

// Client is the facade over the router, admission controllers, and retry
// policy. Construct one explicitly at startup; there is no package-level
// instance.
type Client struct {
	cfg    config.Config
	router *router.Router
	logger *slog.Logger
	policy retry.Policy

	mu       sync.Mutex
	limiters map[string]*ratelimit.Limiter
}

// New builds a client from configuration.
func New(cfg config.Config, opts ...Option) *Client {
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	r := o.router
	if r == nil {
		r = router.New(cfg, logger)
	}

	c := &Client{
		cfg:    cfg,
		router: r,
		logger: logger,
		policy: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
		},
		limiters: map[string]*ratelimit.Limiter{},
	}

	perProvider := map[string]config.ProviderConfig{
		"openai": cfg.Providers.OpenAI,
		"ollama": cfg.Providers.Ollama,
		"hub":    cfg.Providers.Hub,
	}
	for _, name := range r.Providers() {
		limits := cfg.RateLimit
		if pc, ok := perProvider[name]; ok {
			limits = cfg.Limits(pc)
		}
		c.limiters[name] = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: limits.RequestsPerMinute,
			TokensPerMinute:   limits.TokensPerMinute,
		})
	}
	return c
}

// Router exposes the underlying registry for health aggregation and
// descriptor queries.
func (c *Client) Router() *router.Router { return c.router }

// Providers lists registered provider names.
func (c *Client) Providers() []string { return c.router.Providers() }

// Default returns the environment default provider name.
func (c *Client) Default() string { return c.router.Default() }

// Resolve returns the adapter for name ("" selects the default).
func (c *Client) Resolve(name string) (core.Provider, error) {
	return c.router.Resolve(name)
}

// Chat runs one completed exchange through admission and retry.
func (c *Client) Chat(ctx context.Context, provider string, req core.Request) (*core.ChatResult, error) {
	p, name, err := c.resolve(provider)
	if err != nil {
		return nil, err
	}
	var result *core.ChatResult
	err = c.guarded(name, tokens.Estimate(req.InputText(), req.MaxTokens)).Do(ctx, func(ctx context.Context) error {
		r, err := p.Chat(ctx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// Generate completes a bare prompt through admission and retry.
func (c *Client) Generate(ctx context.Context, provider string, req core.Request) (*core.ChatResult, error) {
	p, name, err := c.resolve(provider)
	if err != nil {
		return nil, err
	}
	var result *core.ChatResult
	err = c.guarded(name, tokens.Estimate(req.InputText(), req.MaxTokens)).Do(ctx, func(ctx context.Context) error {
		r, err := p.Generate(ctx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// Embed returns an embedding vector for text.
func (c *Client) Embed(ctx context.Context, provider, text, model string) ([]float64, error) {
	p, name, err := c.resolve(provider)
	if err != nil {
		return nil, err
	}
	var vector []float64
	err = c.guarded(name, tokens.EstimateText(text)).Do(ctx, func(ctx context.Context) error {
		v, err := p.Embed(ctx, text, model)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	return vector, err
}

// StreamChat opens a token stream. Retry applies to opening the stream
// only; a mid-stream failure terminates the stream and is never retried.
func (c *Client) StreamChat(ctx context.Context, provider string, req core.Request) (*core.Stream, error) {
	p, name, err := c.resolve(provider)
	if err != nil {
		return nil, err
	}
	var stream *core.Stream
	err = c.guarded(name, tokens.Estimate(req.InputText(), req.MaxTokens)).Do(ctx, func(ctx context.Context) error {
		s, err := p.StreamChat(ctx, req)
		if err != nil {
			return err
		}
		stream = s
		return nil
	})
	return stream, err
}

// StreamGenerate opens a token stream for a bare prompt.
func (c *Client) StreamGenerate(ctx context.Context, provider string, req core.Request) (*core.Stream, error) {
	p, name, err := c.resolve(provider)
	if err != nil {
		return nil, err
	}
	var stream *core.Stream
	err = c.guarded(name, tokens.Estimate(req.InputText(), req.MaxTokens)).Do(ctx, func(ctx context.Context) error {
		s, err := p.StreamGenerate(ctx, req)
		if err != nil {
			return err
		}
		stream = s
		return nil
	})
	return stream, err
}

// LoadModel materializes a model, forwarding progress when the adapter can
// report it.
func (c *Client) LoadModel(ctx context.Context, provider, model string, report core.LoadReporter) error {
	p, _, err := c.resolve(provider)
	if err != nil {
		return err
	}
	if loader, ok := p.(core.ModelLoader); ok && report != nil {
		return loader.LoadModelWithProgress(ctx, model, report)
	}
	return p.LoadModel(ctx, model)
}

// HealthSnapshot probes every provider concurrently.
func (c *Client) HealthSnapshot(ctx context.Context) map[string]bool {
	return c.router.HealthSnapshot(ctx)
}

// RateLimitStatus reports per-provider window consumption.
func (c *Client) RateLimitStatus() map[string]ratelimit.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ratelimit.Status, len(c.limiters))
	for name, l := range c.limiters {
		out[name] = l.Status()
	}
	return out
}

func (c *Client) resolve(provider string) (core.Provider, string, error) {
	if provider == "" {
		provider = c.router.Default()
	}
	p, err := c.router.Resolve(provider)
	if err != nil {
		return nil, "", err
	}
	return p, provider, nil
}

// guarded returns the retry policy with admission bound to one provider's
// limiter. Each attempt is a fresh admission event.
func (c *Client) guarded(provider string, estimatedTokens int) retry.Policy {
	limiter := c.limiter(provider)
	policy := c.policy
	policy.Admit = func(ctx context.Context) error {
		return limiter.Acquire(ctx, estimatedTokens)
	}
	return policy
}

func (c *Client) limiter(provider string) *ratelimit.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[provider]
	if !ok {
		l = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: c.cfg.RateLimit.RequestsPerMinute,
			TokensPerMinute:   c.cfg.RateLimit.TokensPerMinute,
		})
		c.limiters[provider] = l
	}
	return l
}
