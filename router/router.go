// Package router holds the configured provider adapters, resolves the
// target for each request, and aggregates provider health.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Cstannahill/farm-framework/config"
	"github.com/Cstannahill/farm-framework/core"
	"github.com/Cstannahill/farm-framework/providers/hub"
	"github.com/Cstannahill/farm-framework/providers/ollama"
	"github.com/Cstannahill/farm-framework/providers/openai"
)

// Descriptor is the router's view of one registered provider.
type Descriptor struct {
	Name         string            `json:"name"`
	Capabilities core.Capabilities `json:"capabilities"`
	Health       core.Health       `json:"health"`
	LastChecked  time.Time         `json:"last_checked,omitempty"`
}

type entry struct {
	provider    core.Provider
	health      core.Health
	lastChecked time.Time
}

// Router resolves requests to provider adapters. Constructed explicitly at
// startup; there is no package-level instance.
type Router struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	defaultName string
	logger      *slog.Logger
}

// New builds a router from configuration. A provider whose construction
// fails is logged and skipped; the router serves whatever remains.
func New(cfg config.Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		entries:     map[string]*entry{},
		defaultName: cfg.DefaultProvider(),
		logger:      logger,
	}

	if cfg.Providers.Ollama.Enabled {
		pc := cfg.Providers.Ollama
		opts := []ollama.Option{ollama.WithModels(pc.Models)}
		if pc.BaseURL != "" {
			opts = append(opts, ollama.WithBaseURL(pc.BaseURL))
		}
		if pc.Model != "" {
			opts = append(opts, ollama.WithModel(pc.Model))
		}
		if pc.Timeout > 0 {
			opts = append(opts, ollama.WithTimeout(pc.Timeout))
		}
		r.Register("ollama", ollama.New(opts...))
	}

	if cfg.Providers.OpenAI.Enabled {
		pc := cfg.Providers.OpenAI
		opts := []openai.Option{openai.WithModels(pc.Models)}
		if pc.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(pc.APIKey))
		}
		if pc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pc.BaseURL))
		}
		if pc.Model != "" {
			opts = append(opts, openai.WithModel(pc.Model))
		}
		if pc.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(pc.Timeout))
		}
		client, err := openai.New(opts...)
		if err != nil {
			logger.Warn("provider skipped", "provider", "openai", "error", err)
		} else {
			r.Register("openai", client)
		}
	}

	if cfg.Providers.Hub.Enabled {
		pc := cfg.Providers.Hub
		opts := []hub.Option{hub.WithModels(pc.Models)}
		if pc.APIKey != "" {
			opts = append(opts, hub.WithToken(pc.APIKey))
		}
		if pc.BaseURL != "" {
			opts = append(opts, hub.WithBaseURL(pc.BaseURL))
		}
		if pc.Model != "" {
			opts = append(opts, hub.WithModel(pc.Model))
		}
		if pc.Timeout > 0 {
			opts = append(opts, hub.WithTimeout(pc.Timeout))
		}
		r.Register("hub", hub.New(opts...))
	}

	return r
}

// Register adds a provider under name, replacing any existing registration.
func (r *Router) Register(name string, provider core.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &entry{provider: provider, health: core.Unknown}
}

// SetDefault overrides the environment default provider.
func (r *Router) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = name
}

// Default returns the environment default provider name.
func (r *Router) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Resolve returns the adapter for name, or the environment default when
// name is empty. Health is advisory: an unhealthy provider still resolves
// and the call fails on its own merits.
func (r *Router) Resolve(name string) (core.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultName
	}
	e, ok := r.entries[name]
	if !ok {
		return nil, core.NewError(core.ErrUnknownProvider, fmt.Sprintf("provider %q not configured", name))
	}
	return e.provider, nil
}

// Providers returns the registered provider names, sorted.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns descriptors for every registered provider with their
// last aggregated health.
func (r *Router) Describe() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, Descriptor{
			Name:         name,
			Capabilities: e.provider.Capabilities(),
			Health:       e.health,
			LastChecked:  e.lastChecked,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HealthSnapshot probes every provider concurrently. Each probe is bounded
// by the adapter's own deadline, so one slow provider never delays the
// rest.
func (r *Router) HealthSnapshot(ctx context.Context) map[string]bool {
	r.mu.RLock()
	targets := make(map[string]core.Provider, len(r.entries))
	for name, e := range r.entries {
		targets[name] = e.provider
	}
	r.mu.RUnlock()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	status := make(map[string]bool, len(targets))
	for name, provider := range targets {
		wg.Add(1)
		go func(name string, provider core.Provider) {
			defer wg.Done()
			healthy := provider.HealthCheck(ctx)
			mu.Lock()
			status[name] = healthy
			mu.Unlock()
		}(name, provider)
	}
	wg.Wait()

	now := time.Now()
	r.mu.Lock()
	for name, healthy := range status {
		if e, ok := r.entries[name]; ok {
			if healthy {
				e.health = core.Healthy
			} else {
				e.health = core.Unhealthy
			}
			e.lastChecked = now
		}
	}
	r.mu.Unlock()
	return status
}
