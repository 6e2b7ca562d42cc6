package core

import (
	"context"
	"time"
)

// DefaultProbeTimeout bounds HealthCheck calls.
const DefaultProbeTimeout = 5 * time.Second

// Provider is the uniform contract implemented by all backend adapters. Each
// adapter owns translating its vendor's wire protocol and native error codes
// into this contract and the shared AIError taxonomy.
type Provider interface {
	// Chat returns a single completed exchange for the transcript.
	Chat(ctx context.Context, req Request) (*ChatResult, error)

	// StreamChat returns a lazy, finite, non-restartable sequence of text
	// fragments. A mid-stream failure terminates the sequence with an error
	// event; already-yielded fragments stand.
	StreamChat(ctx context.Context, req Request) (*Stream, error)

	// Generate completes a bare prompt.
	Generate(ctx context.Context, req Request) (*ChatResult, error)

	// StreamGenerate streams a bare prompt completion.
	StreamGenerate(ctx context.Context, req Request) (*Stream, error)

	// Embed returns an embedding vector for the input text.
	Embed(ctx context.Context, text, model string) ([]float64, error)

	// ListModels returns available model names, refreshing the catalog as a
	// side effect.
	ListModels(ctx context.Context) ([]string, error)

	// LoadModel materializes a model. Idempotent: loading an already-loaded
	// model is cheap. No-op for providers without model lifecycle.
	LoadModel(ctx context.Context, model string) error

	// UnloadModel releases a model. No-op where not applicable.
	UnloadModel(ctx context.Context, model string) error

	// HealthCheck probes the backend within DefaultProbeTimeout. It never
	// returns an error; any failure yields false.
	HealthCheck(ctx context.Context) bool

	// Catalog exposes the model availability snapshot.
	Catalog() *Catalog

	Capabilities() Capabilities
}

// Capabilities describes what a provider supports. ModelLifecycle
// distinguishes adapters whose Load/UnloadModel do real work from those where
// the calls are not applicable, so callers can tell "no-op" from "failed
// silently".
type Capabilities struct {
	Streaming      bool
	Embeddings     bool
	ModelLifecycle bool

	Provider     string
	DefaultModel string
	Models       []string
}

// ModelLoadProgress reports model materialization progress for providers
// that download weights lazily.
type ModelLoadProgress struct {
	Model     string `json:"model"`
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// LoadReporter receives progress callbacks during long model loads.
type LoadReporter func(ModelLoadProgress)

// ModelLoader is implemented by providers that can report load progress.
type ModelLoader interface {
	LoadModelWithProgress(ctx context.Context, model string, report LoadReporter) error
}

// Health is the advisory status of a provider.
type Health string

const (
	Healthy   Health = "healthy"
	Unhealthy Health = "unhealthy"
	Unknown   Health = "unknown"
)
