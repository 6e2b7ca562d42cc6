package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/Cstannahill/farm-framework/core"
)

// MockProvider is a configurable mock implementation of core.Provider for
// testing.
type MockProvider struct {
	mu sync.Mutex

	// Configurable responses
	ChatResponse *core.ChatResult
	EmbedVector  []float64
	ModelList    []string
	Healthy      bool
	Caps         core.Capabilities

	// Error injection
	ChatErr   error
	StreamErr error
	EmbedErr  error
	LoadErr   error

	// Call tracking
	ChatCalls   []core.Request
	StreamCalls []core.Request
	LoadCalls   []string
	UnloadCalls []string
	HealthCalls int

	// Custom handlers (override default behavior)
	OnChat       func(ctx context.Context, req core.Request) (*core.ChatResult, error)
	OnStreamChat func(ctx context.Context, req core.Request) (*core.Stream, error)

	catalog *core.Catalog
}

// NewMockProvider creates a MockProvider with sensible defaults.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		ChatResponse: &core.ChatResult{
			Text:     "mock response",
			Model:    "mock-model",
			Provider: "mock",
			Usage: core.Usage{
				InputTokens:  10,
				OutputTokens: 5,
				TotalTokens:  15,
			},
		},
		ModelList: []string{"mock-model"},
		Healthy:   true,
		Caps: core.Capabilities{
			Streaming:    true,
			Embeddings:   true,
			Provider:     "mock",
			DefaultModel: "mock-model",
			Models:       []string{"mock-model"},
		},
		catalog: core.NewCatalog("mock-model"),
	}
}

// Chat implements core.Provider.
func (m *MockProvider) Chat(ctx context.Context, req core.Request) (*core.ChatResult, error) {
	m.mu.Lock()
	m.ChatCalls = append(m.ChatCalls, req)
	m.mu.Unlock()

	if m.OnChat != nil {
		return m.OnChat(ctx, req)
	}
	if m.ChatErr != nil {
		return nil, m.ChatErr
	}
	return m.ChatResponse, nil
}

// StreamChat implements core.Provider.
func (m *MockProvider) StreamChat(ctx context.Context, req core.Request) (*core.Stream, error) {
	m.mu.Lock()
	m.StreamCalls = append(m.StreamCalls, req)
	m.mu.Unlock()

	if m.OnStreamChat != nil {
		return m.OnStreamChat(ctx, req)
	}
	if m.StreamErr != nil {
		return nil, m.StreamErr
	}
	return NewMockStream(ctx, m.ChatResponse.Text), nil
}

// Generate implements core.Provider.
func (m *MockProvider) Generate(ctx context.Context, req core.Request) (*core.ChatResult, error) {
	return m.Chat(ctx, req)
}

// StreamGenerate implements core.Provider.
func (m *MockProvider) StreamGenerate(ctx context.Context, req core.Request) (*core.Stream, error) {
	return m.StreamChat(ctx, req)
}

// Embed implements core.Provider.
func (m *MockProvider) Embed(ctx context.Context, text, model string) ([]float64, error) {
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	if m.EmbedVector != nil {
		return m.EmbedVector, nil
	}
	return []float64{0.1, 0.2, 0.3}, nil
}

// ListModels implements core.Provider.
func (m *MockProvider) ListModels(ctx context.Context) ([]string, error) {
	m.catalog.Replace(m.ModelList)
	return m.ModelList, nil
}

// LoadModel implements core.Provider.
func (m *MockProvider) LoadModel(ctx context.Context, model string) error {
	m.mu.Lock()
	m.LoadCalls = append(m.LoadCalls, model)
	m.mu.Unlock()

	if m.LoadErr != nil {
		m.catalog.Set(model, false)
		return m.LoadErr
	}
	m.catalog.Set(model, true)
	return nil
}

// UnloadModel implements core.Provider.
func (m *MockProvider) UnloadModel(ctx context.Context, model string) error {
	m.mu.Lock()
	m.UnloadCalls = append(m.UnloadCalls, model)
	m.mu.Unlock()
	m.catalog.Remove(model)
	return nil
}

// HealthCheck implements core.Provider.
func (m *MockProvider) HealthCheck(ctx context.Context) bool {
	m.mu.Lock()
	m.HealthCalls++
	healthy := m.Healthy
	m.mu.Unlock()
	return healthy
}

// Catalog implements core.Provider.
func (m *MockProvider) Catalog() *core.Catalog { return m.catalog }

// Capabilities implements core.Provider.
func (m *MockProvider) Capabilities() core.Capabilities { return m.Caps }

// RecordedStreamCalls returns a copy of the stream requests seen so far.
func (m *MockProvider) RecordedStreamCalls() []core.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Request(nil), m.StreamCalls...)
}

// Reset clears all tracked calls.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChatCalls = nil
	m.StreamCalls = nil
	m.LoadCalls = nil
	m.UnloadCalls = nil
	m.HealthCalls = 0
}

// NewMockStream creates a stream that emits text as one token and
// completes.
func NewMockStream(ctx context.Context, text string) *core.Stream {
	return NewMockTokenStream(ctx, []string{text})
}

// NewMockTokenStream creates a stream emitting each token in order before a
// complete event.
func NewMockTokenStream(ctx context.Context, tokens []string) *core.Stream {
	s := core.NewStream(ctx, len(tokens)+2)

	go func() {
		defer s.Close()
		full := ""
		seq := 0
		for _, token := range tokens {
			seq++
			full += token
			s.Push(core.StreamEvent{
				Type:      core.EventToken,
				Seq:       seq,
				Timestamp: time.Now(),
				Provider:  "mock",
				Text:      token,
			})
		}
		seq++
		s.Push(core.StreamEvent{
			Type:      core.EventComplete,
			Seq:       seq,
			Timestamp: time.Now(),
			Provider:  "mock",
			FullText:  full,
			Usage:     core.Usage{TotalTokens: len(tokens)},
		})
	}()

	return s
}

// NewFailingStream creates a stream that fails after emitting the given
// tokens.
func NewFailingStream(ctx context.Context, tokens []string, err error) *core.Stream {
	s := core.NewStream(ctx, len(tokens)+2)

	go func() {
		seq := 0
		for _, token := range tokens {
			seq++
			s.Push(core.StreamEvent{
				Type:     core.EventToken,
				Seq:      seq,
				Provider: "mock",
				Text:     token,
			})
		}
		s.Fail(err)
	}()

	return s
}

var _ core.Provider = (*MockProvider)(nil)
