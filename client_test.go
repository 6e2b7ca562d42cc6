package farm

import (
	"context"
	"testing"
	"time"

	"github.com/Cstannahill/farm-framework/config"
	"github.com/Cstannahill/farm-framework/core"
	"github.com/Cstannahill/farm-framework/internal/testutil"
	"github.com/Cstannahill/farm-framework/live"
	"github.com/Cstannahill/farm-framework/router"
)

// The facade is the session backend.
var _ live.Backend = (*Client)(nil)

func newTestClient(t *testing.T) (*Client, *testutil.MockProvider) {
	t.Helper()
	cfg := config.Default()
	cfg.Providers.OpenAI.Enabled = false
	cfg.Providers.Ollama.Enabled = false
	cfg.Providers.Hub.Enabled = false
	cfg.Retry.BaseDelay = time.Millisecond

	provider := testutil.NewMockProvider()
	r := router.New(cfg, nil)
	r.Register("mock", provider)
	r.SetDefault("mock")

	return New(cfg, WithRouter(r)), provider
}

func TestChatThroughDefault(t *testing.T) {
	client, provider := newTestClient(t)

	res, err := client.Chat(context.Background(), "", core.Request{
		Messages: []core.Message{core.UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Text != "mock response" {
		t.Fatalf("unexpected text: %s", res.Text)
	}
	if len(provider.ChatCalls) != 1 {
		t.Fatalf("chat calls = %d", len(provider.ChatCalls))
	}
}

func TestChatUnknownProvider(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.Chat(context.Background(), "nope", core.Request{Prompt: "hi"})
	if !core.IsUnknownProvider(err) {
		t.Fatalf("expected unknown provider, got %v", err)
	}
}

func TestChatRetriesTransientFailure(t *testing.T) {
	client, provider := newTestClient(t)

	calls := 0
	provider.OnChat = func(ctx context.Context, req core.Request) (*core.ChatResult, error) {
		calls++
		if calls == 1 {
			return nil, core.NewError(core.ErrRateLimited, "slow down")
		}
		return &core.ChatResult{Text: "recovered"}, nil
	}

	res, err := client.Chat(context.Background(), "mock", core.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Text != "recovered" || calls != 2 {
		t.Fatalf("text=%q calls=%d", res.Text, calls)
	}
}

func TestChatFatalErrorNotRetried(t *testing.T) {
	client, provider := newTestClient(t)

	calls := 0
	provider.OnChat = func(ctx context.Context, req core.Request) (*core.ChatResult, error) {
		calls++
		return nil, core.NewError(core.ErrInvalidModel, "missing")
	}

	_, err := client.Chat(context.Background(), "mock", core.Request{Prompt: "hi"})
	if !core.IsInvalidModel(err) {
		t.Fatalf("expected invalid model, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("fatal error retried: %d calls", calls)
	}
}

func TestStreamChatOpensStream(t *testing.T) {
	client, _ := newTestClient(t)

	stream, err := client.StreamChat(context.Background(), "", core.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	text, err := stream.CollectText()
	if err != nil {
		t.Fatalf("CollectText: %v", err)
	}
	if text != "mock response" {
		t.Fatalf("unexpected text: %s", text)
	}
}

func TestEmbed(t *testing.T) {
	client, provider := newTestClient(t)
	provider.EmbedVector = []float64{1, 2, 3}

	vec, err := client.Embed(context.Background(), "", "hello", "")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("unexpected vector: %v", vec)
	}
}

func TestRateLimitStatusTracksUsage(t *testing.T) {
	client, _ := newTestClient(t)

	if _, err := client.Chat(context.Background(), "mock", core.Request{Prompt: "hello world"}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	status := client.RateLimitStatus()
	st, ok := status["mock"]
	if !ok {
		t.Fatalf("no limiter for mock: %v", status)
	}
	if st.RequestsUsed != 1 {
		t.Fatalf("requests used = %d", st.RequestsUsed)
	}
	if st.TokensUsed == 0 {
		t.Fatal("token estimate not recorded")
	}
}

func TestLoadModelPrefersProgressPath(t *testing.T) {
	client, provider := newTestClient(t)

	var reports int
	err := client.LoadModel(context.Background(), "mock", "mock-model", func(core.ModelLoadProgress) {
		reports++
	})
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	// MockProvider has no progress path; the plain load runs.
	if len(provider.LoadCalls) != 1 || provider.LoadCalls[0] != "mock-model" {
		t.Fatalf("load calls: %v", provider.LoadCalls)
	}
	if reports != 0 {
		t.Fatalf("unexpected progress reports: %d", reports)
	}
}

func TestHealthSnapshot(t *testing.T) {
	client, provider := newTestClient(t)
	provider.Healthy = true

	status := client.HealthSnapshot(context.Background())
	if !status["mock"] {
		t.Fatalf("unexpected status: %v", status)
	}
}
