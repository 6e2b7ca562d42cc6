package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/Cstannahill/farm-framework/core"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func newTestClient(t *testing.T, transport roundTripFunc) *Client {
	t.Helper()
	client, err := New(
		WithAPIKey("sk-test"),
		WithBaseURL("https://api.test/v1"),
		WithHTTPClient(&http.Client{Transport: transport}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New()
	if err == nil || core.ErrorCodeOf(err) != core.ErrConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestChat(t *testing.T) {
	var captured chatCompletionRequest
	var auth string
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		body := `{"model":"gpt-4o-mini","choices":[{"message":{"role":"assistant","content":"Hello"}}],"usage":{"prompt_tokens":9,"completion_tokens":2,"total_tokens":11}}`
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewBufferString(body)),
		}, nil
	})

	res, err := client.Chat(context.Background(), core.Request{
		Messages: []core.Message{core.UserMessage("Hi")},
		Model:    "gpt-4o-mini",
	})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if res.Text != "Hello" {
		t.Fatalf("unexpected text: %s", res.Text)
	}
	if res.Usage.TotalTokens != 11 {
		t.Fatalf("unexpected usage: %+v", res.Usage)
	}
	if auth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header: %q", auth)
	}
	if captured.Model != "gpt-4o-mini" || captured.Stream {
		t.Fatalf("unexpected payload: %+v", captured)
	}
}

func TestStreamChat(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{}}],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n" +
		"data: [DONE]\n\n"
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewBufferString(body)),
			Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		}, nil
	})

	stream, err := client.StreamChat(context.Background(), core.Request{
		Messages: []core.Message{core.UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("StreamChat error: %v", err)
	}

	var output string
	var sawComplete bool
	for ev := range stream.Events() {
		switch ev.Type {
		case core.EventToken:
			output += ev.Text
		case core.EventComplete:
			sawComplete = true
			if ev.FullText != "Hello" {
				t.Fatalf("unexpected full text: %s", ev.FullText)
			}
			if ev.Usage.TotalTokens != 7 {
				t.Fatalf("usage not captured: %+v", ev.Usage)
			}
		}
	}
	if output != "Hello" || !sawComplete {
		t.Fatalf("output=%q sawComplete=%v", output, sawComplete)
	}
}

func TestStreamChatCompletesWithoutSentinel(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n"
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewBufferString(body)),
		}, nil
	})

	stream, err := client.StreamChat(context.Background(), core.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("StreamChat error: %v", err)
	}
	var sawComplete bool
	for ev := range stream.Events() {
		if ev.Type == core.EventComplete {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Fatal("stream closed without a terminal complete event")
	}
}

func TestStreamChatBadChunkIsProtocolError(t *testing.T) {
	body := "data: {not json}\n\n"
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewBufferString(body)),
		}, nil
	})

	stream, err := client.StreamChat(context.Background(), core.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("StreamChat error: %v", err)
	}
	var sawError bool
	for ev := range stream.Events() {
		if ev.Type == core.EventError {
			sawError = true
			if !core.IsProtocol(ev.Error) {
				t.Fatalf("expected protocol error, got %v", ev.Error)
			}
		}
	}
	if !sawError {
		t.Fatal("malformed chunk did not surface an error event")
	}
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusTooManyRequests,
			Body:       io.NopCloser(bytes.NewBufferString(`{"error":{"message":"rate limit"}}`)),
			Header:     http.Header{"Retry-After": []string{"30"}},
		}, nil
	})

	_, err := client.Chat(context.Background(), core.Request{Prompt: "hi"})
	if !core.IsRateLimited(err) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if !core.IsRetryable(err) {
		t.Fatal("rate limited must be retryable")
	}
	var aiErr *core.AIError
	if !errors.As(err, &aiErr) || aiErr.RetryAfter != 30 {
		t.Fatalf("retry-after not captured: %+v", aiErr)
	}
}

func TestServerErrorRetryable(t *testing.T) {
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusInternalServerError,
			Body:       io.NopCloser(bytes.NewBufferString(`{"error":{"message":"boom"}}`)),
		}, nil
	})
	_, err := client.Chat(context.Background(), core.Request{Prompt: "hi"})
	if !core.IsUpstream(err) || !core.IsRetryable(err) {
		t.Fatalf("5xx must be retryable upstream, got %v", err)
	}
}

func TestModelNotFound(t *testing.T) {
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(bytes.NewBufferString(`{"error":{"message":"missing","code":"model_not_found"}}`)),
		}, nil
	})
	_, err := client.Chat(context.Background(), core.Request{Prompt: "hi", Model: "nope"})
	if !core.IsInvalidModel(err) {
		t.Fatalf("expected invalid model, got %v", err)
	}
	if core.IsRetryable(err) {
		t.Fatal("invalid model must not be retryable")
	}
}

func TestEmbedDefaultsModel(t *testing.T) {
	var captured embeddingsRequest
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewBufferString(`{"data":[{"embedding":[0.1,0.2]}]}`)),
		}, nil
	})
	vec, err := client.Embed(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("unexpected vector: %v", vec)
	}
	if captured.Model != "text-embedding-3-small" {
		t.Fatalf("default model not applied: %s", captured.Model)
	}
}

func TestListModelsRefreshesCatalog(t *testing.T) {
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewBufferString(`{"data":[{"id":"gpt-4o-mini"},{"id":"gpt-4o"}]}`)),
		}, nil
	})
	names, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("unexpected names: %v", names)
	}
	if available, known := client.Catalog().Lookup("gpt-4o"); !known || !available {
		t.Fatalf("catalog not refreshed: available=%v known=%v", available, known)
	}
}

func TestCapabilitiesNoLifecycle(t *testing.T) {
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("unused")
	})
	caps := client.Capabilities()
	if caps.ModelLifecycle {
		t.Fatal("hosted provider must not advertise model lifecycle")
	}
	if !caps.Streaming || !caps.Embeddings {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
}
