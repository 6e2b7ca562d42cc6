package ollama

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

func jsonResponse(status int, v any) *http.Response {
	buf, _ := json.Marshal(v)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(buf)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestChat(t *testing.T) {
	var captured chatRequest
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/api/chat" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		return jsonResponse(http.StatusOK, chatResponse{
			Model:           "llama3.2",
			Message:         chatMessage{Role: "assistant", Content: "Hello"},
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       3,
		}), nil
	})

	client := New(
		WithBaseURL("http://daemon.test"),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithModel("llama3.2"),
	)

	res, err := client.Chat(context.Background(), core.Request{
		Messages: []core.Message{core.UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if res.Text != "Hello" {
		t.Fatalf("unexpected text: %s", res.Text)
	}
	if res.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected usage: %+v", res.Usage)
	}
	if captured.Model != "llama3.2" || captured.Stream {
		t.Fatalf("unexpected payload: %+v", captured)
	}
}

func TestStreamChat(t *testing.T) {
	lines := `{"model":"llama3.2","message":{"role":"assistant","content":"Hel"},"done":false}
{"model":"llama3.2","message":{"role":"assistant","content":"lo"},"done":false}
{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":10,"eval_count":2}
`
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewBufferString(lines)),
			Header:     http.Header{"Content-Type": []string{"application/x-ndjson"}},
		}, nil
	})

	client := New(
		WithBaseURL("http://daemon.test"),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithModel("llama3.2"),
	)

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
			if ev.Usage.TotalTokens != 12 {
				t.Fatalf("unexpected usage: %+v", ev.Usage)
			}
		}
	}
	if output != "Hello" {
		t.Fatalf("unexpected streamed text: %s", output)
	}
	if !sawComplete {
		t.Fatal("no complete event")
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		body   string
		check  func(error) bool
		name   string
	}{
		{http.StatusNotFound, `{"error":"model not found"}`, core.IsInvalidModel, "invalid model"},
		{http.StatusTooManyRequests, `{"error":"busy"}`, core.IsRateLimited, "rate limited"},
		{http.StatusInternalServerError, `{"error":"boom"}`, core.IsUpstream, "upstream"},
	}
	for _, tc := range cases {
		transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: tc.status,
				Body:       io.NopCloser(bytes.NewBufferString(tc.body)),
			}, nil
		})
		client := New(
			WithBaseURL("http://daemon.test"),
			WithHTTPClient(&http.Client{Transport: transport}),
			WithModel("llama3.2"),
		)
		_, err := client.Chat(context.Background(), core.Request{Prompt: "hi"})
		if err == nil || !tc.check(err) {
			t.Errorf("%s: wrong classification: %v", tc.name, err)
		}
	}
}

func TestRetryableClassification(t *testing.T) {
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusInternalServerError,
			Body:       io.NopCloser(bytes.NewBufferString(`{"error":"boom"}`)),
		}, nil
	})
	client := New(
		WithBaseURL("http://daemon.test"),
		WithHTTPClient(&http.Client{Transport: transport}),
	)
	_, err := client.Chat(context.Background(), core.Request{Prompt: "hi"})
	if !core.IsRetryable(err) {
		t.Fatalf("5xx must be retryable: %v", err)
	}
}

func TestConnectionRefusedIsUnavailable(t *testing.T) {
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp 127.0.0.1:11434: connect: connection refused")
	})
	client := New(
		WithBaseURL("http://daemon.test"),
		WithHTTPClient(&http.Client{Transport: transport}),
	)
	_, err := client.Chat(context.Background(), core.Request{Prompt: "hi"})
	if !core.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestLoadModelAlreadyPresent(t *testing.T) {
	var pulled bool
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		switch r.URL.Path {
		case "/api/tags":
			return jsonResponse(http.StatusOK, map[string]any{
				"models": []map[string]any{{"name": "llama3.2"}},
			}), nil
		case "/api/pull":
			pulled = true
			return jsonResponse(http.StatusOK, map[string]any{"status": "success"}), nil
		}
		t.Fatalf("unexpected path %s", r.URL.Path)
		return nil, nil
	})
	client := New(
		WithBaseURL("http://daemon.test"),
		WithHTTPClient(&http.Client{Transport: transport}),
	)

	if err := client.LoadModel(context.Background(), "llama3.2"); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if pulled {
		t.Fatal("already-present model re-downloaded")
	}
	if available, known := client.Catalog().Lookup("llama3.2"); !known || !available {
		t.Fatalf("catalog not updated: available=%v known=%v", available, known)
	}
}

func TestLoadModelPullsWithProgress(t *testing.T) {
	pullBody := `{"status":"pulling manifest"}
{"status":"downloading","total":1000,"completed":500}
{"status":"success"}
`
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		switch r.URL.Path {
		case "/api/tags":
			return jsonResponse(http.StatusOK, map[string]any{"models": []map[string]any{}}), nil
		case "/api/pull":
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(bytes.NewBufferString(pullBody)),
			}, nil
		}
		t.Fatalf("unexpected path %s", r.URL.Path)
		return nil, nil
	})
	client := New(
		WithBaseURL("http://daemon.test"),
		WithHTTPClient(&http.Client{Transport: transport}),
	)

	var progress []core.ModelLoadProgress
	err := client.LoadModelWithProgress(context.Background(), "llama3.2", func(p core.ModelLoadProgress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("LoadModelWithProgress: %v", err)
	}
	if len(progress) != 3 {
		t.Fatalf("expected 3 progress reports, got %d", len(progress))
	}
	if progress[1].Completed != 500 || progress[1].Total != 1000 {
		t.Fatalf("unexpected progress: %+v", progress[1])
	}
	if available, _ := client.Catalog().Lookup("llama3.2"); !available {
		t.Fatal("catalog not marked available after pull")
	}
}

func TestUnloadModelReturnsToUntried(t *testing.T) {
	client := New(WithModels([]string{"llama3.2"}))
	if err := client.UnloadModel(context.Background(), "llama3.2"); err != nil {
		t.Fatalf("UnloadModel: %v", err)
	}
	if _, known := client.Catalog().Lookup("llama3.2"); known {
		t.Fatal("unloaded model must be untried, not false")
	}
}

func TestHealthCheckNeverRaises(t *testing.T) {
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	client := New(
		WithBaseURL("http://daemon.test"),
		WithHTTPClient(&http.Client{Transport: transport}),
	)
	if client.HealthCheck(context.Background()) {
		t.Fatal("unreachable daemon reported healthy")
	}
}

func TestListModelsRefreshesCatalog(t *testing.T) {
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, map[string]any{
			"models": []map[string]any{{"name": "a"}, {"name": "b"}},
		}), nil
	})
	client := New(
		WithBaseURL("http://daemon.test"),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithModels([]string{"stale"}),
	)
	names, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("unexpected names: %v", names)
	}
	if _, known := client.Catalog().Lookup("stale"); known {
		t.Fatal("stale entry survived refresh")
	}
}
