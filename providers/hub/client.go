// Package hub implements the provider contract for the hosted model-hub
// inference API. The API serves one model per URL and has no native token
// streaming, so stream operations deliver the full completion as a single
// token event.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Cstannahill/farm-framework/core"
	"github.com/Cstannahill/farm-framework/internal/httpclient"
	"github.com/Cstannahill/farm-framework/obs"
)

const providerName = "hub"

// Client implements core.Provider against the hosted inference API.
type Client struct {
	httpClient *http.Client
	opts       options
	catalog    *core.Catalog
}

// New constructs a hub client.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.New(httpclient.WithTimeout(o.timeout))
	}
	return &Client{
		httpClient: o.httpClient,
		opts:       o,
		catalog:    core.NewCatalog(o.models...),
	}
}

// Chat flattens the transcript to a single prompt; the inference API has no
// chat-native endpoint.
func (c *Client) Chat(ctx context.Context, req core.Request) (*core.ChatResult, error) {
	flat := req.Clone()
	flat.Prompt = core.MessagesToPrompt(req.Messages)
	flat.Messages = nil
	return c.Generate(ctx, flat)
}

func (c *Client) StreamChat(ctx context.Context, req core.Request) (*core.Stream, error) {
	flat := req.Clone()
	flat.Prompt = core.MessagesToPrompt(req.Messages)
	flat.Messages = nil
	return c.StreamGenerate(ctx, flat)
}

func (c *Client) Generate(ctx context.Context, req core.Request) (_ *core.ChatResult, err error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.hub.Generate",
		attribute.String("ai.provider", providerName),
	)
	defer func() { recorder.End(err, 0) }()

	model := c.chooseModel(req.Model)
	recorder.AddAttributes(attribute.String("ai.model", model))

	started := time.Now()
	text, err := c.infer(ctx, model, req)
	if err != nil {
		return nil, err
	}
	return &core.ChatResult{
		Text:       text,
		Model:      model,
		Provider:   providerName,
		DurationMS: time.Since(started).Milliseconds(),
	}, nil
}

// StreamGenerate wraps the blocking inference call in the stream shape:
// one token event carrying the entire completion, then a terminal event.
func (c *Client) StreamGenerate(ctx context.Context, req core.Request) (*core.Stream, error) {
	model := c.chooseModel(req.Model)
	stream := core.NewStream(ctx, 2)
	go func() {
		defer stream.Close()
		started := time.Now()
		text, err := c.infer(ctx, model, req)
		if err != nil {
			stream.Fail(err)
			return
		}
		stream.Push(core.StreamEvent{
			Type:      core.EventToken,
			Seq:       1,
			Timestamp: time.Now(),
			Provider:  providerName,
			Model:     model,
			Text:      text,
		})
		stream.Push(core.StreamEvent{
			Type:       core.EventComplete,
			Seq:        2,
			Timestamp:  time.Now(),
			Provider:   providerName,
			Model:      model,
			FullText:   text,
			DurationMS: time.Since(started).Milliseconds(),
		})
	}()
	return stream, nil
}

func (c *Client) infer(ctx context.Context, model string, req core.Request) (string, error) {
	prompt := req.InputText()
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 100
	}
	payload := inferenceRequest{
		Inputs: prompt,
		Parameters: inferenceParameters{
			Temperature: req.Temperature,
			MaxLength:   len(strings.Fields(prompt)) + maxTokens,
			TopP:        req.TopP,
			DoSample:    true,
		},
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/"+model, payload)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var results []generatedText
	if err := json.NewDecoder(body).Decode(&results); err != nil {
		return "", core.NewError(core.ErrUpstream, "decode inference response", core.WithProvider(providerName), core.WithWrapped(err))
	}
	if len(results) == 0 {
		return "", core.NewError(core.ErrUpstream, "empty inference response", core.WithProvider(providerName))
	}
	text := results[0].GeneratedText
	// Some models echo the prompt despite return_full_text.
	if strings.HasPrefix(text, prompt) {
		text = strings.TrimSpace(text[len(prompt):])
	}
	return text, nil
}

func (c *Client) Embed(ctx context.Context, text, model string) (_ []float64, err error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.hub.Embed",
		attribute.String("ai.provider", providerName),
	)
	defer func() { recorder.End(err, 0) }()

	if model == "" {
		model = c.opts.embedModel
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/"+model, embedRequest{Inputs: text})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var embedding []float64
	if err := json.NewDecoder(body).Decode(&embedding); err != nil {
		return nil, core.NewError(core.ErrUpstream, "decode embedding response", core.WithProvider(providerName), core.WithWrapped(err))
	}
	return embedding, nil
}

// ListModels returns the configured set; the hub hosts far too many models
// to enumerate, so the configuration is the inventory.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	names := make([]string, len(c.opts.models))
	copy(names, c.opts.models)
	c.catalog.Replace(names)
	return names, nil
}

// LoadModel verifies the model is reachable upstream. The hub keeps weights
// resident; verification is the whole lifecycle.
func (c *Client) LoadModel(ctx context.Context, model string) error {
	body, err := c.doRequest(ctx, http.MethodGet, "/"+model, nil)
	if err != nil {
		c.catalog.Set(model, false)
		if core.IsInvalidModel(err) {
			return err
		}
		return core.NewError(core.ErrInvalidModel, fmt.Sprintf("model %s not accessible", model), core.WithProvider(providerName), core.WithWrapped(err))
	}
	body.Close()
	c.catalog.Set(model, true)
	return nil
}

// UnloadModel returns the model to the untried state; nothing to free
// upstream.
func (c *Client) UnloadModel(ctx context.Context, model string) error {
	c.catalog.Remove(model)
	return nil
}

// HealthCheck probes the default model endpoint. Never raises; any failure
// reports false.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, core.DefaultProbeTimeout)
	defer cancel()

	body, err := c.doRequest(ctx, http.MethodGet, "/"+c.opts.model, nil)
	if err != nil {
		return false
	}
	body.Close()
	return true
}

func (c *Client) Catalog() *core.Catalog { return c.catalog }

func (c *Client) Capabilities() core.Capabilities {
	return core.Capabilities{
		Streaming:      false,
		Embeddings:     true,
		ModelLifecycle: true,
		Provider:       providerName,
		DefaultModel:   c.opts.model,
		Models:         c.catalog.Models(),
	}
}

func (c *Client) chooseModel(requested string) string {
	if requested != "" {
		return requested
	}
	return c.opts.model
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any) (io.ReadCloser, error) {
	buf := &bytes.Buffer{}
	if payload != nil {
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return nil, core.NewError(core.ErrInternal, "marshal payload", core.WithProvider(providerName), core.WithWrapped(err))
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.opts.baseURL, "/")+path, buf)
	if err != nil {
		return nil, core.NewError(core.ErrInternal, "build request", core.WithProvider(providerName), core.WithWrapped(err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, data)
	}
	return resp.Body, nil
}

func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return core.WrapError(err, core.ErrCanceled)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewError(core.ErrUnavailable, "request timed out", core.WithProvider(providerName), core.WithWrapped(err))
	}
	return core.NewError(core.ErrUnavailable, "transport failure", core.WithProvider(providerName), core.WithWrapped(err))
}

func classifyStatus(status int, body []byte) error {
	msg := fmt.Sprintf("status %d", status)
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		msg = fmt.Sprintf("status %d: %s", status, parsed.Error)
	}
	switch status {
	case http.StatusNotFound:
		return core.NewError(core.ErrInvalidModel, msg, core.WithProvider(providerName), core.WithStatus(status))
	case http.StatusTooManyRequests:
		return core.NewError(core.ErrRateLimited, msg, core.WithProvider(providerName), core.WithStatus(status))
	default:
		// 503 while weights warm up stays an upstream error and retries.
		return core.NewError(core.ErrUpstream, msg, core.WithProvider(providerName), core.WithStatus(status))
	}
}
