// Package openai implements the provider contract for the hosted chat
// completions API.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Cstannahill/farm-framework/core"
	"github.com/Cstannahill/farm-framework/internal/httpclient"
	"github.com/Cstannahill/farm-framework/obs"
)

const providerName = "openai"

// Client implements core.Provider against the hosted API.
type Client struct {
	httpClient *http.Client
	opts       options
	catalog    *core.Catalog
}

// New constructs an openai client. Returns an error when no API key is
// configured; a keyless client could never authenticate.
func New(opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.apiKey == "" {
		return nil, core.NewError(core.ErrConfiguration, "missing API key", core.WithProvider(providerName))
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.New(httpclient.WithTimeout(o.timeout))
	}
	return &Client{
		httpClient: o.httpClient,
		opts:       o,
		catalog:    core.NewCatalog(o.models...),
	}, nil
}

func (c *Client) Chat(ctx context.Context, req core.Request) (_ *core.ChatResult, err error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.openai.Chat",
		attribute.String("ai.provider", providerName),
	)
	var total int64
	defer func() { recorder.End(err, total) }()

	model := c.chooseModel(req.Model)
	recorder.AddAttributes(attribute.String("ai.model", model))

	started := time.Now()
	body, err := c.doRequest(ctx, http.MethodPost, "/chat/completions", chatCompletionRequest{
		Model:       model,
		Messages:    toWireMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp chatCompletionResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, core.NewError(core.ErrUpstream, "decode chat response", core.WithProvider(providerName), core.WithWrapped(err))
	}
	if len(resp.Choices) == 0 {
		return nil, core.NewError(core.ErrUpstream, "empty choices", core.WithProvider(providerName))
	}
	total = int64(resp.Usage.TotalTokens)
	return &core.ChatResult{
		Text:       resp.Choices[0].Message.Content,
		Model:      resp.Model,
		Provider:   providerName,
		DurationMS: time.Since(started).Milliseconds(),
		Usage: core.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) StreamChat(ctx context.Context, req core.Request) (*core.Stream, error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.openai.StreamChat",
		attribute.String("ai.provider", providerName),
	)
	model := c.chooseModel(req.Model)
	recorder.AddAttributes(attribute.String("ai.model", model))

	body, err := c.doRequest(ctx, http.MethodPost, "/chat/completions", chatCompletionRequest{
		Model:       model,
		Messages:    toWireMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stream:      true,
	})
	if err != nil {
		recorder.End(err, 0)
		return nil, err
	}

	stream := core.NewStream(ctx, 64)
	go func() {
		c.consumeSSE(body, model, stream)
		recorder.End(stream.Err(), int64(stream.Meta().Usage.TotalTokens))
	}()
	return stream, nil
}

func (c *Client) Generate(ctx context.Context, req core.Request) (_ *core.ChatResult, err error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.openai.Generate",
		attribute.String("ai.provider", providerName),
	)
	var total int64
	defer func() { recorder.End(err, total) }()

	model := c.chooseModel(req.Model)
	started := time.Now()
	body, err := c.doRequest(ctx, http.MethodPost, "/completions", completionRequest{
		Model:       model,
		Prompt:      req.InputText(),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp completionResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, core.NewError(core.ErrUpstream, "decode completion response", core.WithProvider(providerName), core.WithWrapped(err))
	}
	if len(resp.Choices) == 0 {
		return nil, core.NewError(core.ErrUpstream, "empty choices", core.WithProvider(providerName))
	}
	total = int64(resp.Usage.TotalTokens)
	return &core.ChatResult{
		Text:       resp.Choices[0].Text,
		Model:      resp.Model,
		Provider:   providerName,
		DurationMS: time.Since(started).Milliseconds(),
		Usage: core.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) StreamGenerate(ctx context.Context, req core.Request) (*core.Stream, error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.openai.StreamGenerate",
		attribute.String("ai.provider", providerName),
	)
	model := c.chooseModel(req.Model)
	body, err := c.doRequest(ctx, http.MethodPost, "/completions", completionRequest{
		Model:       model,
		Prompt:      req.InputText(),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stream:      true,
	})
	if err != nil {
		recorder.End(err, 0)
		return nil, err
	}

	stream := core.NewStream(ctx, 64)
	go func() {
		c.consumeSSE(body, model, stream)
		recorder.End(stream.Err(), int64(stream.Meta().Usage.TotalTokens))
	}()
	return stream, nil
}

func (c *Client) Embed(ctx context.Context, text, model string) (_ []float64, err error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.openai.Embed",
		attribute.String("ai.provider", providerName),
	)
	defer func() { recorder.End(err, 0) }()

	if model == "" {
		model = "text-embedding-3-small"
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/embeddings", embeddingsRequest{Model: model, Input: text})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp embeddingsResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, core.NewError(core.ErrUpstream, "decode embeddings response", core.WithProvider(providerName), core.WithWrapped(err))
	}
	if len(resp.Data) == 0 {
		return nil, core.NewError(core.ErrUpstream, "empty embedding data", core.WithProvider(providerName))
	}
	return resp.Data[0].Embedding, nil
}

// ListModels queries the account model inventory and replaces the catalog
// with the verified set.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp modelsResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, core.NewError(core.ErrUpstream, "decode models response", core.WithProvider(providerName), core.WithWrapped(err))
	}
	names := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		names = append(names, m.ID)
	}
	c.catalog.Replace(names)
	return names, nil
}

// LoadModel is a no-op for a hosted provider; models are always resident
// upstream. The catalog still records the model as usable.
func (c *Client) LoadModel(ctx context.Context, model string) error {
	c.catalog.Set(model, true)
	return nil
}

// UnloadModel is a no-op for a hosted provider.
func (c *Client) UnloadModel(ctx context.Context, model string) error {
	c.catalog.Remove(model)
	return nil
}

// HealthCheck probes the models endpoint with a short deadline. Never
// raises; any failure reports false.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, core.DefaultProbeTimeout)
	defer cancel()

	body, err := c.doRequest(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return false
	}
	body.Close()
	return true
}

func (c *Client) Catalog() *core.Catalog { return c.catalog }

func (c *Client) Capabilities() core.Capabilities {
	return core.Capabilities{
		Streaming:    true,
		Embeddings:   true,
		Provider:     providerName,
		DefaultModel: c.opts.model,
		Models:       c.catalog.Models(),
	}
}

func (c *Client) chooseModel(requested string) string {
	if requested != "" {
		return requested
	}
	return c.opts.model
}

// consumeSSE reads "data:" framed chunks until the [DONE] sentinel, pushing
// one token event per non-empty delta.
func (c *Client) consumeSSE(body io.ReadCloser, model string, stream *core.Stream) {
	defer body.Close()
	defer stream.Close()

	started := time.Now()
	var full strings.Builder
	var usage core.Usage
	seq := 0

	complete := func() {
		seq++
		stream.Push(core.StreamEvent{
			Type:       core.EventComplete,
			Seq:        seq,
			Timestamp:  time.Now(),
			Provider:   providerName,
			Model:      model,
			FullText:   full.String(),
			DurationMS: time.Since(started).Milliseconds(),
			Usage:      usage,
		})
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			complete()
			return
		}
		var chunk streamDelta
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			stream.Fail(core.NewError(core.ErrProtocol, "decode stream chunk", core.WithProvider(providerName), core.WithWrapped(err)))
			return
		}
		if chunk.Usage != nil {
			usage = core.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		for _, choice := range chunk.Choices {
			text := choice.Delta.Content
			if text == "" {
				text = choice.Text
			}
			if text == "" {
				continue
			}
			seq++
			full.WriteString(text)
			stream.Push(core.StreamEvent{
				Type:      core.EventToken,
				Seq:       seq,
				Timestamp: time.Now(),
				Provider:  providerName,
				Model:     model,
				Text:      text,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		stream.Fail(classifyTransport(err))
		return
	}
	// Some gateways close the stream without the sentinel.
	complete()
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
	req.Header.Set("Authorization", "Bearer "+c.opts.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, data, resp.Header)
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

func classifyStatus(status int, body []byte, header http.Header) error {
	msg := fmt.Sprintf("status %d", status)
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		msg = fmt.Sprintf("status %d: %s", status, parsed.Error.Message)
	}
	switch {
	case status == http.StatusTooManyRequests:
		opts := []core.ErrorOption{core.WithProvider(providerName), core.WithStatus(status)}
		if after := retryAfterSeconds(header); after > 0 {
			opts = append(opts, core.WithRetryAfter(after))
		}
		return core.NewError(core.ErrRateLimited, msg, opts...)
	case status == http.StatusNotFound || parsed.Error.Code == "model_not_found":
		return core.NewError(core.ErrInvalidModel, msg, core.WithProvider(providerName), core.WithStatus(status))
	default:
		return core.NewError(core.ErrUpstream, msg, core.WithProvider(providerName), core.WithStatus(status))
	}
}

func retryAfterSeconds(header http.Header) int64 {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return secs
	}
	return 0
}

func toWireMessages(messages []core.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
