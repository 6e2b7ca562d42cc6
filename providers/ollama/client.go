// Package ollama implements the provider contract for a local inference
// daemon. Model weights are materialized lazily via the daemon's pull API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Cstannahill/farm-framework/core"
	"github.com/Cstannahill/farm-framework/internal/httpclient"
	"github.com/Cstannahill/farm-framework/obs"
)

const providerName = "ollama"

// Client implements core.Provider against the local daemon HTTP API.
type Client struct {
	httpClient *http.Client
	opts       options
	catalog    *core.Catalog
}

// New constructs an ollama client.
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

func (c *Client) Chat(ctx context.Context, req core.Request) (_ *core.ChatResult, err error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.ollama.Chat",
		attribute.String("ai.provider", providerName),
	)
	defer func() { recorder.End(err, 0) }()

	model := c.chooseModel(req.Model)
	payload := chatRequest{Model: model, Messages: toWireMessages(req.Messages), Options: sampling(req)}
	recorder.AddAttributes(attribute.String("ai.model", model))

	body, err := c.doRequest(ctx, http.MethodPost, "/api/chat", payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp chatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, core.NewError(core.ErrUpstream, "decode chat response", core.WithProvider(providerName), core.WithWrapped(err))
	}
	return &core.ChatResult{
		Text:     resp.Message.Content,
		Model:    resp.Model,
		Provider: providerName,
		Usage: core.Usage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
			TotalTokens:  resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

func (c *Client) StreamChat(ctx context.Context, req core.Request) (*core.Stream, error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.ollama.StreamChat",
		attribute.String("ai.provider", providerName),
	)
	model := c.chooseModel(req.Model)
	payload := chatRequest{Model: model, Messages: toWireMessages(req.Messages), Stream: true, Options: sampling(req)}
	recorder.AddAttributes(attribute.String("ai.model", model))

	body, err := c.doRequest(ctx, http.MethodPost, "/api/chat", payload)
	if err != nil {
		recorder.End(err, 0)
		return nil, err
	}

	stream := core.NewStream(ctx, 64)
	go func() {
		c.consumeChatStream(body, model, stream)
		recorder.End(stream.Err(), int64(stream.Meta().Usage.TotalTokens))
	}()
	return stream, nil
}

func (c *Client) Generate(ctx context.Context, req core.Request) (_ *core.ChatResult, err error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.ollama.Generate",
		attribute.String("ai.provider", providerName),
	)
	defer func() { recorder.End(err, 0) }()

	model := c.chooseModel(req.Model)
	body, err := c.doRequest(ctx, http.MethodPost, "/api/generate", generateRequest{Model: model, Prompt: req.Prompt, Options: sampling(req)})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp generateResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, core.NewError(core.ErrUpstream, "decode generate response", core.WithProvider(providerName), core.WithWrapped(err))
	}
	return &core.ChatResult{
		Text:     resp.Response,
		Model:    resp.Model,
		Provider: providerName,
		Usage: core.Usage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
			TotalTokens:  resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

func (c *Client) StreamGenerate(ctx context.Context, req core.Request) (*core.Stream, error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.ollama.StreamGenerate",
		attribute.String("ai.provider", providerName),
	)
	model := c.chooseModel(req.Model)
	body, err := c.doRequest(ctx, http.MethodPost, "/api/generate", generateRequest{Model: model, Prompt: req.Prompt, Stream: true, Options: sampling(req)})
	if err != nil {
		recorder.End(err, 0)
		return nil, err
	}

	stream := core.NewStream(ctx, 64)
	go func() {
		c.consumeGenerateStream(body, model, stream)
		recorder.End(stream.Err(), int64(stream.Meta().Usage.TotalTokens))
	}()
	return stream, nil
}

func (c *Client) Embed(ctx context.Context, text, model string) (_ []float64, err error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.ollama.Embed",
		attribute.String("ai.provider", providerName),
	)
	defer func() { recorder.End(err, 0) }()

	body, err := c.doRequest(ctx, http.MethodPost, "/api/embeddings", embeddingsRequest{Model: c.chooseModel(model), Prompt: text})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp embeddingsResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, core.NewError(core.ErrUpstream, "decode embeddings response", core.WithProvider(providerName), core.WithWrapped(err))
	}
	return resp.Embedding, nil
}

// ListModels queries the daemon inventory and replaces the catalog with the
// verified set.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp tagsResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, core.NewError(core.ErrUpstream, "decode tags response", core.WithProvider(providerName), core.WithWrapped(err))
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	c.catalog.Replace(names)
	return names, nil
}

// LoadModel pulls a model if the daemon does not already have it. Idempotent:
// an already-present model is verified against the inventory, not
// re-downloaded.
func (c *Client) LoadModel(ctx context.Context, model string) error {
	return c.LoadModelWithProgress(ctx, model, nil)
}

// LoadModelWithProgress pulls a model, streaming download progress to report.
func (c *Client) LoadModelWithProgress(ctx context.Context, model string, report core.LoadReporter) error {
	if c.hasModel(ctx, model) {
		c.catalog.Set(model, true)
		return nil
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/api/pull", pullRequest{Name: model, Stream: true})
	if err != nil {
		c.catalog.Set(model, false)
		return err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var progress pullProgress
		if err := json.Unmarshal(line, &progress); err != nil {
			continue
		}
		if report != nil {
			report(core.ModelLoadProgress{
				Model:     model,
				Status:    progress.Status,
				Total:     progress.Total,
				Completed: progress.Completed,
			})
		}
		if progress.Status == "success" || strings.Contains(strings.ToLower(progress.Status), "successfully") {
			c.catalog.Set(model, true)
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		c.catalog.Set(model, false)
		return c.classifyTransport(err)
	}
	c.catalog.Set(model, false)
	return core.NewError(core.ErrInvalidModel, fmt.Sprintf("pull %s did not complete", model), core.WithProvider(providerName))
}

// UnloadModel returns the model to the untried state. The daemon frees
// memory on its own idle timers; nothing to do upstream.
func (c *Client) UnloadModel(ctx context.Context, model string) error {
	c.catalog.Remove(model)
	return nil
}

// HealthCheck probes the daemon version endpoint. Never raises; any failure
// reports false.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, core.DefaultProbeTimeout)
	defer cancel()

	body, err := c.doRequest(ctx, http.MethodGet, "/api/version", nil)
	if err != nil {
		return false
	}
	body.Close()
	return true
}

func (c *Client) Catalog() *core.Catalog { return c.catalog }

func (c *Client) Capabilities() core.Capabilities {
	return core.Capabilities{
		Streaming:      true,
		Embeddings:     true,
		ModelLifecycle: true,
		Provider:       providerName,
		DefaultModel:   c.opts.model,
		Models:         c.catalog.Models(),
	}
}

func (c *Client) hasModel(ctx context.Context, model string) bool {
	names, err := c.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, name := range names {
		if name == model {
			return true
		}
	}
	return false
}

func (c *Client) chooseModel(requested string) string {
	if requested != "" {
		return requested
	}
	return c.opts.model
}

func (c *Client) consumeChatStream(body io.ReadCloser, model string, stream *core.Stream) {
	defer body.Close()
	defer stream.Close()

	started := time.Now()
	var full strings.Builder
	seq := 0

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			stream.Fail(core.NewError(core.ErrUpstream, "decode stream chunk", core.WithProvider(providerName), core.WithWrapped(err)))
			return
		}
		if chunk.Message.Content != "" {
			seq++
			full.WriteString(chunk.Message.Content)
			stream.Push(core.StreamEvent{
				Type:      core.EventToken,
				Seq:       seq,
				Timestamp: time.Now(),
				Provider:  providerName,
				Model:     model,
				Text:      chunk.Message.Content,
			})
		}
		if chunk.Done {
			seq++
			stream.Push(core.StreamEvent{
				Type:       core.EventComplete,
				Seq:        seq,
				Timestamp:  time.Now(),
				Provider:   providerName,
				Model:      model,
				FullText:   full.String(),
				DurationMS: time.Since(started).Milliseconds(),
				Usage: core.Usage{
					InputTokens:  chunk.PromptEvalCount,
					OutputTokens: chunk.EvalCount,
					TotalTokens:  chunk.PromptEvalCount + chunk.EvalCount,
				},
			})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		stream.Fail(c.classifyTransport(err))
	}
}

func (c *Client) consumeGenerateStream(body io.ReadCloser, model string, stream *core.Stream) {
	defer body.Close()
	defer stream.Close()

	started := time.Now()
	var full strings.Builder
	seq := 0

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			stream.Fail(core.NewError(core.ErrUpstream, "decode stream chunk", core.WithProvider(providerName), core.WithWrapped(err)))
			return
		}
		if chunk.Response != "" {
			seq++
			full.WriteString(chunk.Response)
			stream.Push(core.StreamEvent{
				Type:      core.EventToken,
				Seq:       seq,
				Timestamp: time.Now(),
				Provider:  providerName,
				Model:     model,
				Text:      chunk.Response,
			})
		}
		if chunk.Done {
			seq++
			stream.Push(core.StreamEvent{
				Type:       core.EventComplete,
				Seq:        seq,
				Timestamp:  time.Now(),
				Provider:   providerName,
				Model:      model,
				FullText:   full.String(),
				DurationMS: time.Since(started).Milliseconds(),
				Usage: core.Usage{
					InputTokens:  chunk.PromptEvalCount,
					OutputTokens: chunk.EvalCount,
					TotalTokens:  chunk.PromptEvalCount + chunk.EvalCount,
				},
			})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		stream.Fail(c.classifyTransport(err))
	}
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

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransport(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, string(data))
	}
	return resp.Body, nil
}

// classifyTransport maps local transport failures; a refused connection means
// the daemon is down.
func (c *Client) classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return core.WrapError(err, core.ErrCanceled)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return core.NewError(core.ErrUnavailable, "daemon unreachable", core.WithProvider(providerName), core.WithWrapped(err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewError(core.ErrUnavailable, "daemon timed out", core.WithProvider(providerName), core.WithWrapped(err))
	}
	return core.NewError(core.ErrUnavailable, "transport failure", core.WithProvider(providerName), core.WithWrapped(err))
}

func classifyStatus(status int, body string) error {
	msg := fmt.Sprintf("status %d: %s", status, body)
	switch {
	case status == http.StatusNotFound || strings.Contains(body, "model") && strings.Contains(body, "not found"):
		return core.NewError(core.ErrInvalidModel, msg, core.WithProvider(providerName), core.WithStatus(status))
	case status == http.StatusTooManyRequests:
		return core.NewError(core.ErrRateLimited, msg, core.WithProvider(providerName), core.WithStatus(status))
	default:
		return core.NewError(core.ErrUpstream, msg, core.WithProvider(providerName), core.WithStatus(status))
	}
}

func toWireMessages(messages []core.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func sampling(req core.Request) map[string]any {
	opts := map[string]any{}
	if req.Temperature != 0 {
		opts["temperature"] = req.Temperature
	}
	if req.TopP != 0 {
		opts["top_p"] = req.TopP
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}
