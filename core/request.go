package core

// Request represents a single chat or completion exchange.
type Request struct {
	Model string `json:"model,omitempty"`

	Messages []Message `json:"messages,omitempty"`

	// Prompt is used by Generate in place of Messages.
	Prompt string `json:"prompt,omitempty"`

	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	TopP        float32 `json:"top_p,omitempty"`

	Stream bool `json:"stream,omitempty"`
}

// Clone returns a copy of the request with the message slice duplicated so
// callers can extend transcripts without aliasing.
func (r Request) Clone() Request {
	clone := r
	if len(r.Messages) > 0 {
		clone.Messages = append([]Message(nil), r.Messages...)
	}
	return clone
}

// InputText returns the text the request sends upstream, for token
// estimation.
func (r Request) InputText() string {
	if r.Prompt != "" {
		return r.Prompt
	}
	return JoinContent(r.Messages)
}

// ChatResult is the outcome of a single-shot chat or generate call.
type ChatResult struct {
	Text       string `json:"text"`
	Model      string `json:"model"`
	Provider   string `json:"provider"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Usage      Usage  `json:"usage,omitempty"`
}

// Usage captures token accounting reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
	TotalTokens  int `json:"total_tokens,omitempty"`
}
