// Package live manages websocket streaming sessions: one duplex channel
// per client, at most one in-flight stream per session, last-request-wins
// cancellation.
package live

import (
	"github.com/Cstannahill/farm-framework/core"
)

// Message type constants for the duplex protocol.
const (
	// Client → Server
	MsgChatRequest    = "chat_request"
	MsgStopGeneration = "stop_generation"
	MsgSwitchProvider = "switch_provider"
	MsgLoadModel      = "load_model"
	MsgPing           = "ping"

	// Server → Client
	EventTypeConnection      = "connection"
	EventTypeStreamStart     = "stream_start"
	EventTypeToken           = "token"
	EventTypeStreamComplete  = "stream_complete"
	EventTypeStreamCancelled = "stream_cancelled"
	EventTypeModelLoading    = "model_loading"
	EventTypeModelLoaded     = "model_loaded"
	EventTypeProviderSwitch  = "provider_switched"
	EventTypeProviderHealth  = "provider_health"
	EventTypeError           = "error"
	EventTypePong            = "pong"
)

// Error codes carried by protocol error events.
const (
	CodeParseError        = "parse_error"
	CodeUnknownMessage    = "unknown_message"
	CodeNoActiveStream    = "no_active_stream"
	CodeUnknownProvider   = "unknown_provider"
	CodeProviderUnhealthy = "provider_unhealthy"
	CodeModelLoadFailed   = "model_load_failed"
	CodeStreamFailed      = "stream_failed"
)

// --- Client → Server messages ---

// ChatRequestMessage starts a new stream. Content appends one user turn to
// the session transcript; Messages, when present, replaces the transcript
// wholesale.
type ChatRequestMessage struct {
	Type        string         `json:"type"`
	Content     string         `json:"content,omitempty"`
	Messages    []core.Message `json:"messages,omitempty"`
	Model       string         `json:"model,omitempty"`
	Provider    string         `json:"provider,omitempty"`
	Temperature float32        `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	TopP        float32        `json:"top_p,omitempty"`
}

// StopGenerationMessage cancels the active stream.
type StopGenerationMessage struct {
	Type string `json:"type"`
}

// SwitchProviderMessage changes the session's active provider.
type SwitchProviderMessage struct {
	Type     string `json:"type"`
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// LoadModelMessage materializes a model ahead of use.
type LoadModelMessage struct {
	Type     string `json:"type"`
	Model    string `json:"model"`
	Provider string `json:"provider,omitempty"`
}

// PingMessage is a keepalive probe.
type PingMessage struct {
	Type string `json:"type"`
}
