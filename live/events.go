package live

import "github.com/Cstannahill/farm-framework/core"

// SessionEvent is an outbound event on the duplex channel. The wire frame
// carries the event type, a timestamp, and the event's own fields.
type SessionEvent interface {
	liveEventType() string
}

// ConnectionEvent acknowledges a new session, listing the configured
// providers and the environment default.
type ConnectionEvent struct {
	SessionID string   `json:"session_id"`
	Providers []string `json:"providers"`
	Default   string   `json:"default_provider"`
}

func (e ConnectionEvent) liveEventType() string { return EventTypeConnection }

// StreamStartEvent opens a stream.
type StreamStartEvent struct {
	StreamID string `json:"stream_id"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (e StreamStartEvent) liveEventType() string { return EventTypeStreamStart }

// TokenEvent carries one text fragment.
type TokenEvent struct {
	StreamID string `json:"stream_id"`
	Seq      int    `json:"seq"`
	Content  string `json:"content"`
}

func (e TokenEvent) liveEventType() string { return EventTypeToken }

// StreamCompleteEvent closes a stream normally.
type StreamCompleteEvent struct {
	StreamID   string     `json:"stream_id"`
	FullText   string     `json:"full_text"`
	DurationMS int64      `json:"duration_ms"`
	Usage      core.Usage `json:"usage,omitempty"`
}

func (e StreamCompleteEvent) liveEventType() string { return EventTypeStreamComplete }

// StreamCancelledEvent closes a stream after cooperative cancellation.
type StreamCancelledEvent struct {
	StreamID string `json:"stream_id"`
}

func (e StreamCancelledEvent) liveEventType() string { return EventTypeStreamCancelled }

// ModelLoadingEvent reports model materialization progress.
type ModelLoadingEvent struct {
	Model     string `json:"model"`
	Provider  string `json:"provider"`
	Status    string `json:"status,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

func (e ModelLoadingEvent) liveEventType() string { return EventTypeModelLoading }

// ModelLoadedEvent signals a model is ready.
type ModelLoadedEvent struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

func (e ModelLoadedEvent) liveEventType() string { return EventTypeModelLoaded }

// ProviderSwitchedEvent confirms an active-provider change.
type ProviderSwitchedEvent struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

func (e ProviderSwitchedEvent) liveEventType() string { return EventTypeProviderSwitch }

// ProviderHealthEvent broadcasts an aggregated health snapshot.
type ProviderHealthEvent struct {
	Status map[string]bool `json:"status"`
}

func (e ProviderHealthEvent) liveEventType() string { return EventTypeProviderHealth }

// ErrorEvent reports a failure local to one message or stream; the channel
// stays open.
type ErrorEvent struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	StreamID string `json:"stream_id,omitempty"`
}

func (e ErrorEvent) liveEventType() string { return EventTypeError }

// PongEvent answers a ping.
type PongEvent struct{}

func (e PongEvent) liveEventType() string { return EventTypePong }
