package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Cstannahill/farm-framework/core"
)

// Backend is the routing surface a session streams through. The facade
// client implements it with admission control and retries applied.
type Backend interface {
	Providers() []string
	Default() string
	Resolve(name string) (core.Provider, error)
	StreamChat(ctx context.Context, provider string, req core.Request) (*core.Stream, error)
	LoadModel(ctx context.Context, provider, model string, report core.LoadReporter) error
}

// SessionState is the lifecycle state of one session.
type SessionState int

const (
	// StateIdle means no stream is in flight.
	StateIdle SessionState = iota

	// StateStreaming means exactly one stream is in flight.
	StateStreaming

	// StateClosed means the session is finished.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// streamHandle is the single owned cancellation handle for the current
// stream. Replacing it cancels-and-awaits the previous one first.
type streamHandle struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Session is one duplex conversation: its own transcript, active provider
// and model, and at most one in-flight stream.
type Session struct {
	id      string
	conn    *websocket.Conn
	backend Backend
	logger  *slog.Logger

	transcriptMu sync.Mutex
	transcript   []core.Message

	providerMu     sync.RWMutex
	activeProvider string
	activeModel    string

	state   SessionState
	stateMu sync.RWMutex

	// startMu serializes stream replacement so two chat requests can never
	// race into two concurrent streams.
	startMu  sync.Mutex
	handleMu sync.Mutex
	current  *streamHandle

	outgoingEvents chan SessionEvent

	messagesReceived atomic.Int64
	eventsSent       atomic.Int64
	streamsStarted   atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	writeMu sync.Mutex
}

// SessionConfig configures a new Session.
type SessionConfig struct {
	Connection *websocket.Conn
	Backend    Backend
	Logger     *slog.Logger
	SessionID  string
}

// NewSession creates a session in the Idle state.
func NewSession(cfg SessionConfig) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	id := cfg.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		id:             id,
		conn:           cfg.Connection,
		backend:        cfg.Backend,
		logger:         logger.With("session_id", id),
		state:          StateIdle,
		outgoingEvents: make(chan SessionEvent, 64),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	s.activeProvider = cfg.Backend.Default()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.stateMu.Lock()
	if s.state != StateClosed {
		s.state = state
	}
	s.stateMu.Unlock()
}

// Done is closed when the session finishes.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start begins processing and acknowledges the connection.
func (s *Session) Start() {
	go s.readLoop()
	go s.writeLoop()

	s.sendEvent(ConnectionEvent{
		SessionID: s.id,
		Providers: s.backend.Providers(),
		Default:   s.backend.Default(),
	})
}

// Close cancels any active stream and releases the session. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.stateMu.Lock()
		s.state = StateClosed
		s.stateMu.Unlock()

		s.cancelCurrent(false)
		s.cancel()
		close(s.done)
		s.conn.Close()
	})
}

func (s *Session) readLoop() {
	defer s.Close()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.messagesReceived.Add(1)
		s.handleMessage(data)
	}
}

func (s *Session) handleMessage(data []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendEvent(ErrorEvent{Code: CodeParseError, Message: "invalid JSON"})
		return
	}

	switch msg.Type {
	case MsgChatRequest:
		var chatMsg ChatRequestMessage
		if err := json.Unmarshal(data, &chatMsg); err != nil {
			s.sendEvent(ErrorEvent{Code: CodeParseError, Message: err.Error()})
			return
		}
		go s.runChat(chatMsg)

	case MsgStopGeneration:
		s.stopGeneration()

	case MsgSwitchProvider:
		var switchMsg SwitchProviderMessage
		if err := json.Unmarshal(data, &switchMsg); err != nil {
			s.sendEvent(ErrorEvent{Code: CodeParseError, Message: err.Error()})
			return
		}
		go s.switchProvider(switchMsg)

	case MsgLoadModel:
		var loadMsg LoadModelMessage
		if err := json.Unmarshal(data, &loadMsg); err != nil {
			s.sendEvent(ErrorEvent{Code: CodeParseError, Message: err.Error()})
			return
		}
		go s.loadModel(loadMsg)

	case MsgPing:
		s.sendEvent(PongEvent{})

	default:
		s.sendEvent(ErrorEvent{Code: CodeUnknownMessage, Message: "unknown type: " + msg.Type})
	}
}

// runChat starts a new stream, cancelling and awaiting any prior one first.
// Streams are never queued: last request wins.
func (s *Session) runChat(msg ChatRequestMessage) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.cancelCurrent(true)
	if s.State() == StateClosed {
		return
	}

	providerName := msg.Provider
	if providerName == "" {
		providerName = s.ActiveProvider()
	}
	provider, err := s.backend.Resolve(providerName)
	if err != nil {
		s.sendEvent(ErrorEvent{Code: CodeUnknownProvider, Message: err.Error()})
		return
	}

	model := msg.Model
	if model == "" {
		s.providerMu.RLock()
		model = s.activeModel
		s.providerMu.RUnlock()
	}
	if model == "" {
		model = provider.Capabilities().DefaultModel
	}

	transcript := s.updateTranscript(msg)

	// A model the catalog has not verified must load before any
	// stream_start goes out.
	if model != "" {
		if available, known := provider.Catalog().Lookup(model); !known || !available {
			if !s.ensureModel(providerName, model) {
				return
			}
		}
	}

	streamCtx, cancelStream := context.WithCancel(s.ctx)
	stream, err := s.backend.StreamChat(streamCtx, providerName, core.Request{
		Model:       model,
		Messages:    transcript,
		Temperature: msg.Temperature,
		MaxTokens:   msg.MaxTokens,
		TopP:        msg.TopP,
		Stream:      true,
	})
	if err != nil {
		cancelStream()
		s.sendEvent(ErrorEvent{Code: CodeStreamFailed, Message: err.Error()})
		return
	}

	handle := &streamHandle{
		id:     uuid.NewString(),
		cancel: cancelStream,
		done:   make(chan struct{}),
	}
	s.handleMu.Lock()
	s.current = handle
	s.handleMu.Unlock()

	s.providerMu.Lock()
	s.activeProvider = providerName
	s.activeModel = model
	s.providerMu.Unlock()

	s.setState(StateStreaming)
	s.streamsStarted.Add(1)
	s.sendEvent(StreamStartEvent{StreamID: handle.id, Provider: providerName, Model: model})

	go s.forward(streamCtx, stream, handle)
}

// ensureModel loads the model, forwarding progress. Returns false when the
// load failed and the request must not proceed.
func (s *Session) ensureModel(providerName, model string) bool {
	s.sendEvent(ModelLoadingEvent{Model: model, Provider: providerName})
	err := s.backend.LoadModel(s.ctx, providerName, model, func(p core.ModelLoadProgress) {
		s.sendEvent(ModelLoadingEvent{
			Model:     p.Model,
			Provider:  providerName,
			Status:    p.Status,
			Total:     p.Total,
			Completed: p.Completed,
		})
	})
	if err != nil {
		s.sendEvent(ErrorEvent{Code: CodeModelLoadFailed, Message: err.Error()})
		return false
	}
	s.sendEvent(ModelLoadedEvent{Model: model, Provider: providerName})
	return true
}

// forward relays stream events to the transport in production order. A
// terminal event returns the session to Idle; only a completed stream
// appends to the transcript.
func (s *Session) forward(ctx context.Context, stream *core.Stream, handle *streamHandle) {
	defer func() {
		s.handleMu.Lock()
		if s.current == handle {
			s.current = nil
		}
		s.handleMu.Unlock()
		s.setState(StateIdle)
		close(handle.done)
	}()

	for {
		// Cancellation beats buffered tokens: once cancel is requested,
		// nothing further is forwarded.
		select {
		case <-ctx.Done():
			s.sendEvent(StreamCancelledEvent{StreamID: handle.id})
			return
		default:
		}

		select {
		case <-ctx.Done():
			s.sendEvent(StreamCancelledEvent{StreamID: handle.id})
			return
		case event, ok := <-stream.Events():
			if !ok {
				if err := stream.Err(); err != nil && !core.IsCanceled(err) {
					s.sendEvent(ErrorEvent{Code: string(core.ErrorCodeOf(err)), Message: err.Error(), StreamID: handle.id})
				}
				return
			}
			switch event.Type {
			case core.EventToken:
				s.sendEvent(TokenEvent{StreamID: handle.id, Seq: event.Seq, Content: event.Text})
			case core.EventComplete:
				s.appendAssistant(event.FullText)
				s.sendEvent(StreamCompleteEvent{
					StreamID:   handle.id,
					FullText:   event.FullText,
					DurationMS: event.DurationMS,
					Usage:      event.Usage,
				})
				return
			case core.EventCancelled:
				s.sendEvent(StreamCancelledEvent{StreamID: handle.id})
				return
			case core.EventError:
				msg := "stream failed"
				if event.Error != nil {
					msg = event.Error.Error()
				}
				s.sendEvent(ErrorEvent{Code: string(core.ErrorCodeOf(event.Error)), Message: msg, StreamID: handle.id})
				return
			}
		}
	}
}

// stopGeneration cancels the active stream cooperatively. Without one, the
// client gets a local error event and the channel stays open.
func (s *Session) stopGeneration() {
	s.handleMu.Lock()
	handle := s.current
	s.handleMu.Unlock()
	if handle == nil {
		s.sendEvent(ErrorEvent{Code: CodeNoActiveStream, Message: "no active stream"})
		return
	}
	handle.cancel()
}

// switchProvider validates target health before switching and never
// disturbs an in-progress stream.
func (s *Session) switchProvider(msg SwitchProviderMessage) {
	provider, err := s.backend.Resolve(msg.Provider)
	if err != nil {
		s.sendEvent(ErrorEvent{Code: CodeUnknownProvider, Message: err.Error()})
		return
	}
	if !provider.HealthCheck(s.ctx) {
		s.sendEvent(ErrorEvent{Code: CodeProviderUnhealthy, Message: "provider " + msg.Provider + " failed health probe"})
		return
	}

	s.providerMu.Lock()
	s.activeProvider = msg.Provider
	if msg.Model != "" {
		s.activeModel = msg.Model
	}
	model := s.activeModel
	s.providerMu.Unlock()

	s.sendEvent(ProviderSwitchedEvent{Provider: msg.Provider, Model: model})
}

func (s *Session) loadModel(msg LoadModelMessage) {
	providerName := msg.Provider
	if providerName == "" {
		providerName = s.ActiveProvider()
	}
	if _, err := s.backend.Resolve(providerName); err != nil {
		s.sendEvent(ErrorEvent{Code: CodeUnknownProvider, Message: err.Error()})
		return
	}
	s.ensureModel(providerName, msg.Model)
}

// cancelCurrent cancels the current stream; with await it also waits for
// the forward goroutine to finish so no orphaned work survives.
func (s *Session) cancelCurrent(await bool) {
	s.handleMu.Lock()
	handle := s.current
	s.handleMu.Unlock()
	if handle == nil {
		return
	}
	handle.cancel()
	if await {
		<-handle.done
	}
}

func (s *Session) updateTranscript(msg ChatRequestMessage) []core.Message {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()
	if len(msg.Messages) > 0 {
		s.transcript = append([]core.Message(nil), msg.Messages...)
	} else if msg.Content != "" {
		s.transcript = append(s.transcript, core.UserMessage(msg.Content))
	}
	return append([]core.Message(nil), s.transcript...)
}

func (s *Session) appendAssistant(text string) {
	if text == "" {
		return
	}
	s.transcriptMu.Lock()
	s.transcript = append(s.transcript, core.AssistantMessage(text))
	s.transcriptMu.Unlock()
}

// ActiveProvider returns the session's current provider name.
func (s *Session) ActiveProvider() string {
	s.providerMu.RLock()
	defer s.providerMu.RUnlock()
	return s.activeProvider
}

// Transcript returns a copy of the session transcript.
func (s *Session) Transcript() []core.Message {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()
	return append([]core.Message(nil), s.transcript...)
}

func (s *Session) sendEvent(event SessionEvent) {
	select {
	case s.outgoingEvents <- event:
	case <-s.done:
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case event := <-s.outgoingEvents:
			if err := s.writeEvent(event); err != nil {
				s.logger.Debug("write failed", "error", err)
				s.Close()
				return
			}
		}
	}
}

func (s *Session) writeEvent(event SessionEvent) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	msg := map[string]any{
		"type":      event.liveEventType(),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(event)
	json.Unmarshal(data, &msg)
	if err := s.conn.WriteJSON(msg); err != nil {
		return err
	}
	s.eventsSent.Add(1)
	return nil
}

// SessionStats is a point-in-time counter snapshot.
type SessionStats struct {
	ID               string `json:"id"`
	State            string `json:"state"`
	Provider         string `json:"provider"`
	Model            string `json:"model,omitempty"`
	MessagesReceived int64  `json:"messages_received"`
	EventsSent       int64  `json:"events_sent"`
	StreamsStarted   int64  `json:"streams_started"`
}

// Stats snapshots the session counters.
func (s *Session) Stats() SessionStats {
	s.providerMu.RLock()
	provider, model := s.activeProvider, s.activeModel
	s.providerMu.RUnlock()
	return SessionStats{
		ID:               s.id,
		State:            s.State().String(),
		Provider:         provider,
		Model:            model,
		MessagesReceived: s.messagesReceived.Load(),
		EventsSent:       s.eventsSent.Load(),
		StreamsStarted:   s.streamsStarted.Load(),
	}
}
