package core

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStreamClosed indicates the stream has already been closed.
var ErrStreamClosed = errors.New("stream closed")

// EventType enumerates stream event types.
type EventType string

const (
	EventStart     EventType = "start"
	EventToken     EventType = "token"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
)

// StreamEvent models a single event within a provider stream. Events for one
// stream are delivered strictly in production order.
type StreamEvent struct {
	Type      EventType `json:"type"`
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"ts"`
	StreamID  string    `json:"stream_id,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`

	Text       string `json:"text,omitempty"`      // token payload
	FullText   string `json:"full_text,omitempty"` // complete event
	DurationMS int64  `json:"duration_ms,omitempty"`
	Usage      Usage  `json:"usage,omitempty"`
	Error      error  `json:"-"`
}

// Terminal reports whether no further events follow for this stream.
func (e StreamEvent) Terminal() bool {
	switch e.Type {
	case EventComplete, EventError, EventCancelled:
		return true
	}
	return false
}

// StreamMeta captures metadata recorded on the terminal event.
type StreamMeta struct {
	Provider string
	Model    string
	Usage    Usage
}

// Stream is a lazy, finite, non-restartable sequence of events produced by an
// adapter. The producer suspends on the event channel awaiting the consumer;
// cancelling the context abandons it at the next suspension point.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	events chan StreamEvent
	err    error
	closed bool
	meta   StreamMeta
}

// NewStream constructs a Stream with the provided event buffer size.
func NewStream(ctx context.Context, buffer int) *Stream {
	if buffer <= 0 {
		buffer = 16
	}
	c, cancel := context.WithCancel(ctx)
	return &Stream{
		ctx:    c,
		cancel: cancel,
		events: make(chan StreamEvent, buffer),
	}
}

// Push appends an event. Safe for concurrent use; events pushed after Close
// are dropped rather than retracted.
func (s *Stream) Push(event StreamEvent) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}

	if event.Type == EventComplete {
		s.mu.Lock()
		s.meta = StreamMeta{Provider: event.Provider, Model: event.Model, Usage: event.Usage}
		s.mu.Unlock()
	}

	select {
	case s.events <- event:
	case <-s.ctx.Done():
	}
}

// Close closes the event channel and cancels the producer context.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.closed = true
	close(s.events)
	s.cancel()
	return nil
}

// Fail records a terminal error, emits an error event, and closes the stream.
// Already-yielded tokens are never retracted.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	alreadyClosed := s.closed
	s.mu.Unlock()

	if err != nil && !alreadyClosed {
		s.Push(StreamEvent{Type: EventError, Error: err, Timestamp: time.Now()})
	}
	if !alreadyClosed {
		_ = s.Close()
	}
}

// Events returns the read-only event channel.
func (s *Stream) Events() <-chan StreamEvent { return s.events }

// Err returns the terminal error, if any.
func (s *Stream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Meta returns terminal metadata.
func (s *Stream) Meta() StreamMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// Done exposes the stream context for cancellation-aware producers.
func (s *Stream) Done() <-chan struct{} { return s.ctx.Done() }

// CollectText consumes all events and returns the concatenated text. It
// closes the stream when done.
func (s *Stream) CollectText() (string, error) {
	defer s.Close()

	var b []byte
	for event := range s.events {
		switch event.Type {
		case EventToken:
			b = append(b, event.Text...)
		case EventError:
			if event.Error != nil {
				return string(b), event.Error
			}
		case EventCancelled:
			return string(b), NewError(ErrCanceled, "stream cancelled")
		}
	}
	if err := s.Err(); err != nil {
		return string(b), err
	}
	return string(b), nil
}
