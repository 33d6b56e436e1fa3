package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/realtydesk/internal/domain"
)

const (
	DefaultKeepAlive  = 30 * time.Second
	writeDeadline     = 5 * time.Second
	messageBufferSize = 16
)

// Close reasons, also used as metric labels.
const (
	ReasonClientGone      = "client_disconnected"
	ReasonWriteFailed     = "write_failed"
	ReasonKeepAliveFailed = "keepalive_failed"
	ReasonDeliveryFailed  = "delivery_failed"
	ReasonShutdown        = "server_shutdown"
	ReasonRejected        = "rejected"
)

// ErrStreamClosed is returned by Serve when the stream was closed before it opened.
var ErrStreamClosed = errors.New("stream closed")

type State int32

const (
	StateOpening State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Sink is the transport under a Stream. Only the stream's serve loop calls it.
type Sink interface {
	// Open prepares the transport, e.g. writes SSE headers.
	Open() error
	WriteEvent(data []byte) error
	WriteKeepAlive() error
	// Close says goodbye when the transport supports it and releases it.
	Close(reason string) error
}

// Stream is one live output channel for a recipient. It moves
// Opening -> Open -> Closed and never leaves Closed.
type Stream struct {
	id        uint64
	key       domain.RecipientKey
	registry  *Registry
	sink      Sink
	clock     clockwork.Clock
	keepAlive time.Duration
	openedAt  time.Time

	state  atomic.Int32
	events chan domain.Envelope
	done   chan struct{}

	mu         sync.Mutex
	unregister func()
	ticker     clockwork.Ticker
	reason     string
	closeOnce  sync.Once
}

type StreamOption func(*Stream)

func WithKeepAlive(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

func WithClock(clock clockwork.Clock) StreamOption {
	return func(s *Stream) { s.clock = clock }
}

func WithBufferSize(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.events = make(chan domain.Envelope, n)
		}
	}
}

func NewStream(registry *Registry, key domain.RecipientKey, sink Sink, opts ...StreamOption) *Stream {
	s := &Stream{
		id:        registry.NextHandleID(),
		key:       key,
		registry:  registry,
		sink:      sink,
		clock:     clockwork.NewRealClock(),
		keepAlive: DefaultKeepAlive,
		events:    make(chan domain.Envelope, messageBufferSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.openedAt = s.clock.Now()
	return s
}

func (s *Stream) ID() uint64 { return s.id }

func (s *Stream) Key() domain.RecipientKey { return s.key }

func (s *Stream) OpenedAt() time.Time { return s.openedAt }

func (s *Stream) State() State { return State(s.state.Load()) }

// Done is closed once the stream reaches Closed.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) Category() domain.Category { return s.registry.Category() }

func (s *Stream) closed() bool { return s.State() == StateClosed }

func (s *Stream) logAttrs(extra ...any) []any {
	return append([]any{"category", s.Category(), "recipient", s.key, "stream_id", s.id}, extra...)
}

// Reason is the close reason, empty while the stream is live.
func (s *Stream) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Enqueue implements Handle. It never blocks.
func (s *Stream) Enqueue(env domain.Envelope) bool {
	if s.closed() {
		return false
	}
	select {
	case s.events <- env:
		return true
	default:
		return false
	}
}

// Close moves the stream to Closed, stops the keep-alive ticker and removes it
// from the registry before returning. Later calls are no-ops.
func (s *Stream) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state.Store(int32(StateClosed))
		s.reason = reason
		unregister := s.unregister
		if s.ticker != nil {
			s.ticker.Stop()
		}
		s.mu.Unlock()

		// Streams that never registered were never counted as open.
		if unregister != nil {
			unregister()
			s.registry.metrics.StreamClosed(s.Category(), reason)
		}
		close(s.done)
		slog.Debug("Stream closed", s.logAttrs("reason", reason, "open_for", s.clock.Since(s.openedAt))...)
	})
}

// Serve registers the stream, sends the handshake and then writes events and
// keep-alives until ctx ends, Close is called, or a write fails. It is the only
// writer to the sink.
func (s *Stream) Serve(ctx context.Context) error {
	unregister, err := s.registry.Register(s.key, s)
	if err != nil {
		s.Close(ReasonRejected)
		return err
	}

	s.mu.Lock()
	if s.closed() {
		reason := s.reason
		s.mu.Unlock()
		unregister()
		s.registry.metrics.StreamClosed(s.Category(), reason)
		return ErrStreamClosed
	}
	s.unregister = unregister
	s.mu.Unlock()

	defer func() {
		if err := s.sink.Close(s.Reason()); err != nil {
			slog.Debug("Sink close failed", s.logAttrs("error", err)...)
		}
	}()

	if err := s.sink.Open(); err != nil {
		s.Close(ReasonWriteFailed)
		return fmt.Errorf("open sink: %w", err)
	}

	if !s.state.CompareAndSwap(int32(StateOpening), int32(StateOpen)) {
		return ErrStreamClosed
	}

	handshake := domain.Envelope{
		Category:     domain.CategoryConnected,
		RecipientKey: s.key,
		Timestamp:    s.clock.Now(),
	}
	if err := s.write(handshake); err != nil {
		s.Close(ReasonWriteFailed)
		return fmt.Errorf("handshake: %w", err)
	}

	ticker := s.clock.NewTicker(s.keepAlive)
	defer ticker.Stop()

	s.mu.Lock()
	s.ticker = ticker
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			s.Close(ReasonClientGone)
			return nil

		case <-s.done:
			return nil

		case env := <-s.events:
			if err := s.write(env); err != nil {
				s.Close(ReasonWriteFailed)
				return fmt.Errorf("write event: %w", err)
			}

		case <-ticker.Chan():
			if err := s.sink.WriteKeepAlive(); err != nil {
				s.Close(ReasonKeepAliveFailed)
				return fmt.Errorf("keep-alive: %w", err)
			}
		}
	}
}

func (s *Stream) write(env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		// Skip the event, the stream itself is fine.
		slog.Error("Failed to encode event", s.logAttrs("event_type", env.Type, "error", err)...)
		return nil
	}
	return s.sink.WriteEvent(data)
}
