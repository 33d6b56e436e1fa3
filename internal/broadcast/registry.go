package broadcast

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/realtydesk/internal/domain"
	"github.com/puzpuzpuz/xsync/v4"
)

// ErrTooManyStreams is returned by Register when a recipient is at its cap.
var ErrTooManyStreams = errors.New("too many streams for recipient")

// Handle is the registry's view of a live stream. The registry references
// handles but never owns them.
type Handle interface {
	ID() uint64
	// Enqueue must not block. It reports false when the handle cannot take
	// the envelope, after which the registry closes it.
	Enqueue(env domain.Envelope) bool
	Close(reason string)
}

// Metrics receives registry and stream lifecycle events.
type Metrics interface {
	StreamOpened(category domain.Category)
	StreamClosed(category domain.Category, reason string)
	EventsDelivered(category domain.Category, n int)
	DeliveryFailed(category domain.Category)
}

type nopMetrics struct{}

func (nopMetrics) StreamOpened(domain.Category)         {}
func (nopMetrics) StreamClosed(domain.Category, string) {}
func (nopMetrics) EventsDelivered(domain.Category, int) {}
func (nopMetrics) DeliveryFailed(domain.Category)       {}

// handleSet is never mutated after it is stored; writers replace it. Handles
// are kept in id order, which is also registration order.
type handleSet []Handle

func (s handleSet) index(id uint64) int {
	return slices.IndexFunc(s, func(h Handle) bool { return h.ID() == id })
}

// Registry is the directory of live streams for one event category.
type Registry struct {
	category    domain.Category
	clock       clockwork.Clock
	metrics     Metrics
	maxPerKey   int
	handles     *xsync.Map[domain.RecipientKey, handleSet]
	nextID      atomic.Uint64
	connections atomic.Int64
}

type RegistryOption func(*Registry)

func WithMetrics(m Metrics) RegistryOption {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

func WithMaxPerRecipient(n int) RegistryOption {
	return func(r *Registry) { r.maxPerKey = n }
}

func WithRegistryClock(clock clockwork.Clock) RegistryOption {
	return func(r *Registry) { r.clock = clock }
}

const defaultMaxPerRecipient = 20

func NewRegistry(category domain.Category, opts ...RegistryOption) *Registry {
	r := &Registry{
		category:  category,
		clock:     clockwork.NewRealClock(),
		metrics:   nopMetrics{},
		maxPerKey: defaultMaxPerRecipient,
		handles:   xsync.NewMap[domain.RecipientKey, handleSet](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Category() domain.Category { return r.category }

// NextHandleID hands out ids that are unique and increasing for this registry.
func (r *Registry) NextHandleID() uint64 {
	return r.nextID.Add(1)
}

// Register adds h under key. Registering the same handle twice is a no-op.
// The returned function removes the handle and is safe to call repeatedly.
func (r *Registry) Register(key domain.RecipientKey, h Handle) (func(), error) {
	var added, full bool

	r.handles.Compute(key, func(current handleSet, _ bool) (handleSet, xsync.ComputeOp) {
		if current.index(h.ID()) >= 0 {
			return current, xsync.CancelOp
		}
		if len(current) >= r.maxPerKey {
			full = true
			return current, xsync.CancelOp
		}
		next := make(handleSet, 0, len(current)+1)
		next = append(next, current...)
		next = append(next, h)
		added = true
		return next, xsync.UpdateOp
	})

	if full {
		slog.Warn("Rejecting stream: recipient at capacity",
			"category", r.category, "recipient", key, "max_streams", r.maxPerKey)
		return nil, fmt.Errorf("%w (%d)", ErrTooManyStreams, r.maxPerKey)
	}

	if added {
		r.connections.Add(1)
		r.metrics.StreamOpened(r.category)
		slog.Debug("Stream registered", "category", r.category, "recipient", key, "stream_id", h.ID())
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.unregister(key, h.ID()) })
	}, nil
}

func (r *Registry) unregister(key domain.RecipientKey, id uint64) {
	var removed, emptied bool

	r.handles.Compute(key, func(current handleSet, loaded bool) (handleSet, xsync.ComputeOp) {
		if !loaded {
			return current, xsync.CancelOp
		}
		i := current.index(id)
		if i < 0 {
			return current, xsync.CancelOp
		}
		removed = true
		if len(current) == 1 {
			emptied = true
			return nil, xsync.DeleteOp
		}
		next := make(handleSet, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		return next, xsync.UpdateOp
	})

	if !removed {
		return
	}
	r.connections.Add(-1)
	if emptied {
		slog.Debug("Last stream for recipient closed", "category", r.category, "recipient", key)
	}
}

// Push enqueues env on every live stream of key and returns how many accepted
// it. Streams that refuse are closed and drop out of the registry. A key with
// no streams is not an error.
func (r *Registry) Push(key domain.RecipientKey, env domain.Envelope) int {
	set, ok := r.handles.Load(key)
	if !ok {
		return 0
	}

	env.RecipientKey = key
	if env.Category == "" {
		env.Category = r.category
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = r.clock.Now()
	}

	delivered := 0
	for _, h := range set {
		if h.Enqueue(env) {
			delivered++
			continue
		}
		slog.Warn("Dropping stream that could not take event",
			"category", r.category, "recipient", key, "stream_id", h.ID(), "event_type", env.Type)
		r.metrics.DeliveryFailed(r.category)
		h.Close(ReasonDeliveryFailed)
	}

	if delivered > 0 {
		r.metrics.EventsDelivered(r.category, delivered)
	}
	return delivered
}

// PushBroadcast delivers env to every recipient. Only the admin alert
// registry broadcasts; other categories return 0.
func (r *Registry) PushBroadcast(env domain.Envelope) int {
	if r.category != domain.CategoryAdminAlert {
		slog.Warn("Broadcast refused for non-admin category", "category", r.category, "event_type", env.Type)
		return 0
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = r.clock.Now()
	}

	var keys []domain.RecipientKey
	r.handles.Range(func(key domain.RecipientKey, _ handleSet) bool {
		keys = append(keys, key)
		return true
	})

	delivered := 0
	for _, key := range keys {
		delivered += r.Push(key, env)
	}
	return delivered
}

// Count returns the number of live streams for key.
func (r *Registry) Count(key domain.RecipientKey) int {
	set, _ := r.handles.Load(key)
	return len(set)
}

type Stats struct {
	Category    domain.Category `json:"category"`
	Recipients  int             `json:"recipients"`
	Connections int64           `json:"connections"`
}

func (r *Registry) Stats() Stats {
	return Stats{
		Category:    r.category,
		Recipients:  r.handles.Size(),
		Connections: r.connections.Load(),
	}
}

// CloseAll closes every registered stream and returns how many were closed.
func (r *Registry) CloseAll(reason string) int {
	var all []Handle
	r.handles.Range(func(_ domain.RecipientKey, set handleSet) bool {
		all = append(all, set...)
		return true
	})

	for _, h := range all {
		h.Close(reason)
	}

	if len(all) > 0 {
		slog.Info("Closed all streams", "category", r.category, "streams", len(all), "reason", reason)
	}
	return len(all)
}
