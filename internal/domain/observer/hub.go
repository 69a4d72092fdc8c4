// Package observer keeps the table of application state subscriptions and
// fans lifecycle events out to them.
//
// Each subscription owns an unbounded FIFO that is drained on a shared worker
// pool, so delivery to one observer is sequential and ordered while a slow
// observer never blocks publishers or other subscriptions.
package observer

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/Workiva/go-datastructures/queue"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

var (
	ErrNotFound     = errors.New("observer not registered")
	ErrLimitReached = errors.New("observer limit reached")
	ErrNilObserver  = errors.New("observer is nil")
	ErrClosed       = errors.New("observer hub closed")
)

// drainBatch bounds how many events one drain step takes off a queue.
const drainBatch = 32

// Metrics receives hub activity. Implementations must be safe for concurrent use.
type Metrics interface {
	ObserverRegistered()
	ObserverUnregistered()
	EventDispatched(kind string)
}

// Hub is the subscription table.
type Hub struct {
	subs   cmap.ConcurrentMap[int32, *subscription]
	pool   *ants.Pool
	logger *zap.Logger

	mu     sync.Mutex // Protects nextID and closed
	nextID int32
	closed bool

	limit   int
	metrics Metrics
}

// Option configures a Hub.
type Option func(*Hub)

// WithLimit caps the number of active subscriptions. Zero means unlimited.
func WithLimit(n int) Option {
	return func(h *Hub) { h.limit = n }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a hub dispatching on pool. A nil pool dispatches on plain
// goroutines. The pool should be non-blocking; when it has no free worker
// the drain runs on its own goroutine instead of waiting for one.
func NewHub(pool *ants.Pool, logger *zap.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		subs: cmap.NewWithCustomShardingFunction[int32, *subscription](func(k int32) uint32 {
			return uint32(k)
		}),
		pool:   pool,
		logger: logger,
		nextID: 1,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a subscription and returns its handle. bundles is the
// allow-list; an empty list subscribes to every bundle.
func (h *Hub) Register(obs appmanager.StateObserver, bundles []string) (appmanager.ObserverID, error) {
	if obs == nil {
		return appmanager.ObserverID{}, ErrNilObserver
	}

	sub := &subscription{
		observer: obs,
		queue:    queue.New(16),
		logger:   h.logger,
		metrics:  h.metrics,
	}
	if len(bundles) > 0 {
		sub.allow = make(map[string]struct{}, len(bundles))
		for _, b := range bundles {
			sub.allow[b] = struct{}{}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return appmanager.ObserverID{}, ErrClosed
	}
	if h.limit > 0 && h.subs.Count() >= h.limit {
		return appmanager.ObserverID{}, ErrLimitReached
	}

	// Handles are never reused while active; after wraparound the counter
	// skips over live ones.
	for {
		id := h.nextID
		if h.nextID == math.MaxInt32 {
			h.nextID = 1
		} else {
			h.nextID++
		}
		sub.id = id
		if h.subs.SetIfAbsent(id, sub) {
			break
		}
	}

	if h.metrics != nil {
		h.metrics.ObserverRegistered()
	}
	h.logger.Debug("observer registered",
		zap.Int32("observer_id", sub.id),
		zap.Strings("bundles", bundles),
	)
	return appmanager.ObserverIDFrom(sub.id), nil
}

// Unregister removes a subscription. Events still queued for it are dropped.
func (h *Hub) Unregister(id appmanager.ObserverID) error {
	if id.IsZero() {
		return ErrNotFound
	}
	sub, ok := h.subs.Pop(id.Value())
	if !ok {
		return ErrNotFound
	}
	sub.detach()
	if h.metrics != nil {
		h.metrics.ObserverUnregistered()
	}
	h.logger.Debug("observer unregistered", zap.Int32("observer_id", sub.id))
	return nil
}

// Has reports whether id is an active subscription.
func (h *Hub) Has(id appmanager.ObserverID) bool {
	return h.subs.Has(id.Value())
}

// Count returns the number of active subscriptions.
func (h *Hub) Count() int {
	return h.subs.Count()
}

// Publish enqueues ev for every matching subscription.
func (h *Hub) Publish(ev appmanager.Event) {
	bundle := ev.BundleName()
	for item := range h.subs.IterBuffered() {
		sub := item.Val
		if !sub.accepts(bundle) {
			continue
		}
		if err := sub.queue.Put(ev); err != nil {
			// Disposed between iteration and Put.
			continue
		}
		if sub.draining.CompareAndSwap(false, true) {
			h.schedule(sub)
		}
	}
}

// Close removes every subscription and rejects further registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	for _, key := range h.subs.Keys() {
		if sub, ok := h.subs.Pop(key); ok {
			sub.detach()
		}
	}
}

// schedule never waits: Publish runs under the process table lock.
func (h *Hub) schedule(sub *subscription) {
	if h.pool != nil && (h.pool.Cap() < 0 || h.pool.Free() > 0) {
		if err := h.pool.Submit(sub.drain); err == nil {
			return
		}
	}
	go sub.drain()
}

type subscription struct {
	id       int32
	observer appmanager.StateObserver
	allow    map[string]struct{}
	queue    *queue.Queue
	draining atomic.Bool
	logger   *zap.Logger
	metrics  Metrics
}

func (s *subscription) accepts(bundle string) bool {
	if s.allow == nil {
		return true
	}
	_, ok := s.allow[bundle]
	return ok
}

func (s *subscription) drain() {
	for {
		if s.queue.Disposed() {
			return
		}
		if s.queue.Empty() {
			s.draining.Store(false)
			// A publisher may have enqueued after the emptiness check but
			// before the flag was cleared; reclaim the drain if so.
			if s.queue.Empty() || !s.draining.CompareAndSwap(false, true) {
				return
			}
			continue
		}
		items, err := s.queue.Get(drainBatch)
		if err != nil {
			return
		}
		for _, item := range items {
			ev, ok := item.(appmanager.Event)
			if !ok {
				continue
			}
			s.deliver(ev)
		}
	}
}

func (s *subscription) deliver(ev appmanager.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observer panicked",
				zap.Int32("observer_id", s.id),
				zap.String("event", string(ev.Kind)),
				zap.Any("panic", r),
			)
		}
	}()
	appmanager.Deliver(s.observer, ev)
	if s.metrics != nil {
		s.metrics.EventDispatched(string(ev.Kind))
	}
}

func (s *subscription) detach() {
	s.queue.Dispose()
	if d, ok := s.observer.(appmanager.Detacher); ok {
		go d.OnDetached()
	}
}
