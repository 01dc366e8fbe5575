package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/happy-code-egg/ruidao-sub002/internal/domain/event"
)

// ErrClosed is returned when publishing to a closed dispatcher
var ErrClosed = errors.New("dispatcher is closed")

// DefaultMaxInFlight bounds concurrently delivered batches
const DefaultMaxInFlight = 16

// Dispatcher routes committed workflow events to subscribed handlers.
//
// Published batches are queued per instance: batches of one instance are
// delivered one after another in publish order, events within a batch in
// the order given. Different instances are delivered concurrently.
type Dispatcher interface {
	// Subscribe registers a handler with an auto-generated name
	Subscribe(eventType event.Type, handler Handler)

	// SubscribeNamed registers a handler under name
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// Unsubscribe removes a named handler
	Unsubscribe(eventType event.Type, name string)

	// Dispatch delivers evt synchronously and returns the first handler error
	Dispatch(ctx context.Context, evt *event.Event) error

	// Publish queues evts for background delivery, detached from ctx
	// cancellation. The batch is keyed by the instance of its first event.
	Publish(ctx context.Context, evts ...*event.Event)

	// ListHandlers returns registered handlers for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close stops accepting events and waits until every queued batch is delivered
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	logger   Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	// queueMu guards queues and closed
	queueMu sync.Mutex
	queues  map[int64][]batch
	closed  bool
}

type batch struct {
	ctx  context.Context
	evts []*event.Event
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// WithMaxInFlight bounds the number of batches delivered concurrently
func WithMaxInFlight(n int64) Option {
	return func(d *eventDispatcher) {
		if n > 0 {
			d.sem = semaphore.NewWeighted(n)
		}
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]HandlerInfo),
		sem:      semaphore.NewWeighted(DefaultMaxInFlight),
		queues:   make(map[int64][]batch),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, handler Handler) {
	d.mu.RLock()
	name := fmt.Sprintf("%s-handler-%d", eventType, len(d.handlers[eventType]))
	d.mu.RUnlock()
	d.SubscribeNamed(eventType, name, handler)
}

func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})

	d.info("Handler registered", "event_type", eventType, "handler_name", name)
}

func (d *eventDispatcher) Unsubscribe(eventType event.Type, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers := d.handlers[eventType]
	filtered := make([]HandlerInfo, 0, len(handlers))
	for _, h := range handlers {
		if h.Name != name {
			filtered = append(filtered, h)
		}
	}
	d.handlers[eventType] = filtered

	d.info("Handler unregistered", "event_type", eventType, "handler_name", name)
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.isClosed() {
		return ErrClosed
	}

	for _, info := range d.snapshot(evt.Type) {
		if err := d.safeExecute(ctx, evt, info); err != nil {
			d.error("Handler error",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"instance_id", evt.InstanceID,
				"handler_name", info.Name,
				"error", err,
			)
			return fmt.Errorf("handler %s failed: %w", info.Name, err)
		}
	}
	return nil
}

func (d *eventDispatcher) Publish(ctx context.Context, evts ...*event.Event) {
	if len(evts) == 0 {
		return
	}

	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if d.closed {
		d.error("Dropping events, dispatcher is closed", "count", len(evts))
		return
	}

	key := evts[0].InstanceID
	queued, draining := d.queues[key]
	d.queues[key] = append(queued, batch{ctx: context.WithoutCancel(ctx), evts: evts})
	if !draining {
		d.wg.Add(1)
		go d.drain(key)
	}
}

// drain delivers the queue of one instance until it is empty
func (d *eventDispatcher) drain(key int64) {
	defer d.wg.Done()
	for {
		d.queueMu.Lock()
		queued := d.queues[key]
		if len(queued) == 0 {
			delete(d.queues, key)
			d.queueMu.Unlock()
			return
		}
		next := queued[0]
		d.queues[key] = queued[1:]
		d.queueMu.Unlock()

		d.deliver(next)
	}
}

func (d *eventDispatcher) deliver(b batch) {
	if err := d.sem.Acquire(b.ctx, 1); err != nil {
		d.error("Failed to acquire delivery slot", "error", err)
		return
	}
	defer d.sem.Release(1)

	for _, evt := range b.evts {
		for _, info := range d.snapshot(evt.Type) {
			if err := d.safeExecute(b.ctx, evt, info); err != nil {
				d.error("Async handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"instance_id", evt.InstanceID,
					"handler_name", info.Name,
					"error", err,
				)
			}
		}
	}
}

func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	handlers := d.snapshot(eventType)
	result := make([]HandlerInfo, len(handlers))
	for i, h := range handlers {
		result[i] = HandlerInfo{Name: h.Name, EventType: h.EventType}
	}
	return result
}

func (d *eventDispatcher) Close() error {
	d.queueMu.Lock()
	if d.closed {
		d.queueMu.Unlock()
		return ErrClosed
	}
	d.closed = true
	d.queueMu.Unlock()

	d.info("Closing dispatcher, waiting for in-flight events")
	d.wg.Wait()
	d.info("Dispatcher closed")
	return nil
}

func (d *eventDispatcher) isClosed() bool {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	return d.closed
}

func (d *eventDispatcher) snapshot(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]HandlerInfo(nil), d.handlers[eventType]...)
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			d.error("Handler panic recovered",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"handler_name", info.Name,
				"panic", r,
			)
		}
	}()

	return info.Handler(ctx, evt)
}

func (d *eventDispatcher) info(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Info(msg, kv...)
	}
}

func (d *eventDispatcher) error(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Error(msg, kv...)
	}
}
