package eventing

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"sync"
)

var (
	// ErrNilEvent is returned when a nil event is published.
	ErrNilEvent = errors.New("eventing: nil event")
	// ErrInvalidEventType is returned when an event's type cannot be
	// resolved, or a delivered event does not match its subscription.
	ErrInvalidEventType = errors.New("eventing: invalid event type")
)

// Handler consumes a published event. Most code should not implement
// this directly; SubscribeTyped wraps a typed function into one.
type Handler func(ctx context.Context, event any) error

// Bus delivers events to subscribers. Delivery is synchronous and
// in-process; durability for scheduled work lives in the registry
// date guard, not here.
type Bus interface {
	Publish(ctx context.Context, event any) error
	Subscribe(eventType string, handler Handler)
}

// SubscribeTyped attaches a consumer for events of type T. This is the
// primary subscription API; events are matched by their concrete
// struct type.
func SubscribeTyped[T any](bus Bus, handler func(ctx context.Context, event T) error) {
	bus.Subscribe(EventTypeOf[T](), func(ctx context.Context, event any) error {
		typed, ok := event.(T)
		if !ok {
			return ErrInvalidEventType
		}
		return handler(ctx, typed)
	})
}

// EventType resolves the subscription key for an event instance.
// Pointer events resolve to their element type, so a *T publish and a
// T subscription share a key.
func EventType(event any) string {
	t := reflect.TypeOf(event)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

// EventTypeOf resolves the subscription key for a type parameter.
func EventTypeOf[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

// InMemoryBus is the only Bus implementation; every consumer in this
// system runs in-process.
type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
}

// NewInMemoryBus constructs an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subscribers: make(map[string][]Handler)}
}

// Publish delivers the event to every subscriber of its type. All
// subscribers run even when earlier ones fail; their errors are
// joined into the return value.
func (b *InMemoryBus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}
	key := EventType(event)
	if key == "" {
		return ErrInvalidEventType
	}

	b.mu.RLock()
	subs := slices.Clone(b.subscribers[key])
	b.mu.RUnlock()

	var errs []error
	for _, deliver := range subs {
		if err := deliver(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe attaches an untyped handler. Prefer SubscribeTyped.
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	if eventType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
	b.mu.Unlock()
}
