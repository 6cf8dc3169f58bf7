// Package events provides an ordered, at-least-once notification bus that
// decouples completed API responses from the observers that react to them.
// Producers never wait on consumers; a bounded queue supplies natural
// backpressure when many responses are in flight.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultQueueSize bounds the undelivered event queue. A full queue blocks
// producers until the dispatch loop catches up.
const DefaultQueueSize = 256

// Prometheus metrics for event dispatch.
var (
	fredEventsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fred_events_dispatched_total",
		Help: "Total events dispatched by name",
	}, []string{"event"})

	fredEventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fred_events_dropped_total",
		Help: "Total events abandoned during shutdown drain",
	})

	fredEventHandlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fred_event_handler_errors_total",
		Help: "Total handler errors by event name",
	}, []string{"event"})
)

// Common errors returned by the bus.
var (
	// ErrRegistrationFrozen is returned by On once listening has started.
	ErrRegistrationFrozen = errors.New("handler registration frozen while listening")

	// ErrDrainTimeout is returned by Cancel when queued events could not
	// be delivered before the deadline.
	ErrDrainTimeout = errors.New("event drain timed out")
)

// Handler processes one delivered event payload. An error is contained to
// the handler: it is logged and counted, never propagated to the producer.
type Handler func(ctx context.Context, payload any) error

type event struct {
	name    string
	payload any
}

// Bus is a named-handler event queue with its own dispatch loop.
// Lifecycle: Idle -> Listening (Listen) -> Idle (Cancel). Listen on a
// listening bus is a no-op; registration is frozen while listening.
type Bus struct {
	logger zerolog.Logger
	queue  chan event

	mu        sync.Mutex
	handlers  map[string][]Handler
	listening bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewBus creates an idle bus with the given queue bound.
// queueSize <= 0 selects DefaultQueueSize.
func NewBus(queueSize int, logger zerolog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		logger:   logger.With().Str("component", "event-bus").Logger(),
		queue:    make(chan event, queueSize),
		handlers: make(map[string][]Handler),
	}
}

// On registers a handler for events with the given name. Multiple handlers
// per name are invoked in registration order. Returns
// ErrRegistrationFrozen while the bus is listening.
func (b *Bus) On(name string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listening {
		return ErrRegistrationFrozen
	}

	b.handlers[name] = append(b.handlers[name], h)
	b.logger.Info().Str("event", name).Msg("Registered event handler")
	return nil
}

// Listen starts the background dispatch loop and freezes handler
// registration. Calling Listen on a listening bus is a no-op.
func (b *Bus) Listen() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listening {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	b.listening = true

	go b.dispatch(ctx)

	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	b.logger.Info().Strs("events", names).Msg("Listening for events")
}

// Listening reports whether the dispatch loop is running.
func (b *Bus) Listening() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listening
}

// Produce enqueues (name, payload) for dispatch. Events with no registered
// handler are accepted and later discarded without error. Blocks only when
// the queue is full.
func (b *Bus) Produce(name string, payload any) {
	b.queue <- event{name: name, payload: payload}
}

// Cancel stops the dispatch loop, then drains queued-but-undelivered
// events until the queue is empty or timeout elapses. Abandoned events are
// reported via the returned count and ErrDrainTimeout; a clean drain
// returns (0, nil). The bus returns to idle and may Listen again.
func (b *Bus) Cancel(timeout time.Duration) (undelivered int, err error) {
	b.mu.Lock()
	if !b.listening {
		b.mu.Unlock()
		return 0, nil
	}
	cancel, done := b.cancel, b.done
	b.listening = false
	b.cancel = nil
	b.done = nil
	b.mu.Unlock()

	cancel()
	<-done

	deadline := time.Now().Add(timeout)
	for {
		select {
		case ev := <-b.queue:
			if timeout > 0 && time.Now().Before(deadline) {
				b.deliver(context.Background(), ev)
				continue
			}
			undelivered++
		default:
			if undelivered == 0 {
				b.logger.Info().Msg("Event bus drained and stopped")
				return 0, nil
			}
			fredEventsDroppedTotal.Add(float64(undelivered))
			b.logger.Warn().
				Int("undelivered", undelivered).
				Dur("timeout", timeout).
				Msg("Event drain timed out, abandoning queued events")
			return undelivered, fmt.Errorf("%w: %d events undelivered", ErrDrainTimeout, undelivered)
		}
	}
}

// dispatch pulls events in order until cancelled. Per-event failures never
// terminate the loop.
func (b *Bus) dispatch(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue:
			b.deliver(ctx, ev)
		}
	}
}

// deliver invokes every handler registered for the event's name. Unmatched
// names are dropped silently.
func (b *Bus) deliver(ctx context.Context, ev event) {
	b.mu.Lock()
	handlers := b.handlers[ev.name]
	b.mu.Unlock()

	if len(handlers) == 0 {
		return
	}

	fredEventsDispatchedTotal.WithLabelValues(ev.name).Inc()

	for _, h := range handlers {
		if err := h(ctx, ev.payload); err != nil {
			fredEventHandlerErrorsTotal.WithLabelValues(ev.name).Inc()
			b.logger.Error().
				Err(err).
				Str("event", ev.name).
				Msg("Event handler failed")
		}
	}
}
