package outbox

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	domoutbox "github.com/Zhima-Mochi/storefront/internal/domain/outbox"
	"github.com/Zhima-Mochi/storefront/internal/observability"
	"github.com/Zhima-Mochi/storefront/internal/observability/logctx"
)

const (
	componentOutbox       = "outbox"
	defaultQueueSize      = 1024
	defaultConcurrency    = 8
	defaultHandlerTimeout = 30 * time.Second
)

// ErrClosed is returned by Publish once the bus is stopped.
var ErrClosed = errors.New("outbox: bus is stopped")

// handlerKey marks contexts handed to handlers of a given bus.
type handlerKey struct{}

// Bus is an in-memory event bus. Domain events, email jobs and webhook
// deliveries all travel through it to the workers subscribed by name.
// A pool of dispatchers takes events off the queue, so a slow handler only
// holds up its own event. It is not durable: events still queued when Stop
// gives up are dropped.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]domoutbox.Handler

	qmu     sync.Mutex
	ready   *sync.Cond // signalled when pending grows or the bus closes
	pending []domoutbox.Event
	space   chan struct{} // closed whenever an event leaves pending
	limit   int
	closed  bool

	startOnce   sync.Once
	stopOnce    sync.Once
	cancel      context.CancelFunc
	dispatchers sync.WaitGroup
	done        chan struct{}
	concurrency int
	timeout     time.Duration
	log         observability.Logger
	handled     observability.Counter // events_handled_total{event,outcome}
	scope       func(context.Context, domoutbox.Event) context.Context
}

type Option func(*Bus)

// WithQueueSize bounds the backlog seen by publishers outside handlers.
// Handlers publishing follow-up events are never held back by it.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.limit = n
		}
	}
}

// WithConcurrency sets how many events are dispatched at once.
func WithConcurrency(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithEventScope decorates the context of every handler run, typically to
// attach a logger describing the event.
func WithEventScope(fn func(context.Context, domoutbox.Event) context.Context) Option {
	return func(b *Bus) { b.scope = fn }
}

func NewBus(tel observability.Observability, opts ...Option) *Bus {
	if tel == nil {
		tel = observability.Nop()
	}
	b := &Bus{
		subs:        make(map[string][]domoutbox.Handler),
		space:       make(chan struct{}),
		limit:       defaultQueueSize,
		done:        make(chan struct{}),
		concurrency: defaultConcurrency,
		timeout:     defaultHandlerTimeout,
		log:         tel.Logger().With(observability.F("component", componentOutbox)),
		handled:     tel.Metrics().Counter(observability.MEventsHandled),
	}
	b.ready = sync.NewCond(&b.qmu)
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bus) Subscribe(eventName string, h domoutbox.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
		b.cancel = cancel
		for i := 0; i < b.concurrency; i++ {
			b.dispatchers.Add(1)
			go b.dispatch(bg)
		}
		go func() {
			b.dispatchers.Wait()
			close(b.done)
		}()
		logctx.FromOr(ctx, b.log).Info("event_bus_started",
			observability.F("concurrency", b.concurrency),
			observability.F("queue_size", b.limit),
		)
	})
}

// Stop rejects new events and waits for queued and in-flight events until
// ctx expires; whatever is still queued then is dropped.
func (b *Bus) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		b.qmu.Lock()
		b.closed = true
		b.ready.Broadcast()
		b.qmu.Unlock()

		logger := logctx.FromOr(ctx, b.log)
		if b.cancel != nil {
			select {
			case <-b.done:
			case <-ctx.Done():
				b.qmu.Lock()
				dropped := len(b.pending)
				b.pending = nil
				b.qmu.Unlock()
				logger.Warn("event_bus_drain_aborted", observability.F("pending", dropped))
			}
			b.cancel()
		}
		logger.Info("event_bus_stopped")
	})
}

// Publish queues e. Outside handlers it waits for room while the backlog is
// at its limit; inside a handler it always queues at once.
func (b *Bus) Publish(ctx context.Context, e domoutbox.Event) error {
	if e == nil {
		return nil
	}
	logger := logctx.FromOr(ctx, b.log).With(observability.F("event", e.EventName()))
	owner, _ := ctx.Value(handlerKey{}).(*Bus)
	fromHandler := owner == b

	for {
		b.qmu.Lock()
		if b.closed {
			b.qmu.Unlock()
			logger.Warn("event_enqueue_rejected")
			return ErrClosed
		}
		if fromHandler || len(b.pending) < b.limit {
			b.pending = append(b.pending, e)
			b.ready.Signal()
			b.qmu.Unlock()
			logger.Debug("event_enqueued")
			return nil
		}
		space := b.space
		b.qmu.Unlock()

		select {
		case <-space:
		case <-ctx.Done():
			logger.Warn("event_enqueue_aborted", observability.F("error", ctx.Err().Error()))
			return ctx.Err()
		}
	}
}

// next blocks until an event is queued; it reports false once the bus is
// closed and drained.
func (b *Bus) next() (domoutbox.Event, bool) {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	for len(b.pending) == 0 && !b.closed {
		b.ready.Wait()
	}
	if len(b.pending) == 0 {
		return nil, false
	}
	e := b.pending[0]
	b.pending[0] = nil
	b.pending = b.pending[1:]
	close(b.space)
	b.space = make(chan struct{})
	return e, true
}

func (b *Bus) dispatch(ctx context.Context) {
	defer b.dispatchers.Done()
	for {
		e, ok := b.next()
		if !ok {
			return
		}
		b.fanout(ctx, e)
	}
}

func (b *Bus) fanout(ctx context.Context, e domoutbox.Event) {
	name := e.EventName()

	b.mu.RLock()
	handlers := append([]domoutbox.Handler(nil), b.subs[name]...)
	b.mu.RUnlock()

	eventLogger := b.log.With(observability.F("event", name))
	if len(handlers) == 0 {
		eventLogger.Debug("event_dropped_no_subscriber")
		b.handled.Add(1, observability.L("event", name), observability.L("outcome", "dropped"))
		return
	}

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func() {
			outcome := "success"
			defer func() {
				if r := recover(); r != nil {
					outcome = "panic"
					eventLogger.Error("event_handler_panic",
						observability.F("panic", r),
						observability.F("stack", string(debug.Stack())),
					)
				}
				b.handled.Add(1, observability.L("event", name), observability.L("outcome", outcome))
				wg.Done()
			}()

			hctx, cancel := context.WithTimeout(ctx, b.timeout)
			defer cancel()
			hctx = context.WithValue(hctx, handlerKey{}, b)
			hctx = logctx.With(hctx, eventLogger)
			if b.scope != nil {
				hctx = b.scope(hctx, e)
			}
			if err := h(hctx, e); err != nil {
				outcome = "error"
				eventLogger.Warn("event_handler_error", observability.F("error", err.Error()))
			}
		}()
	}

	wg.Wait()
	eventLogger.Debug("event_fanned_out", observability.F("handlers", len(handlers)))
}
