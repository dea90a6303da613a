package outbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domoutbox "github.com/Zhima-Mochi/storefront/internal/domain/outbox"
)

type named string

func (n named) EventName() string { return string(n) }

func TestBus_FansOutToEverySubscriber(t *testing.T) {
	bus := NewBus(nil, WithConcurrency(2))
	var wg sync.WaitGroup
	var calls atomic.Int32
	wg.Add(3)
	for i := 0; i < 3; i++ {
		bus.Subscribe("order.created", func(ctx context.Context, e domoutbox.Event) error {
			defer wg.Done()
			calls.Add(1)
			assert.Equal(t, "order.created", e.EventName())
			return nil
		})
	}
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	require.NoError(t, bus.Publish(context.Background(), named("order.created")))
	require.NoError(t, bus.Publish(context.Background(), named("nobody.listens")))
	wg.Wait()
	assert.Equal(t, int32(3), calls.Load())
}

func TestBus_HandlerFailuresDoNotStopOthers(t *testing.T) {
	bus := NewBus(nil, WithHandlerTimeout(time.Second))
	done := make(chan struct{})
	bus.Subscribe("evt", func(context.Context, domoutbox.Event) error { panic("boom") })
	bus.Subscribe("evt", func(context.Context, domoutbox.Event) error { return errors.New("failed") })
	bus.Subscribe("evt", func(ctx context.Context, _ domoutbox.Event) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok, "handlers run with a timeout")
		close(done)
		return nil
	})
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	require.NoError(t, bus.Publish(context.Background(), named("evt")))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestBus_StopDrainsAndRejects(t *testing.T) {
	bus := NewBus(nil, WithQueueSize(4))
	var calls atomic.Int32
	bus.Subscribe("evt", func(context.Context, domoutbox.Event) error {
		calls.Add(1)
		return nil
	})
	bus.Start(context.Background())

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), named("evt")))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bus.Stop(ctx)

	assert.Equal(t, int32(3), calls.Load())
	assert.ErrorIs(t, bus.Publish(context.Background(), named("evt")), ErrClosed)
	bus.Stop(context.Background())
}

func TestBus_PublishHonoursContext(t *testing.T) {
	bus := NewBus(nil, WithQueueSize(1))
	require.NoError(t, bus.Publish(context.Background(), named("evt")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, bus.Publish(ctx, named("evt")), context.Canceled)
	assert.NoError(t, bus.Publish(ctx, nil))
}

type scopeKey struct{}

func TestBus_EventScopeDecoratesHandlerContext(t *testing.T) {
	bus := NewBus(nil, WithEventScope(func(ctx context.Context, e domoutbox.Event) context.Context {
		return context.WithValue(ctx, scopeKey{}, "scoped:"+e.EventName())
	}))
	got := make(chan any, 1)
	bus.Subscribe("evt", func(ctx context.Context, _ domoutbox.Event) error {
		got <- ctx.Value(scopeKey{})
		return nil
	})
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	require.NoError(t, bus.Publish(context.Background(), named("evt")))
	select {
	case v := <-got:
		assert.Equal(t, "scoped:evt", v)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not run")
	}
}

func TestBus_SlowHandlerDoesNotHoldOtherEvents(t *testing.T) {
	bus := NewBus(nil, WithConcurrency(2))
	release := make(chan struct{})
	emailed := make(chan struct{})
	bus.Subscribe("webhook.delivery_requested", func(ctx context.Context, _ domoutbox.Event) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	bus.Subscribe("notification.email_requested", func(context.Context, domoutbox.Event) error {
		close(emailed)
		return nil
	})
	bus.Start(context.Background())
	defer bus.Stop(context.Background())
	defer close(release)

	require.NoError(t, bus.Publish(context.Background(), named("webhook.delivery_requested")))
	require.NoError(t, bus.Publish(context.Background(), named("notification.email_requested")))

	select {
	case <-emailed:
	case <-time.After(time.Second):
		t.Fatal("email event waited for the slow webhook handler")
	}
}

func TestBus_HandlerPublishNeverBlocks(t *testing.T) {
	bus := NewBus(nil, WithQueueSize(1), WithConcurrency(1), WithHandlerTimeout(5*time.Second))
	var children sync.WaitGroup
	children.Add(2)
	bus.Subscribe("child", func(context.Context, domoutbox.Event) error {
		children.Done()
		return nil
	})

	type result struct {
		errs    []error
		elapsed time.Duration
	}
	parentDone := make(chan result, 1)
	bus.Subscribe("parent", func(ctx context.Context, _ domoutbox.Event) error {
		start := time.Now()
		var r result
		for i := 0; i < 2; i++ {
			r.errs = append(r.errs, bus.Publish(ctx, named("child")))
		}
		r.elapsed = time.Since(start)
		parentDone <- r
		return nil
	})
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	require.NoError(t, bus.Publish(context.Background(), named("parent")))

	select {
	case r := <-parentDone:
		for _, err := range r.errs {
			assert.NoError(t, err)
		}
		assert.Less(t, r.elapsed, 500*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("parent handler did not finish")
	}
	children.Wait()
}

func TestBus_PublishWaitsForRoomOutsideHandlers(t *testing.T) {
	bus := NewBus(nil, WithQueueSize(1))
	var calls atomic.Int32
	bus.Subscribe("evt", func(context.Context, domoutbox.Event) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, bus.Publish(context.Background(), named("evt")))

	published := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		published <- bus.Publish(ctx, named("evt"))
	}()

	select {
	case err := <-published:
		t.Fatalf("publish returned before room was made: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	bus.Start(context.Background())
	require.NoError(t, <-published)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bus.Stop(ctx)
	assert.Equal(t, int32(2), calls.Load())
}
