package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient emulates SET NX and the compare-and-delete script.
type fakeClient struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	setErr  error
	evals   int
	setNXes int
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) SetNX(_ context.Context, key string, value interface{}, exp time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setNXes++
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, held := f.values[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = exp
	return redis.NewBoolResult(true, nil)
}

func (f *fakeClient) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals++
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *fakeClient) held(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.values[key]
	return ok
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	client := newFakeClient()
	l := newRedisLocker(client, WithKeyPrefix("test:"))

	unlock, err := l.Lock(context.Background(), "pay-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, client.held("test:pay-1"))
	assert.Equal(t, time.Minute, client.ttls["test:pay-1"])

	unlock()
	unlock()
	assert.False(t, client.held("test:pay-1"))
	assert.Equal(t, 1, client.evals, "unlock runs once")
}

func TestRedisLocker_WaitsForHolder(t *testing.T) {
	client := newFakeClient()
	l := newRedisLocker(client, WithRetryDelay(time.Millisecond))

	unlock, err := l.Lock(context.Background(), "pay-1", time.Minute)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := l.Lock(context.Background(), "pay-1", time.Minute)
		if err == nil {
			close(acquired)
			second()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first was held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestRedisLocker_ContextCancelled(t *testing.T) {
	client := newFakeClient()
	l := newRedisLocker(client, WithRetryDelay(time.Millisecond))

	_, err := l.Lock(context.Background(), "pay-1", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "pay-1", time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLocker_StaleUnlockKeepsNewHolder(t *testing.T) {
	client := newFakeClient()
	l := newRedisLocker(client)

	unlock, err := l.Lock(context.Background(), "pay-1", time.Minute)
	require.NoError(t, err)

	// the first lock expired and someone else took the key
	client.mu.Lock()
	client.values[defaultKeyPrefix+"pay-1"] = "other"
	client.mu.Unlock()

	unlock()
	assert.True(t, client.held(defaultKeyPrefix+"pay-1"))
}

func TestRedisLocker_Errors(t *testing.T) {
	client := newFakeClient()
	client.setErr = errors.New("connection refused")
	l := newRedisLocker(client)

	_, err := l.Lock(context.Background(), "pay-1", time.Minute)
	assert.ErrorContains(t, err, "connection refused")

	_, err = l.Lock(context.Background(), "pay-1", 0)
	assert.Error(t, err)
}
