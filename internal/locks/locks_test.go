package locks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/rehab-clinic-platform/pkg/logging"
)

func TestLocalLockerSerializesSameKey(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "package:1")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
	assert.Empty(t, locker.slots)
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), "patient:1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "patient:1")
	assert.True(t, errors.Is(err, ErrNotAcquired))

	other, err := locker.Acquire(context.Background(), "patient:2")
	require.NoError(t, err)
	other()
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, time.Second, logging.Default()), mr
}

func TestRedisLockerAcquireRelease(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "package:abc")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:package:abc"))

	release()
	release()
	assert.False(t, mr.Exists("lock:package:abc"))
}

func TestRedisLockerTimesOutWhileHeld(t *testing.T) {
	locker, _ := newRedisLocker(t)
	locker.WithMaxWait(50 * time.Millisecond)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "patient:p1")
	require.NoError(t, err)
	defer release()

	_, err = locker.Acquire(ctx, "patient:p1")
	assert.True(t, errors.Is(err, ErrNotAcquired))
}

func TestRedisLockerDoesNotReleaseForeignToken(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "package:xyz")
	require.NoError(t, err)

	// Simulate expiry and takeover by another replica.
	require.NoError(t, mr.Set("lock:package:xyz", "someone-else"))
	release()

	got, err := mr.Get("lock:package:xyz")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
