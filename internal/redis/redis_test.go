package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-scheduling/internal/logging"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestSlotKey(t *testing.T) {
	doctorID := uuid.MustParse("6f1c1f4e-2d8f-4a43-9d4e-2b0e0f3c9a11")
	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "lock:slot:6f1c1f4e-2d8f-4a43-9d4e-2b0e0f3c9a11:2024-06-10:09:00-09:30",
		SlotKey(doctorID, date, "09:00-09:30"))
}

func TestWithSlotLockReleasesAfterRun(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)
	key := SlotKey(uuid.New(), time.Now(), "09:00-09:30")

	ran := false
	err := locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists(key))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(key))
}

func TestWithSlotLockReturnsCallbackError(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)
	key := "lock:slot:x"
	boom := errors.New("boom")

	err := locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(key))
}

func TestWithSlotLockContention(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)
	key := "lock:slot:contended"

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		t.Fatal("critical section must not run while the lock is held")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	close(release)
}

func TestWithSlotLockDoesNotReleaseForeignToken(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)
	key := "lock:slot:stolen"

	err := locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		// Simulate the lock expiring and being taken by another process.
		return mr.Set(key, "someone-else")
	})
	require.NoError(t, err)

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestNoopLockerRunsConcurrently(t *testing.T) {
	var n int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = NoopLocker{}.WithSlotLock(context.Background(), "k", func(ctx context.Context) error {
				atomic.AddInt32(&n, 1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(4), n)
}

type countingStore struct {
	tmpl     map[uuid.UUID]schedule.Template
	gets     int
	replaces int
}

func (s *countingStore) GetAvailability(_ context.Context, doctorID uuid.UUID) (schedule.Template, error) {
	s.gets++
	return s.tmpl[doctorID], nil
}

func (s *countingStore) ReplaceAvailability(_ context.Context, doctorID uuid.UUID, tmpl schedule.Template) error {
	s.replaces++
	s.tmpl[doctorID] = tmpl
	return nil
}

func TestCachedTemplateStoreReadThroughAndInvalidate(t *testing.T) {
	mr, client := newTestRedis(t)
	doctorID := uuid.New()
	original := schedule.Template{{
		Day:                 time.Monday,
		StartTime:           schedule.MustParseClock("09:00"),
		EndTime:             schedule.MustParseClock("10:00"),
		SlotDurationMinutes: 30,
		IsAvailable:         true,
	}}
	backing := &countingStore{tmpl: map[uuid.UUID]schedule.Template{doctorID: original}}
	cache := NewCachedTemplateStore(backing, client, time.Minute, logging.Discard())
	ctx := context.Background()

	got, err := cache.GetAvailability(ctx, doctorID)
	require.NoError(t, err)
	assert.Equal(t, original, got)
	assert.True(t, mr.Exists(templateKey(doctorID)))

	got, err = cache.GetAvailability(ctx, doctorID)
	require.NoError(t, err)
	assert.Equal(t, original, got)
	assert.Equal(t, 1, backing.gets)

	updated := schedule.Template{{
		Day:                 time.Tuesday,
		StartTime:           schedule.MustParseClock("13:00"),
		EndTime:             schedule.MustParseClock("15:00"),
		SlotDurationMinutes: 20,
		IsAvailable:         true,
	}}
	require.NoError(t, cache.ReplaceAvailability(ctx, doctorID, updated))
	assert.False(t, mr.Exists(templateKey(doctorID)))

	got, err = cache.GetAvailability(ctx, doctorID)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
	assert.Equal(t, 2, backing.gets)
	assert.Equal(t, 1, backing.replaces)
}

func TestCachedTemplateStoreFallsBackWhenRedisDown(t *testing.T) {
	mr, client := newTestRedis(t)
	doctorID := uuid.New()
	backing := &countingStore{tmpl: map[uuid.UUID]schedule.Template{}}
	cache := NewCachedTemplateStore(backing, client, time.Minute, logging.Discard())

	mr.Close()

	got, err := cache.GetAvailability(context.Background(), doctorID)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, backing.gets)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), ClientOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.Equal(t, 10, client.Options().PoolSize)
	assert.NoError(t, Ping(client)(context.Background()))

	mr.Close()
	assert.Error(t, Ping(client)(context.Background()))
}

func TestNewRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), ClientOptions{Addr: addr, PingTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis "+addr)
}
