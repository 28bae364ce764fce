package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Name string `json:"name"`
}

func setup(t *testing.T) (*miniredis.Miniredis, *Layer, *int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	var loads int32
	l := NewLayer(rdb)
	l.Register("users", 10*time.Minute, func(ctx context.Context) (any, error) {
		atomic.AddInt32(&loads, 1)
		return []item{{Name: "ann"}, {Name: "ben"}}, nil
	})
	return mr, l, &loads
}

func TestLayer_MissThenHit(t *testing.T) {
	ctx := context.Background()
	mr, l, loads := setup(t)

	p, err := l.Get(ctx, "users", false)
	require.NoError(t, err)
	assert.False(t, p.Hit)
	assert.JSONEq(t, `[{"name":"ann"},{"name":"ben"}]`, string(p.Body))
	assert.True(t, mr.Exists(RawKey("users")))
	assert.True(t, mr.Exists(GzipKey("users")))
	assert.Equal(t, 10*time.Minute, mr.TTL(RawKey("users")))

	p, err = l.Get(ctx, "users", false)
	require.NoError(t, err)
	assert.True(t, p.Hit)
	assert.False(t, p.Gzip)

	p, err = l.Get(ctx, "users", true)
	require.NoError(t, err)
	assert.True(t, p.Hit)
	assert.True(t, p.Gzip)
	raw, err := gunzip(p.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"ann"},{"name":"ben"}]`, string(raw))

	assert.Equal(t, int32(1), atomic.LoadInt32(loads))
}

func TestLayer_ExpiredEntryIsRebuilt(t *testing.T) {
	ctx := context.Background()
	mr, l, loads := setup(t)

	_, err := l.Get(ctx, "users", true)
	require.NoError(t, err)

	mr.FastForward(10*time.Minute + time.Second)

	p, err := l.Get(ctx, "users", true)
	require.NoError(t, err)
	assert.False(t, p.Hit)
	assert.Equal(t, int32(2), atomic.LoadInt32(loads))
}

func TestLayer_CorruptValuesAreRebuilt(t *testing.T) {
	ctx := context.Background()
	mr, l, loads := setup(t)

	require.NoError(t, mr.Set(RawKey("users"), "{not json"))
	p, err := l.Get(ctx, "users", false)
	require.NoError(t, err)
	assert.False(t, p.Hit)
	assert.True(t, json.Valid(p.Body))

	require.NoError(t, mr.Set(GzipKey("users"), base64.StdEncoding.EncodeToString([]byte("plain text"))))
	p, err = l.Get(ctx, "users", true)
	require.NoError(t, err)
	assert.False(t, p.Hit)
	_, err = gunzip(p.Body)
	assert.NoError(t, err)

	require.NoError(t, mr.Set(GzipKey("users"), "%%% not base64"))
	_, err = l.Get(ctx, "users", true)
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(loads))
}

func TestLayer_RedisDownFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	mr, l, loads := setup(t)
	mr.Close()

	p, err := l.Get(ctx, "users", false)
	require.NoError(t, err)
	assert.False(t, p.Hit)
	assert.JSONEq(t, `[{"name":"ann"},{"name":"ben"}]`, string(p.Body))
	assert.Equal(t, int32(1), atomic.LoadInt32(loads))
}

func TestLayer_NilClientAlwaysLoads(t *testing.T) {
	l := NewLayer(nil)
	calls := 0
	l.Register("apps", time.Hour, func(ctx context.Context) (any, error) {
		calls++
		return []string{}, nil
	})

	for i := 0; i < 2; i++ {
		p, err := l.Get(context.Background(), "apps", false)
		require.NoError(t, err)
		assert.Equal(t, "[]", string(p.Body))
	}
	assert.Equal(t, 2, calls)
}

func TestLayer_Errors(t *testing.T) {
	_, l, _ := setup(t)
	_, err := l.Get(context.Background(), "nope", false)
	assert.ErrorIs(t, err, ErrUnknownResource)

	boom := errors.New("store down")
	l.Register("broken", time.Minute, func(ctx context.Context) (any, error) { return nil, boom })
	_, err = l.Get(context.Background(), "broken", false)
	assert.ErrorIs(t, err, boom)
}

func TestLayer_ConcurrentMissesShareOneLoad(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	release := make(chan struct{})
	var loads int32
	l := NewLayer(rdb)
	l.Register("users", time.Minute, func(ctx context.Context) (any, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return []item{{Name: "ann"}}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Get(context.Background(), "users", i%2 == 0)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestLayer_SharedRebuildSurvivesCallerCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	release := make(chan struct{})
	var loads int32
	l := NewLayer(rdb)
	l.Register("users", time.Minute, func(ctx context.Context) (any, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []item{{Name: "ann"}}, nil
	})

	firstCtx, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := l.Get(firstCtx, "users", false)
		firstDone <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&loads) == 1 }, time.Second, time.Millisecond)

	secondDone := make(chan error, 1)
	go func() {
		p, err := l.Get(context.Background(), "users", false)
		if err == nil {
			assert.JSONEq(t, `[{"name":"ann"}]`, string(p.Body))
		}
		secondDone <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	close(release)

	assert.NoError(t, <-secondDone)
	assert.NoError(t, <-firstDone)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	assert.True(t, mr.Exists(RawKey("users")))
}
