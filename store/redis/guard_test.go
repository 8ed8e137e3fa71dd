package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/claims-engine/store/redis"
)

func TestKey_UsesPrefix(t *testing.T) {
	g := redis.NewWithClient(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}), redis.Options{})
	defer g.Close()

	assert.Equal(t, "claims:inflight:processClaim:7", g.Key("processClaim:7"))

	g2 := redis.NewWithClient(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}), redis.Options{Prefix: "t:"})
	defer g2.Close()
	assert.Equal(t, "t:withdraw", g2.Key("withdraw"))
}

func TestRelease_UnknownIntentIsNoop(t *testing.T) {
	g := redis.NewWithClient(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}), redis.Options{})
	defer g.Close()

	assert.NoError(t, g.Release(context.Background(), "never-acquired"))
}

// Requires a live server: CLAIMS_TEST_REDIS_ADDR=localhost:6379
func TestGuard_AcquireIsExclusiveAcrossInstances(t *testing.T) {
	addr := os.Getenv("CLAIMS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CLAIMS_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	opts := redis.Options{Addr: addr, Prefix: "claims:test:" + time.Now().Format("150405.000000") + ":", TTL: time.Minute}

	a, err := redis.New(ctx, opts)
	require.NoError(t, err)
	defer a.Close()
	b, err := redis.New(ctx, opts)
	require.NoError(t, err)
	defer b.Close()

	// GIVEN: instance A holds the intent
	ok, err := a.Acquire(ctx, "processClaim:1")
	require.NoError(t, err)
	require.True(t, ok)

	// WHEN: instance B tries the same intent
	ok, err = b.Acquire(ctx, "processClaim:1")

	// THEN: refused until A releases
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, b.Release(ctx, "processClaim:1"), "B never held it")

	require.NoError(t, a.Release(ctx, "processClaim:1"))
	ok, err = b.Acquire(ctx, "processClaim:1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx, "processClaim:1"))
}

// Requires a live server: CLAIMS_TEST_REDIS_ADDR=localhost:6379
func TestGuard_HeldIntentOutlivesTTL(t *testing.T) {
	addr := os.Getenv("CLAIMS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CLAIMS_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	opts := redis.Options{Addr: addr, Prefix: "claims:test:" + time.Now().Format("150405.000000") + ":", TTL: 300 * time.Millisecond}

	a, err := redis.New(ctx, opts)
	require.NoError(t, err)
	defer a.Close()
	b, err := redis.New(ctx, opts)
	require.NoError(t, err)
	defer b.Close()

	// GIVEN: A holds the intent while its transaction is still unconfirmed
	ok, err := a.Acquire(ctx, "processClaim:2")
	require.NoError(t, err)
	require.True(t, ok)

	// WHEN: several TTLs pass
	time.Sleep(time.Second)

	// THEN: the key is still A's
	ok, err = b.Acquire(ctx, "processClaim:2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx, "processClaim:2"))
	ok, err = b.Acquire(ctx, "processClaim:2")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx, "processClaim:2"))
}

// Requires a live server: CLAIMS_TEST_REDIS_ADDR=localhost:6379
func TestGuard_CrashedHolderExpires(t *testing.T) {
	addr := os.Getenv("CLAIMS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CLAIMS_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	opts := redis.Options{Addr: addr, Prefix: "claims:test:" + time.Now().Format("150405.000000") + ":", TTL: 300 * time.Millisecond}

	a, err := redis.New(ctx, opts)
	require.NoError(t, err)
	b, err := redis.New(ctx, opts)
	require.NoError(t, err)
	defer b.Close()

	ok, err := a.Acquire(ctx, "withdraw")
	require.NoError(t, err)
	require.True(t, ok)

	// Closing stops renewal without releasing, like a crashed process
	require.NoError(t, a.Close())

	require.Eventually(t, func() bool {
		ok, err := b.Acquire(ctx, "withdraw")
		return err == nil && ok
	}, 2*time.Second, 50*time.Millisecond)
	require.NoError(t, b.Release(ctx, "withdraw"))
}
