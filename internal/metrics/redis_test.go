package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestNewRedisMetrics(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	rm := NewRedisMetrics(client)

	assert.NotNil(t, rm)
	assert.Equal(t, client, rm.client)
	assert.Equal(t, int64(0), rm.hits)
	assert.Equal(t, int64(0), rm.misses)
}

func TestRedisMetrics_Client(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	rm := NewRedisMetrics(client)

	assert.Equal(t, client, rm.Client())
}

func TestRedisMetrics_ResetStats(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	rm := NewRedisMetrics(client)

	rm.hits = 100
	rm.misses = 50

	rm.ResetStats()

	assert.Equal(t, int64(0), rm.hits)
	assert.Equal(t, int64(0), rm.misses)
}

func TestRedisMetrics_UpdateHitRate(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	rm := NewRedisMetrics(client)

	assert.NotPanics(t, func() {
		rm.updateHitRate()
	})

	rm.hits = 80
	rm.misses = 20

	assert.NotPanics(t, func() {
		rm.updateHitRate()
	})

	rm.hits = 100
	rm.misses = 0

	assert.NotPanics(t, func() {
		rm.updateHitRate()
	})

	rm.hits = 0
	rm.misses = 100

	assert.NotPanics(t, func() {
		rm.updateHitRate()
	})
}

// Integration tests below exercise RedisMetrics against price-cache style
// keys (matching RedisPriceCache.buildKey's "xarb:price:<symbol>:<currency>"
// scheme) and are skipped unless a real Redis instance is reachable.

func TestRedisMetrics_Get_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}

	defer func() { _ = client.Close() }()

	rm := NewRedisMetrics(client)

	testKey := "xarb:price:BTC:USD"
	client.Del(ctx, testKey)

	_, err := rm.Get(ctx, testKey)
	assert.Error(t, err)
	assert.Equal(t, redis.Nil, err)
	assert.Equal(t, int64(0), rm.hits)
	assert.Equal(t, int64(1), rm.misses)

	client.Set(ctx, testKey, `{"price":62150.25}`, time.Minute)

	rm.ResetStats()

	val, err := rm.Get(ctx, testKey)
	assert.NoError(t, err)
	assert.Equal(t, `{"price":62150.25}`, val)
	assert.Equal(t, int64(1), rm.hits)
	assert.Equal(t, int64(0), rm.misses)

	client.Del(ctx, testKey)
}

func TestRedisMetrics_Set_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}

	defer func() { _ = client.Close() }()

	rm := NewRedisMetrics(client)

	testKey := "xarb:price:ETH:USD"
	client.Del(ctx, testKey)

	err := rm.Set(ctx, testKey, `{"price":3420.10}`, time.Minute)
	assert.NoError(t, err)

	val, err := client.Get(ctx, testKey).Result()
	assert.NoError(t, err)
	assert.Equal(t, `{"price":3420.10}`, val)

	client.Del(ctx, testKey)
}

func TestRedisMetrics_Del_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}

	defer func() { _ = client.Close() }()

	rm := NewRedisMetrics(client)

	testKey := "xarb:price:SOL:USD"

	client.Set(ctx, testKey, `{"price":145.80}`, time.Minute)

	err := rm.Del(ctx, testKey)
	assert.NoError(t, err)

	_, err = client.Get(ctx, testKey).Result()
	assert.Error(t, err)
	assert.Equal(t, redis.Nil, err)
}

func TestRedisMetrics_Exists_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}

	defer func() { _ = client.Close() }()

	rm := NewRedisMetrics(client)

	testKey := "xarb:price:ADA:USD"
	client.Del(ctx, testKey)

	count, err := rm.Exists(ctx, testKey)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), count)

	client.Set(ctx, testKey, `{"price":0.42}`, time.Minute)

	count, err = rm.Exists(ctx, testKey)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)

	client.Del(ctx, testKey)
}

func TestRedisMetrics_Expire_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}

	defer func() { _ = client.Close() }()

	rm := NewRedisMetrics(client)

	testKey := "xarb:price:DOGE:USD"

	client.Set(ctx, testKey, `{"price":0.12}`, 0)

	err := rm.Expire(ctx, testKey, time.Second)
	assert.NoError(t, err)

	ttl, err := client.TTL(ctx, testKey).Result()
	assert.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Second)

	client.Del(ctx, testKey)
}

func TestRedisMetrics_HitRateCalculation_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}

	defer func() { _ = client.Close() }()

	rm := NewRedisMetrics(client)

	testKey1 := "xarb:price:BTC:USDT"
	testKey2 := "xarb:price:MATIC:USDT"

	client.Del(ctx, testKey1, testKey2)

	client.Set(ctx, testKey1, `{"price":62000}`, time.Minute)

	rm.ResetStats()

	_, _ = rm.Get(ctx, testKey1) // hit
	_, _ = rm.Get(ctx, testKey1) // hit
	_, _ = rm.Get(ctx, testKey2) // miss, never set

	assert.Equal(t, int64(2), rm.hits)
	assert.Equal(t, int64(1), rm.misses)

	client.Del(ctx, testKey1, testKey2)
}

func TestRedisMetrics_MultipleKeys_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}

	defer func() { _ = client.Close() }()

	rm := NewRedisMetrics(client)

	keys := []string{"xarb:price:BTC:USD", "xarb:price:ETH:USD", "xarb:price:SOL:USD"}
	prices := []string{`{"price":62000}`, `{"price":3400}`, `{"price":145}`}

	for i, key := range keys {
		err := rm.Set(ctx, key, prices[i], time.Minute)
		assert.NoError(t, err)
	}

	err := rm.Del(ctx, keys...)
	assert.NoError(t, err)

	for _, key := range keys {
		_, err := client.Get(ctx, key).Result()
		assert.Error(t, err)
	}
}
