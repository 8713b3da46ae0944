package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runBreachStoreTests(t *testing.T, store BreachStore) {
	ctx := context.Background()
	base := time.Date(2026, 1, 14, 12, 0, 0, 0, time.UTC)
	sustain := 10 * time.Minute

	t.Run("active only after sustain holds", func(t *testing.T) {
		key := "r1:d1"

		// 持续 9m59s：未达到持续要求
		out, err := store.Observe(ctx, key, true, sustain, base)
		require.NoError(t, err)
		assert.False(t, out.Active)

		out, err = store.Observe(ctx, key, true, sustain, base.Add(sustain-time.Second))
		require.NoError(t, err)
		assert.False(t, out.Active)

		// 超过持续要求后每次观测都报告 Active，由告警库区分新建与重复
		out, err = store.Observe(ctx, key, true, sustain, base.Add(sustain+time.Second))
		require.NoError(t, err)
		assert.True(t, out.Active)

		out, err = store.Observe(ctx, key, true, sustain, base.Add(sustain+time.Minute))
		require.NoError(t, err)
		assert.True(t, out.Active)
	})

	t.Run("clear resets the streak", func(t *testing.T) {
		key := "r1:d2"

		_, err := store.Observe(ctx, key, true, sustain, base)
		require.NoError(t, err)
		out, err := store.Observe(ctx, key, true, sustain, base.Add(sustain))
		require.NoError(t, err)
		require.True(t, out.Active)

		// 恢复：已触发过的 key 报告 Cleared
		out, err = store.Observe(ctx, key, false, sustain, base.Add(sustain+time.Minute))
		require.NoError(t, err)
		assert.True(t, out.Cleared)

		// 再次违规从零开始计时
		out, err = store.Observe(ctx, key, true, sustain, base.Add(20*time.Minute))
		require.NoError(t, err)
		assert.False(t, out.Active)

		out, err = store.Observe(ctx, key, true, sustain, base.Add(20*time.Minute).Add(sustain))
		require.NoError(t, err)
		assert.True(t, out.Active)
	})

	t.Run("clear before firing is silent", func(t *testing.T) {
		key := "r1:d3"

		_, err := store.Observe(ctx, key, true, sustain, base)
		require.NoError(t, err)

		// 未达到持续要求就恢复：不报告 Cleared，避免无中生有的 auto-clear
		out, err := store.Observe(ctx, key, false, sustain, base.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, out.Cleared)
		assert.False(t, out.Active)
	})

	t.Run("zero sustain is active immediately", func(t *testing.T) {
		out, err := store.Observe(ctx, "r1:d4", true, 0, base)
		require.NoError(t, err)
		assert.True(t, out.Active)
	})
}

func TestMemoryBreachStore(t *testing.T) {
	runBreachStoreTests(t, NewMemoryBreachStore())
}

func TestRedisBreachStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	runBreachStoreTests(t, NewRedisBreachStore(client, "test:breach:", time.Hour))
}

func TestRedisBreachStore_CorruptStateRestartsStreak(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisBreachStore(client, "test:breach:", time.Hour)
	require.NoError(t, mr.Set("test:breach:r1:d1", "not-json"))

	out, err := store.Observe(context.Background(), "r1:d1", true, time.Minute, time.Now())
	require.NoError(t, err)
	assert.False(t, out.Active)
}
