package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/config"
)

type cachedSlotEntry struct {
	ID        string `json:"id"`
	Available bool   `json:"available"`
}

func TestSlotCache_List(t *testing.T) {
	client := NewClient(&config.RedisConfig{Host: "localhost", Port: "6379"})
	ctx := context.Background()
	if err := Ping(ctx, client); err != nil {
		t.Skip("Redis not available")
	}
	defer client.Close()

	cache := NewSlotCache(client)
	courtID := "court-cache-1"
	date := "2026-09-01"

	t.Run("キャッシュミス時はErrCacheMissを返す", func(t *testing.T) {
		var dest []cachedSlotEntry
		err := cache.GetList(ctx, courtID, "2026-01-01", &dest)
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("キャッシュにセットした一覧を取得できる", func(t *testing.T) {
		entries := []cachedSlotEntry{
			{ID: "slot-1", Available: true},
			{ID: "slot-2", Available: false},
		}
		err := cache.SetList(ctx, courtID, date, entries, 30*time.Second)
		require.NoError(t, err)

		var dest []cachedSlotEntry
		err = cache.GetList(ctx, courtID, date, &dest)
		require.NoError(t, err)
		assert.Equal(t, entries, dest)
	})

	t.Run("コート・日付が異なればキーも異なる", func(t *testing.T) {
		err := cache.SetList(ctx, courtID, date, []cachedSlotEntry{{ID: "slot-1", Available: true}}, 30*time.Second)
		require.NoError(t, err)

		var dest []cachedSlotEntry
		err = cache.GetList(ctx, "court-cache-other", date, &dest)
		assert.ErrorIs(t, err, ErrCacheMiss)
		err = cache.GetList(ctx, courtID, "2026-12-31", &dest)
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("InvalidateAllで全一覧キャッシュが消える", func(t *testing.T) {
		err := cache.SetList(ctx, courtID, date, []cachedSlotEntry{{ID: "slot-1", Available: true}}, 30*time.Second)
		require.NoError(t, err)
		err = cache.SetList(ctx, "court-cache-2", date, []cachedSlotEntry{{ID: "slot-9", Available: true}}, 30*time.Second)
		require.NoError(t, err)

		err = cache.InvalidateAll(ctx)
		require.NoError(t, err)

		var dest []cachedSlotEntry
		assert.ErrorIs(t, cache.GetList(ctx, courtID, date, &dest), ErrCacheMiss)
		assert.ErrorIs(t, cache.GetList(ctx, "court-cache-2", date, &dest), ErrCacheMiss)
	})
}

func TestSlotCache_TTL(t *testing.T) {
	client := NewClient(&config.RedisConfig{Host: "localhost", Port: "6379"})
	ctx := context.Background()
	if err := Ping(ctx, client); err != nil {
		t.Skip("Redis not available")
	}
	defer client.Close()

	cache := NewSlotCache(client)
	courtID := "court-cache-ttl"
	date := "2026-09-01"

	t.Run("TTL経過後はキャッシュミスになる", func(t *testing.T) {
		err := cache.SetList(ctx, courtID, date, []cachedSlotEntry{{ID: "slot-1", Available: true}}, 100*time.Millisecond)
		require.NoError(t, err)

		var dest []cachedSlotEntry
		require.NoError(t, cache.GetList(ctx, courtID, date, &dest))

		time.Sleep(150 * time.Millisecond)
		assert.ErrorIs(t, cache.GetList(ctx, courtID, date, &dest), ErrCacheMiss)
	})
}
