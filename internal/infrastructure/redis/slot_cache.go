package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheMiss = errors.New("キャッシュが見つかりません")
)

// SlotCache はスロット一覧のキャッシュを管理する
// claim_state の真実はPostgreSQLにあり、ここは読み取り専用の短命キャッシュ
type SlotCache struct {
	client *redis.Client
}

// NewSlotCache は新しいSlotCacheインスタンスを作成する
func NewSlotCache(client *redis.Client) *SlotCache {
	return &SlotCache{client: client}
}

// GetList はコート・日付に対応するスロット一覧のキャッシュを取得する
func (c *SlotCache) GetList(ctx context.Context, courtID, date string, dest interface{}) error {
	key := c.listKey(courtID, date)
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return fmt.Errorf("キャッシュ取得に失敗: %w", err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("キャッシュの復元に失敗: %w", err)
	}
	return nil
}

// SetList はスロット一覧をキャッシュに保存する
func (c *SlotCache) SetList(ctx context.Context, courtID, date string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("キャッシュのシリアライズに失敗: %w", err)
	}
	key := c.listKey(courtID, date)
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュ保存に失敗: %w", err)
	}
	return nil
}

// InvalidateAll はスロット一覧キャッシュをすべて無効化する
// 占有状態が変わるたびに呼ばれる
func (c *SlotCache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "slots:list:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("キャッシュ無効化に失敗: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("キャッシュ走査に失敗: %w", err)
	}
	return nil
}

func (c *SlotCache) listKey(courtID, date string) string {
	return fmt.Sprintf("slots:list:%s:%s", courtID, date)
}
