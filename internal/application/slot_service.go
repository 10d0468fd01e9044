package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/slot"
	redisinfra "github.com/TenZinKS/futsalslot-booking-engine/internal/infrastructure/redis"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/pkg/logger"
)

// slotListCacheTTL はスロット一覧キャッシュの有効期間
// 占有状態の真実はDBにあり、キャッシュは一覧表示の負荷軽減のみが目的
const slotListCacheTTL = 10 * time.Second

type SlotService struct {
	slotRepo slot.Repository
	cache    *redisinfra.SlotCache
}

func NewSlotService(sr slot.Repository, cache *redisinfra.SlotCache) *SlotService {
	return &SlotService{slotRepo: sr, cache: cache}
}

type CreateSlotInput struct {
	CourtID   string
	StartTime time.Time
	EndTime   time.Time
	Price     int
}

// CreateSlot は新しいスロットを作成する（施設管理者用）
func (s *SlotService) CreateSlot(ctx context.Context, input CreateSlotInput) (*slot.Slot, error) {
	sl := slot.NewSlot(input.CourtID, input.StartTime, input.EndTime, input.Price)
	if err := sl.Validate(); err != nil {
		return nil, err
	}
	if err := s.slotRepo.Create(ctx, sl); err != nil {
		return nil, err
	}
	s.invalidateCache(ctx)
	return sl, nil
}

// ListSlots はコートIDと日付でスロット一覧を取得する
func (s *SlotService) ListSlots(ctx context.Context, courtID string, date *time.Time) ([]*slot.Slot, error) {
	dateKey := ""
	if date != nil {
		dateKey = date.Format("2006-01-02")
	}

	if s.cache != nil {
		var cached []*slot.Slot
		err := s.cache.GetList(ctx, courtID, dateKey, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, redisinfra.ErrCacheMiss) {
			logger.Warn("スロット一覧キャッシュの取得に失敗", zap.Error(err))
		}
	}

	slots, err := s.slotRepo.List(ctx, courtID, date)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetList(ctx, courtID, dateKey, slots, slotListCacheTTL); err != nil {
			logger.Warn("スロット一覧キャッシュの保存に失敗", zap.Error(err))
		}
	}
	return slots, nil
}

// GetSlot はIDからスロットを取得する
func (s *SlotService) GetSlot(ctx context.Context, id string) (*slot.Slot, error) {
	return s.slotRepo.GetByID(ctx, id)
}

func (s *SlotService) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAll(ctx); err != nil {
		logger.Warn("スロット一覧キャッシュの無効化に失敗", zap.Error(err))
	}
}
