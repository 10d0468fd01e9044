package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	redisinfra "github.com/TenZinKS/futsalslot-booking-engine/internal/infrastructure/redis"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/pkg/logger"
)

// sweepLockKey は失効スイープの実行インスタンスを1つに絞るロックキー
const sweepLockKey = "booking:sweep"

// BookingExpirer は期限切れの支払い待ち予約を失効させるインターフェース
type BookingExpirer interface {
	ExpireStaleBookings(ctx context.Context) (int, error)
}

// ExpiredBookingSweeper は保持期限を超過した支払い待ち予約を
// 定期的に失効させるワーカー。
// 失効は台帳の条件付き遷移で行われるため、遅れて届いた決済確認と
// 競合しても二重適用は起きない
type ExpiredBookingSweeper struct {
	bookingService BookingExpirer
	lockManager    *redisinfra.LockManager
	interval       time.Duration
	stopCh         chan struct{}
	doneCh         chan struct{}
}

// NewExpiredBookingSweeper は新しいスイーパーを作成する
// lockManager が nil の場合はロックなしで毎サイクル実行する（単一インスタンス向け）
func NewExpiredBookingSweeper(
	bs BookingExpirer,
	lockManager *redisinfra.LockManager,
	interval time.Duration,
) *ExpiredBookingSweeper {
	return &ExpiredBookingSweeper{
		bookingService: bs,
		lockManager:    lockManager,
		interval:       interval,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start はスイーパーを開始する
func (s *ExpiredBookingSweeper) Start(ctx context.Context) {
	logger.Info("失効スイープ開始", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.doneCh)

	for {
		select {
		case <-ctx.Done():
			logger.Info("失効スイープ停止（コンテキストキャンセル）")
			return
		case <-s.stopCh:
			logger.Info("失効スイープ停止（シグナル受信）")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop はスイーパーを停止する
func (s *ExpiredBookingSweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// sweep は1サイクル分の失効処理を行う
func (s *ExpiredBookingSweeper) sweep(ctx context.Context) {
	log := logger.Get()

	if s.lockManager != nil {
		lock, err := s.lockManager.AcquireLock(ctx, sweepLockKey, s.interval)
		if err != nil {
			if errors.Is(err, redisinfra.ErrLockNotAcquired) {
				// 別のインスタンスがスイープ中
				log.Debug("失効スイープをスキップ（ロック取得できず）")
				return
			}
			log.Error("スイープロックの取得に失敗", zap.Error(err))
			return
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				log.Warn("スイープロックの解放に失敗", zap.Error(err))
			}
		}()
	}

	count, err := s.bookingService.ExpireStaleBookings(ctx)
	if err != nil {
		log.Error("失効スイープに失敗", zap.Error(err))
		return
	}

	if count > 0 {
		log.Info("期限切れ予約を失効", zap.Int("count", count))
	} else {
		log.Debug("期限切れ予約なし")
	}
}
