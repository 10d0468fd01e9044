package booking

import (
	"context"
	"time"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/transaction"
)

// Repository は予約リポジトリのインターフェース
type Repository interface {
	// Create は新しい予約を作成する（トランザクション必須）
	Create(ctx context.Context, tx transaction.Tx, b *Booking) error

	// GetByID はIDから予約を取得する
	GetByID(ctx context.Context, id string) (*Booking, error)

	// GetByIdempotencyKey は冪等性キーから予約を取得する
	GetByIdempotencyKey(ctx context.Context, key string) (*Booking, error)

	// GetByUserID はユーザーIDから予約一覧を取得する（新しい順）
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*Booking, error)

	// Update は予約を更新する。更新は支払い待ち・確定済みなど
	// 遷移元の状態を WHERE 句で確認する条件付き更新で行い、
	// 一致しなければ ErrStaleBooking を返す（トランザクション必須）
	Update(ctx context.Context, tx transaction.Tx, b *Booking, fromStatus Status) error

	// GetExpiredPending は保持期限を超過した支払い待ち予約を取得する
	GetExpiredPending(ctx context.Context, olderThan time.Time) ([]*Booking, error)
}
