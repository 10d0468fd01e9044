package slot

import (
	"context"
	"time"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/transaction"
)

// Repository はスロットリポジトリのインターフェース
type Repository interface {
	// Create は新しいスロットを作成する
	Create(ctx context.Context, s *Slot) error

	// GetByID はIDからスロットを取得する
	GetByID(ctx context.Context, id string) (*Slot, error)

	// List はコートIDと日付でスロット一覧を取得する（どちらも省略可能）
	List(ctx context.Context, courtID string, date *time.Time) ([]*Slot, error)

	// TrySetClaim は claim_state の条件付き更新（compare-and-swap）を行う。
	// 現在の状態が expected と一致する場合のみ next に更新し true を返す。
	// 一致しない場合は副作用なしで false を返す（トランザクション必須）。
	TrySetClaim(ctx context.Context, tx transaction.Tx, slotID string, expected, next ClaimState) (bool, error)
}
