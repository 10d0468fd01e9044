package payment

import (
	"context"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/transaction"
)

// Repository は支払いセッションリポジトリのインターフェース
type Repository interface {
	// Create は新しいセッションを作成する
	Create(ctx context.Context, s *Session) error

	// GetByID はIDからセッションを取得する
	GetByID(ctx context.Context, id string) (*Session, error)

	// GetByExternalReference は外部参照からセッションを取得する
	GetByExternalReference(ctx context.Context, ref string) (*Session, error)

	// GetOpenByBookingID は予約に紐づくオープンなセッションを取得する
	GetOpenByBookingID(ctx context.Context, bookingID string) (*Session, error)

	// Update はセッションを更新する
	Update(ctx context.Context, s *Session) error

	// UpdateTx はトランザクション内でセッションを更新する
	UpdateTx(ctx context.Context, tx transaction.Tx, s *Session) error
}
