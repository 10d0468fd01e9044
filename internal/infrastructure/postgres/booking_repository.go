package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/booking"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/slot"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/transaction"
)

// bookings テーブルの一意制約名
const (
	activeSlotConstraint     = "idx_bookings_active_slot"
	idempotencyKeyConstraint = "bookings_idempotency_key_key"
)

// translateUniqueViolation は一意制約違反を対応するドメインエラーへ変換する。
// 部分一意インデックス idx_bookings_active_slot への違反はスロット争奪の敗北を
// 意味し、占有CASに到達する前のINSERTで現れる
func translateUniqueViolation(pgErr *pq.Error) error {
	switch pgErr.Constraint {
	case activeSlotConstraint:
		return slot.ErrSlotUnavailable
	case idempotencyKeyConstraint:
		return booking.ErrIdempotencyKeyConflict
	default:
		return fmt.Errorf("一意制約違反: %w", pgErr)
	}
}

type bookingRow struct {
	ID               string     `db:"id"`
	SlotID           string     `db:"slot_id"`
	UserID           string     `db:"user_id"`
	Status           string     `db:"status"`
	IdempotencyKey   string     `db:"idempotency_key"`
	PaymentSessionID *string    `db:"payment_session_id"`
	CancelledAt      *time.Time `db:"cancelled_at"`
	CancelledBy      *string    `db:"cancelled_by"`
	CancelReason     *string    `db:"cancel_reason"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

func (r *bookingRow) toEntity() *booking.Booking {
	b := &booking.Booking{
		ID: r.ID, SlotID: r.SlotID, UserID: r.UserID,
		Status:         booking.Status(r.Status),
		IdempotencyKey: r.IdempotencyKey, PaymentSessionID: r.PaymentSessionID,
		CancelledAt: r.CancelledAt, CancelReason: r.CancelReason,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.CancelledBy != nil {
		actor := booking.Actor(*r.CancelledBy)
		b.CancelledBy = &actor
	}
	return b
}

const bookingColumns = `id, slot_id, user_id, status, idempotency_key, payment_session_id, cancelled_at, cancelled_by, cancel_reason, created_at, updated_at`

type BookingRepository struct{ db *sqlx.DB }

func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) Create(ctx context.Context, tx transaction.Tx, b *booking.Booking) error {
	stx := UnwrapTx(tx)
	if stx == nil {
		return fmt.Errorf("トランザクションが不正です")
	}
	query := `INSERT INTO bookings (slot_id, user_id, status, idempotency_key, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	if err := stx.QueryRowContext(ctx, query, b.SlotID, b.UserID, string(b.Status), b.IdempotencyKey, b.CreatedAt, b.UpdatedAt).Scan(&b.ID); err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			return translateUniqueViolation(pgErr)
		}
		return fmt.Errorf("予約作成に失敗: %w", err)
	}
	return nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id string) (*booking.Booking, error) {
	var row bookingRow
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, booking.ErrBookingNotFound
		}
		return nil, fmt.Errorf("予約取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *BookingRepository) GetByIdempotencyKey(ctx context.Context, key string) (*booking.Booking, error) {
	var row bookingRow
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE idempotency_key = $1`
	if err := r.db.GetContext(ctx, &row, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, booking.ErrBookingNotFound
		}
		return nil, fmt.Errorf("予約取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *BookingRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*booking.Booking, error) {
	var rows []bookingRow
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &rows, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("予約一覧取得に失敗: %w", err)
	}
	result := make([]*booking.Booking, len(rows))
	for i, row := range rows {
		result[i] = row.toEntity()
	}
	return result, nil
}

// Update は遷移元の状態を WHERE 句で確認する条件付き更新。
// 別の遷移が先行していた場合は行が一致せず ErrStaleBooking を返す。
func (r *BookingRepository) Update(ctx context.Context, tx transaction.Tx, b *booking.Booking, fromStatus booking.Status) error {
	stx := UnwrapTx(tx)
	if stx == nil {
		return fmt.Errorf("トランザクションが不正です")
	}
	var cancelledBy *string
	if b.CancelledBy != nil {
		v := string(*b.CancelledBy)
		cancelledBy = &v
	}
	query := `UPDATE bookings SET status = $1, payment_session_id = $2, cancelled_at = $3, cancelled_by = $4, cancel_reason = $5, updated_at = $6 WHERE id = $7 AND status = $8`
	result, err := stx.ExecContext(ctx, query, string(b.Status), b.PaymentSessionID, b.CancelledAt, cancelledBy, b.CancelReason, b.UpdatedAt, b.ID, string(fromStatus))
	if err != nil {
		return fmt.Errorf("予約更新に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return booking.ErrStaleBooking
	}
	return nil
}

func (r *BookingRepository) GetExpiredPending(ctx context.Context, olderThan time.Time) ([]*booking.Booking, error) {
	var rows []bookingRow
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE status = 'pending_payment' AND created_at < $1`
	if err := r.db.SelectContext(ctx, &rows, query, olderThan); err != nil {
		return nil, fmt.Errorf("期限切れ予約取得に失敗: %w", err)
	}
	result := make([]*booking.Booking, len(rows))
	for i, row := range rows {
		result[i] = row.toEntity()
	}
	return result, nil
}

var _ booking.Repository = (*BookingRepository)(nil)
