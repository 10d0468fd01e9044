package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/payment"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/transaction"
)

// 予約1件につきオープンなセッションを高々1件に制限する部分一意インデックス
const openSessionConstraint = "idx_payment_sessions_open_booking"

type paymentSessionRow struct {
	ID                string    `db:"id"`
	BookingID         string    `db:"booking_id"`
	ExternalReference string    `db:"external_reference"`
	Status            string    `db:"status"`
	CheckoutURL       string    `db:"checkout_url"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r *paymentSessionRow) toEntity() *payment.Session {
	return &payment.Session{
		ID: r.ID, BookingID: r.BookingID,
		ExternalReference: r.ExternalReference,
		Status:            payment.Status(r.Status),
		CheckoutURL:       r.CheckoutURL,
		CreatedAt:         r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

const paymentSessionColumns = `id, booking_id, external_reference, status, checkout_url, created_at, updated_at`

type PaymentSessionRepository struct{ db *sqlx.DB }

func NewPaymentSessionRepository(db *sqlx.DB) *PaymentSessionRepository {
	return &PaymentSessionRepository{db: db}
}

func (r *PaymentSessionRepository) Create(ctx context.Context, s *payment.Session) error {
	query := `INSERT INTO payment_sessions (booking_id, external_reference, status, checkout_url, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	if err := r.db.QueryRowContext(ctx, query, s.BookingID, s.ExternalReference, string(s.Status), s.CheckoutURL, s.CreatedAt, s.UpdatedAt).Scan(&s.ID); err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" && pgErr.Constraint == openSessionConstraint {
			// 同じ予約への同時チェックアウト開始に敗れた
			return payment.ErrOpenSessionExists
		}
		return fmt.Errorf("支払いセッション作成に失敗: %w", err)
	}
	return nil
}

func (r *PaymentSessionRepository) GetByID(ctx context.Context, id string) (*payment.Session, error) {
	var row paymentSessionRow
	query := `SELECT ` + paymentSessionColumns + ` FROM payment_sessions WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrSessionNotFound
		}
		return nil, fmt.Errorf("支払いセッション取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *PaymentSessionRepository) GetByExternalReference(ctx context.Context, ref string) (*payment.Session, error) {
	var row paymentSessionRow
	query := `SELECT ` + paymentSessionColumns + ` FROM payment_sessions WHERE external_reference = $1`
	if err := r.db.GetContext(ctx, &row, query, ref); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrSessionNotFound
		}
		return nil, fmt.Errorf("支払いセッション取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *PaymentSessionRepository) GetOpenByBookingID(ctx context.Context, bookingID string) (*payment.Session, error) {
	var row paymentSessionRow
	query := `SELECT ` + paymentSessionColumns + ` FROM payment_sessions WHERE booking_id = $1 AND status = 'open'`
	if err := r.db.GetContext(ctx, &row, query, bookingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrSessionNotFound
		}
		return nil, fmt.Errorf("支払いセッション取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *PaymentSessionRepository) Update(ctx context.Context, s *payment.Session) error {
	query := `UPDATE payment_sessions SET external_reference = $1, status = $2, checkout_url = $3, updated_at = $4 WHERE id = $5`
	result, err := r.db.ExecContext(ctx, query, s.ExternalReference, string(s.Status), s.CheckoutURL, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("支払いセッション更新に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return payment.ErrSessionNotFound
	}
	return nil
}

func (r *PaymentSessionRepository) UpdateTx(ctx context.Context, tx transaction.Tx, s *payment.Session) error {
	stx := UnwrapTx(tx)
	if stx == nil {
		return fmt.Errorf("トランザクションが不正です")
	}
	query := `UPDATE payment_sessions SET external_reference = $1, status = $2, checkout_url = $3, updated_at = $4 WHERE id = $5`
	result, err := stx.ExecContext(ctx, query, s.ExternalReference, string(s.Status), s.CheckoutURL, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("支払いセッション更新に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return payment.ErrSessionNotFound
	}
	return nil
}

var _ payment.Repository = (*PaymentSessionRepository)(nil)
