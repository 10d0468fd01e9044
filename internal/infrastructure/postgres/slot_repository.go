package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/slot"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/transaction"
)

type slotRow struct {
	ID         string    `db:"id"`
	CourtID    string    `db:"court_id"`
	StartTime  time.Time `db:"start_time"`
	EndTime    time.Time `db:"end_time"`
	Price      int       `db:"price"`
	ClaimState string    `db:"claim_state"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r *slotRow) toEntity() *slot.Slot {
	return &slot.Slot{
		ID: r.ID, CourtID: r.CourtID,
		StartTime: r.StartTime, EndTime: r.EndTime,
		Price: r.Price, ClaimState: slot.ClaimState(r.ClaimState),
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

type SlotRepository struct{ db *sqlx.DB }

func NewSlotRepository(db *sqlx.DB) *SlotRepository { return &SlotRepository{db: db} }

func (r *SlotRepository) Create(ctx context.Context, s *slot.Slot) error {
	query := `INSERT INTO slots (court_id, start_time, end_time, price, claim_state, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	if err := r.db.QueryRowContext(ctx, query, s.CourtID, s.StartTime, s.EndTime, s.Price, string(s.ClaimState), s.CreatedAt, s.UpdatedAt).Scan(&s.ID); err != nil {
		return fmt.Errorf("スロット作成に失敗: %w", err)
	}
	return nil
}

func (r *SlotRepository) GetByID(ctx context.Context, id string) (*slot.Slot, error) {
	query := `SELECT id, court_id, start_time, end_time, price, claim_state, created_at, updated_at FROM slots WHERE id = $1`
	var row slotRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, slot.ErrSlotNotFound
		}
		return nil, fmt.Errorf("スロット取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *SlotRepository) List(ctx context.Context, courtID string, date *time.Time) ([]*slot.Slot, error) {
	query := `SELECT id, court_id, start_time, end_time, price, claim_state, created_at, updated_at FROM slots WHERE 1=1`
	args := []interface{}{}
	if courtID != "" {
		args = append(args, courtID)
		query += fmt.Sprintf(" AND court_id = $%d", len(args))
	}
	if date != nil {
		dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
		args = append(args, dayStart, dayStart.Add(24*time.Hour))
		query += fmt.Sprintf(" AND start_time >= $%d AND start_time < $%d", len(args)-1, len(args))
	}
	query += " ORDER BY start_time"

	var rows []slotRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("スロット一覧取得に失敗: %w", err)
	}
	slots := make([]*slot.Slot, len(rows))
	for i, row := range rows {
		slots[i] = row.toEntity()
	}
	return slots, nil
}

// TrySetClaim は claim_state の条件付きUPDATEによる compare-and-swap。
// 行ロックとWHERE句の状態一致により slot_id ごとに線形化される。
func (r *SlotRepository) TrySetClaim(ctx context.Context, tx transaction.Tx, slotID string, expected, next slot.ClaimState) (bool, error) {
	stx := UnwrapTx(tx)
	if stx == nil {
		return false, fmt.Errorf("トランザクションが不正です")
	}
	query := `UPDATE slots SET claim_state = $1, updated_at = NOW() WHERE id = $2 AND claim_state = $3`
	result, err := stx.ExecContext(ctx, query, string(next), slotID, string(expected))
	if err != nil {
		return false, fmt.Errorf("スロット状態更新に失敗: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("スロット状態更新の結果取得に失敗: %w", err)
	}
	return rows == 1, nil
}

var _ slot.Repository = (*SlotRepository)(nil)
