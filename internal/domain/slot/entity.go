package slot

import "time"

// ClaimState はスロットの占有状態を表す
type ClaimState string

const (
	ClaimStateFree    ClaimState = "free"
	ClaimStateClaimed ClaimState = "claimed"
	ClaimStateBooked  ClaimState = "booked"
)

// Slot はコートの予約可能な時間枠を表す
type Slot struct {
	ID         string
	CourtID    string
	StartTime  time.Time
	EndTime    time.Time
	Price      int // 最小通貨単位
	ClaimState ClaimState
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewSlot は新しいスロットを作成する
func NewSlot(courtID string, startTime, endTime time.Time, price int) *Slot {
	now := time.Now()
	return &Slot{
		CourtID:    courtID,
		StartTime:  startTime,
		EndTime:    endTime,
		Price:      price,
		ClaimState: ClaimStateFree,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsAvailable はスロットが予約可能かを返す
func (s *Slot) IsAvailable() bool {
	return s.ClaimState == ClaimStateFree
}

// Validate はスロットの検証を行う
func (s *Slot) Validate() error {
	if s.CourtID == "" {
		return ErrCourtIDRequired
	}
	if !s.StartTime.Before(s.EndTime) {
		return ErrInvalidTimeRange
	}
	if s.Price < 0 {
		return ErrInvalidPrice
	}
	return nil
}
