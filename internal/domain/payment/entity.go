package payment

import "time"

// Status は支払いセッションの状態を表す
type Status string

const (
	StatusOpen      Status = "open"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Outcome は決済プロバイダから通知される決済結果を表す
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Session は外部チェックアウト1回分と予約1件を対応づける
type Session struct {
	ID                string
	BookingID         string
	ExternalReference string
	Status            Status
	CheckoutURL       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewSession は新しいオープン状態のセッションを作成する
func NewSession(bookingID string) *Session {
	now := time.Now()
	return &Session{
		BookingID: bookingID,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsOpen はセッションが未決済かを返す
func (s *Session) IsOpen() bool {
	return s.Status == StatusOpen
}

// Complete はセッションを決済完了にする
// 既に完了している場合は冪等に成功する
func (s *Session) Complete() error {
	if s.Status == StatusCompleted {
		return nil
	}
	if s.Status != StatusOpen {
		return ErrSessionNotOpen
	}
	s.Status = StatusCompleted
	s.UpdatedAt = time.Now()
	return nil
}

// Fail はセッションを決済失敗にする
// 既に失敗している場合は冪等に成功する
func (s *Session) Fail() error {
	if s.Status == StatusFailed {
		return nil
	}
	if s.Status != StatusOpen {
		return ErrSessionNotOpen
	}
	s.Status = StatusFailed
	s.UpdatedAt = time.Now()
	return nil
}

// Expire はセッションを期限切れにする
func (s *Session) Expire() error {
	if s.Status != StatusOpen {
		return ErrSessionNotOpen
	}
	s.Status = StatusExpired
	s.UpdatedAt = time.Now()
	return nil
}
