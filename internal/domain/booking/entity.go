package booking

import "time"

// Status は予約の状態を表す
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusConfirmed      Status = "confirmed"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
)

// Actor はキャンセルを実行した主体を表す
type Actor string

const (
	ActorUser   Actor = "user"
	ActorAdmin  Actor = "admin"
	ActorSystem Actor = "system"
)

// HoldWindow は支払い待ち予約がスロットを占有できる最大時間
const HoldWindow = 15 * time.Minute

// Booking はユーザーによるスロットの予約を表す
type Booking struct {
	ID               string
	SlotID           string
	UserID           string
	Status           Status
	IdempotencyKey   string
	PaymentSessionID *string // 一度設定されたら変更されない
	CancelledAt      *time.Time
	CancelledBy      *Actor
	CancelReason     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewBooking は支払い待ち状態の新しい予約を作成する
func NewBooking(slotID, userID, idempotencyKey string) *Booking {
	now := time.Now()
	return &Booking{
		SlotID:         slotID,
		UserID:         userID,
		Status:         StatusPendingPayment,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsPendingPayment は予約が支払い待ちかを返す
func (b *Booking) IsPendingPayment() bool {
	return b.Status == StatusPendingPayment
}

// IsTerminal は予約が終端状態に達しているかを返す
func (b *Booking) IsTerminal() bool {
	return b.Status == StatusConfirmed || b.Status == StatusCancelled || b.Status == StatusExpired
}

// HoldExpired は支払い待ちのまま保持期限を超過しているかを返す
func (b *Booking) HoldExpired(now time.Time) bool {
	return b.Status == StatusPendingPayment && now.After(b.CreatedAt.Add(HoldWindow))
}

// AttachPaymentSession は支払いセッションIDを紐づける
// 既に別のセッションが紐づいている場合はエラーを返す
func (b *Booking) AttachPaymentSession(sessionID string) error {
	if b.Status != StatusPendingPayment {
		return ErrBookingNotPending
	}
	if b.PaymentSessionID != nil && *b.PaymentSessionID != sessionID {
		return ErrPaymentSessionAttached
	}
	b.PaymentSessionID = &sessionID
	b.UpdatedAt = time.Now()
	return nil
}

// Confirm は支払い完了により予約を確定する
// セッションIDが一致しない場合は遷移しない
func (b *Booking) Confirm(paymentSessionID string) error {
	if b.Status != StatusPendingPayment {
		return ErrBookingNotPending
	}
	if b.PaymentSessionID == nil || *b.PaymentSessionID != paymentSessionID {
		return ErrPaymentSessionMismatch
	}
	b.Status = StatusConfirmed
	b.UpdatedAt = time.Now()
	return nil
}

// Expire は保持期限超過により予約を失効させる
func (b *Booking) Expire() error {
	if b.Status != StatusPendingPayment {
		return ErrBookingNotPending
	}
	b.Status = StatusExpired
	b.UpdatedAt = time.Now()
	return nil
}

// Cancel は確定済み予約をキャンセルする
// 確定済み以外からのキャンセルは不正な遷移として拒否する
func (b *Booking) Cancel(actor Actor, reason string) error {
	if b.Status != StatusConfirmed {
		return ErrBookingNotConfirmed
	}
	now := time.Now()
	b.Status = StatusCancelled
	b.CancelledAt = &now
	b.CancelledBy = &actor
	b.CancelReason = &reason
	b.UpdatedAt = now
	return nil
}

// Validate は予約の検証を行う
func (b *Booking) Validate() error {
	if b.SlotID == "" {
		return ErrSlotIDRequired
	}
	if b.UserID == "" {
		return ErrUserIDRequired
	}
	if b.IdempotencyKey == "" {
		return ErrIdempotencyKeyRequired
	}
	return nil
}
