package booking

import "errors"

// Booking ドメインのエラー定義
var (
	ErrBookingNotFound        = errors.New("予約が見つかりません")
	ErrStaleBooking           = errors.New("予約は既に別の状態に遷移しています")
	ErrIdempotencyKeyConflict = errors.New("同じ冪等性キーの予約が既に存在します")
	ErrBookingNotPending      = errors.New("予約は支払い待ちではありません")
	ErrBookingNotConfirmed    = errors.New("予約は確定されていません")
	ErrPaymentSessionMismatch = errors.New("支払いセッションIDが一致しません")
	ErrPaymentSessionAttached = errors.New("予約には既に別の支払いセッションが紐づいています")
	ErrSlotIDRequired         = errors.New("スロットIDは必須です")
	ErrUserIDRequired         = errors.New("ユーザーIDは必須です")
	ErrIdempotencyKeyRequired = errors.New("冪等性キーは必須です")
	ErrForbidden              = errors.New("この予約を操作する権限がありません")
)
