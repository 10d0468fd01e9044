package audit

import (
	"context"
	"time"
)

// Event は予約ライフサイクルの監査イベント
// 保存・照会は外部の監査基盤が担い、エンジンは発行のみ行う
type Event struct {
	Kind        string    `json:"kind"` // booking.created / booking.confirmed / booking.cancelled / booking.expired / payment.failed
	BookingID   string    `json:"booking_id"`
	SlotID      string    `json:"slot_id,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	ActorID     string    `json:"actor_id,omitempty"`
	PriorStatus string    `json:"prior_status,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Emitter は監査イベントを発行するインターフェース
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// NopEmitter は何も発行しないエミッタ
// ブローカーなしで起動するローカル環境・テスト用
type NopEmitter struct{}

func NewNopEmitter() *NopEmitter { return &NopEmitter{} }

func (e *NopEmitter) Emit(ctx context.Context, event Event) error { return nil }
