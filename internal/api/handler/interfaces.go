package handler

import (
	"context"
	"time"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/application"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/booking"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/slot"
)

// SlotServiceInterface はスロットサービスのインターフェース
type SlotServiceInterface interface {
	CreateSlot(ctx context.Context, input application.CreateSlotInput) (*slot.Slot, error)
	ListSlots(ctx context.Context, courtID string, date *time.Time) ([]*slot.Slot, error)
	GetSlot(ctx context.Context, id string) (*slot.Slot, error)
}

// BookingServiceInterface は予約サービスのインターフェース
type BookingServiceInterface interface {
	GetBooking(ctx context.Context, id string) (*booking.Booking, error)
	GetUserBookings(ctx context.Context, userID string, limit, offset int) ([]*booking.Booking, error)
}

// PaymentServiceInterface は支払いサービスのインターフェース
type PaymentServiceInterface interface {
	StartCheckout(ctx context.Context, input application.StartCheckoutInput) (*application.StartCheckoutOutput, error)
	HandleCallback(ctx context.Context, payload []byte, signature string) error
}

// CancellationServiceInterface はキャンセルサービスのインターフェース
type CancellationServiceInterface interface {
	UserCancel(ctx context.Context, bookingID, requesterID, reason string) (*booking.Booking, error)
	AdminCancel(ctx context.Context, bookingID, adminID, reason string) (*booking.Booking, error)
}
