package application

import (
	"context"
	"errors"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/booking"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/slot"
)

// ErrNotAuthorized は操作主体に権限がないことを表す
var ErrNotAuthorized = errors.New("この操作を行う権限がありません")

// VenueAuthorizer は管理者がスロットの属するコートを管理できるかを判定する。
// ロール・権限の保存は外部コラボレータの責務
type VenueAuthorizer interface {
	CanManageCourt(ctx context.Context, adminID, courtID string) (bool, error)
}

// AllowAllAuthorizer はゲートウェイでロール検証済みの環境向けの許可実装
type AllowAllAuthorizer struct{}

func (a *AllowAllAuthorizer) CanManageCourt(ctx context.Context, adminID, courtID string) (bool, error) {
	return true, nil
}

// CancellationService はユーザー・管理者によるキャンセルを
// 台帳の規則のもとで適用する
type CancellationService struct {
	bookingService *BookingService
	slotRepo       slot.Repository
	authorizer     VenueAuthorizer
}

func NewCancellationService(bs *BookingService, sr slot.Repository, authorizer VenueAuthorizer) *CancellationService {
	if authorizer == nil {
		authorizer = &AllowAllAuthorizer{}
	}
	return &CancellationService{bookingService: bs, slotRepo: sr, authorizer: authorizer}
}

// UserCancel は予約の所有者によるキャンセルを適用する
func (s *CancellationService) UserCancel(ctx context.Context, bookingID, requesterID, reason string) (*booking.Booking, error) {
	b, err := s.bookingService.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != requesterID {
		return nil, booking.ErrForbidden
	}
	return s.bookingService.CancelBooking(ctx, bookingID, booking.ActorUser, requesterID, reason)
}

// AdminCancel は管理者によるキャンセルを適用する。
// 管理者IDは監査イベントに記録される
func (s *CancellationService) AdminCancel(ctx context.Context, bookingID, adminID, reason string) (*booking.Booking, error) {
	b, err := s.bookingService.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	sl, err := s.slotRepo.GetByID(ctx, b.SlotID)
	if err != nil {
		return nil, err
	}
	allowed, err := s.authorizer.CanManageCourt(ctx, adminID, sl.CourtID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrNotAuthorized
	}
	return s.bookingService.CancelBooking(ctx, bookingID, booking.ActorAdmin, adminID, reason)
}
