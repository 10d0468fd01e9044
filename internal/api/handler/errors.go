package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/application"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/booking"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/payment"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/slot"
)

// toHTTPError はドメインエラーを対応するHTTPエラーに変換する。
// スロット競合や不正な状態遷移は想定内の結果であり 409 で返す
func toHTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, slot.ErrSlotNotFound),
		errors.Is(err, booking.ErrBookingNotFound),
		errors.Is(err, payment.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, slot.ErrSlotUnavailable),
		errors.Is(err, booking.ErrIdempotencyKeyConflict),
		errors.Is(err, booking.ErrBookingNotPending),
		errors.Is(err, booking.ErrBookingNotConfirmed),
		errors.Is(err, booking.ErrStaleBooking),
		errors.Is(err, payment.ErrOpenSessionExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, booking.ErrForbidden),
		errors.Is(err, application.ErrNotAuthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, payment.ErrInvalidSignature):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, slot.ErrCourtIDRequired),
		errors.Is(err, slot.ErrInvalidTimeRange),
		errors.Is(err, slot.ErrInvalidPrice),
		errors.Is(err, booking.ErrSlotIDRequired),
		errors.Is(err, booking.ErrUserIDRequired),
		errors.Is(err, booking.ErrIdempotencyKeyRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
