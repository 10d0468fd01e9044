package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/booking"
)

type BookingHandler struct {
	service      BookingServiceInterface
	cancellation CancellationServiceInterface
}

func NewBookingHandler(s BookingServiceInterface, cs CancellationServiceInterface) *BookingHandler {
	return &BookingHandler{service: s, cancellation: cs}
}

type CancelBookingRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type BookingResponse struct {
	ID               string     `json:"id"`
	SlotID           string     `json:"slot_id"`
	UserID           string     `json:"user_id"`
	Status           string     `json:"status"`
	PaymentSessionID *string    `json:"payment_session_id,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy      *string    `json:"cancelled_by,omitempty"`
	CancelReason     *string    `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	resp := BookingResponse{
		ID: b.ID, SlotID: b.SlotID, UserID: b.UserID,
		Status:           string(b.Status),
		PaymentSessionID: b.PaymentSessionID,
		CancelledAt:      b.CancelledAt, CancelReason: b.CancelReason,
		CreatedAt: b.CreatedAt,
	}
	if b.CancelledBy != nil {
		v := string(*b.CancelledBy)
		resp.CancelledBy = &v
	}
	return resp
}

// GetMine godoc
// @Summary 自分の予約一覧を取得
// @Description ログインユーザーの予約一覧を返します
// @Tags bookings
// @Produce json
// @Param X-User-ID header string true "ユーザーID"
// @Param limit query int false "取得件数" default(20)
// @Param offset query int false "オフセット" default(0)
// @Success 200 {array} BookingResponse
// @Failure 401 {object} map[string]string
// @Router /bookings/me [get]
func (h *BookingHandler) GetMine(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	bookings, err := h.service.GetUserBookings(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return toHTTPError(err)
	}
	resp := make([]BookingResponse, len(bookings))
	for i, b := range bookings {
		resp[i] = toBookingResponse(b)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetByID godoc
// @Summary 予約を取得
// @Description 指定IDの予約を取得します（所有者または管理者のみ）
// @Tags bookings
// @Produce json
// @Param X-User-ID header string true "ユーザーID"
// @Param id path string true "予約ID"
// @Success 200 {object} BookingResponse
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /bookings/{id} [get]
func (h *BookingHandler) GetByID(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	b, err := h.service.GetBooking(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	if b.UserID != userID && c.Request().Header.Get(headerUserRole) != roleAdmin {
		return echo.NewHTTPError(http.StatusForbidden, "この予約を閲覧する権限がありません")
	}
	return c.JSON(http.StatusOK, toBookingResponse(b))
}

// Cancel godoc
// @Summary 予約をキャンセル
// @Description 確定済みの自分の予約をキャンセルしスロットを解放します
// @Tags bookings
// @Accept json
// @Produce json
// @Param X-User-ID header string true "ユーザーID"
// @Param id path string true "予約ID"
// @Param request body CancelBookingRequest true "キャンセル理由"
// @Success 200 {object} BookingResponse
// @Failure 403 {object} map[string]string
// @Failure 409 {object} map[string]string "確定済みではない"
// @Router /bookings/{id}/cancel [post]
func (h *BookingHandler) Cancel(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	var req CancelBookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	b, err := h.cancellation.UserCancel(c.Request().Context(), c.Param("id"), userID, req.Reason)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, toBookingResponse(b))
}

// AdminCancel godoc
// @Summary 予約を管理者権限でキャンセル
// @Description 管理者が確定済み予約をキャンセルしスロットを解放します
// @Tags bookings
// @Accept json
// @Produce json
// @Param X-User-ID header string true "管理者ID"
// @Param X-User-Role header string true "ロール（admin）"
// @Param id path string true "予約ID"
// @Param request body CancelBookingRequest true "キャンセル理由"
// @Success 200 {object} BookingResponse
// @Failure 403 {object} map[string]string
// @Failure 409 {object} map[string]string "確定済みではない"
// @Router /bookings/{id}/admin_cancel [post]
func (h *BookingHandler) AdminCancel(c echo.Context) error {
	adminID, err := requireAdmin(c)
	if err != nil {
		return err
	}
	var req CancelBookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	b, err := h.cancellation.AdminCancel(c.Request().Context(), c.Param("id"), adminID, req.Reason)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, toBookingResponse(b))
}
