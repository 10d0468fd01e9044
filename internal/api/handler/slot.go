package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/application"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/slot"
)

type SlotHandler struct {
	service SlotServiceInterface
}

func NewSlotHandler(s SlotServiceInterface) *SlotHandler {
	return &SlotHandler{service: s}
}

type CreateSlotRequest struct {
	CourtID   string    `json:"court_id" validate:"required"`
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required"`
	Price     int       `json:"price" validate:"min=0"`
}

type SlotResponse struct {
	ID        string    `json:"id"`
	CourtID   string    `json:"court_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Price     int       `json:"price"`
	Available bool      `json:"available"`
}

func toSlotResponse(s *slot.Slot) SlotResponse {
	return SlotResponse{
		ID: s.ID, CourtID: s.CourtID,
		StartTime: s.StartTime, EndTime: s.EndTime,
		Price: s.Price, Available: s.IsAvailable(),
	}
}

// List godoc
// @Summary スロット一覧を取得
// @Description コートと日付で絞り込んだスロット一覧を返します
// @Tags slots
// @Produce json
// @Param court_id query string false "コートID"
// @Param date query string false "日付（YYYY-MM-DD）"
// @Success 200 {array} SlotResponse
// @Router /slots [get]
func (h *SlotHandler) List(c echo.Context) error {
	courtID := c.QueryParam("court_id")
	var date *time.Time
	if d := c.QueryParam("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "日付の形式が不正です（YYYY-MM-DD）")
		}
		date = &parsed
	}
	slots, err := h.service.ListSlots(c.Request().Context(), courtID, date)
	if err != nil {
		return toHTTPError(err)
	}
	resp := make([]SlotResponse, len(slots))
	for i, s := range slots {
		resp[i] = toSlotResponse(s)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetByID godoc
// @Summary スロットを取得
// @Description 指定IDのスロットを取得します
// @Tags slots
// @Produce json
// @Param id path string true "スロットID"
// @Success 200 {object} SlotResponse
// @Failure 404 {object} map[string]string
// @Router /slots/{id} [get]
func (h *SlotHandler) GetByID(c echo.Context) error {
	s, err := h.service.GetSlot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, toSlotResponse(s))
}

// Create godoc
// @Summary スロットを作成
// @Description 施設管理者が新しいスロットを作成します
// @Tags slots
// @Accept json
// @Produce json
// @Param X-User-ID header string true "ユーザーID"
// @Param X-User-Role header string true "ロール（admin）"
// @Param request body CreateSlotRequest true "スロット情報"
// @Success 201 {object} SlotResponse
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /slots [post]
func (h *SlotHandler) Create(c echo.Context) error {
	if _, err := requireAdmin(c); err != nil {
		return err
	}
	var req CreateSlotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	s, err := h.service.CreateSlot(c.Request().Context(), application.CreateSlotInput{
		CourtID: req.CourtID, StartTime: req.StartTime, EndTime: req.EndTime, Price: req.Price,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, toSlotResponse(s))
}
