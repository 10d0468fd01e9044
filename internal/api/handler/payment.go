package handler

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/application"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/infrastructure/checkout"
)

// Webhookペイロードの上限。プロバイダの通知は小さなJSONのみ
const maxWebhookBodySize = 64 * 1024

type PaymentHandler struct {
	service PaymentServiceInterface
}

func NewPaymentHandler(s PaymentServiceInterface) *PaymentHandler {
	return &PaymentHandler{service: s}
}

type StartCheckoutRequest struct {
	SlotID         string `json:"slot_id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
}

type StartCheckoutResponse struct {
	BookingID   string `json:"booking_id"`
	CheckoutURL string `json:"checkout_url"`
}

// Start godoc
// @Summary チェックアウトを開始
// @Description スロットを確保し、決済ページへのリダイレクトURLを返します
// @Tags payments
// @Accept json
// @Produce json
// @Param X-User-ID header string true "ユーザーID"
// @Param request body StartCheckoutRequest true "対象スロット"
// @Success 201 {object} StartCheckoutResponse
// @Failure 401 {object} map[string]string
// @Failure 409 {object} map[string]string "スロットが確保できない"
// @Router /payments/start [post]
func (h *PaymentHandler) Start(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	var req StartCheckoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	out, err := h.service.StartCheckout(c.Request().Context(), application.StartCheckoutInput{
		SlotID:         req.SlotID,
		UserID:         userID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, StartCheckoutResponse{
		BookingID:   out.Booking.ID,
		CheckoutURL: out.CheckoutURL,
	})
}

// Webhook godoc
// @Summary 決済結果の通知を受け取る
// @Description プロバイダからの署名付き決済結果を処理します。再配信は冪等
// @Tags payments
// @Accept json
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string "署名が不正"
// @Router /webhooks/checkout [post]
func (h *PaymentHandler) Webhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBodySize))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "ペイロードの読み取りに失敗しました")
	}
	signature := c.Request().Header.Get(checkout.SignatureHeader)

	if err := h.service.HandleCallback(c.Request().Context(), payload, signature); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}
