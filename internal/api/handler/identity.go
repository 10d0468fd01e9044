package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// 認証・ロール検証は外部コラボレータ（ゲートウェイ）の責務。
// エンジンはゲートウェイが付与するヘッダから主体を読み取る
const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"

	roleAdmin = "admin"
)

// requireUser はリクエストからユーザーIDを取り出す
func requireUser(c echo.Context) (string, error) {
	userID := c.Request().Header.Get(headerUserID)
	if userID == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "ユーザーIDが必要です")
	}
	return userID, nil
}

// requireAdmin は管理者ロールのユーザーIDを取り出す
func requireAdmin(c echo.Context) (string, error) {
	userID, err := requireUser(c)
	if err != nil {
		return "", err
	}
	if c.Request().Header.Get(headerUserRole) != roleAdmin {
		return "", echo.NewHTTPError(http.StatusForbidden, "管理者権限が必要です")
	}
	return userID, nil
}
