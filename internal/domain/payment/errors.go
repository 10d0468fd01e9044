package payment

import "errors"

// Payment ドメインのエラー定義
var (
	ErrSessionNotFound   = errors.New("支払いセッションが見つかりません")
	ErrSessionNotOpen    = errors.New("支払いセッションはオープンではありません")
	ErrOpenSessionExists = errors.New("予約には既にオープンな支払いセッションがあります")
	ErrInvalidSignature  = errors.New("Webhookの署名が不正です")
)
