package checkout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/payment"
)

// SignatureHeader はWebhook署名が載るHTTPヘッダ名
const SignatureHeader = "X-Checkout-Signature"

// WebhookEvent はプロバイダから配信される決済結果通知
type WebhookEvent struct {
	ExternalReference string `json:"reference"`
	Outcome           string `json:"outcome"` // "succeeded" | "failed"
	FailureReason     string `json:"failure_reason,omitempty"`
}

// WebhookVerifier は署名付きWebhookペイロードを検証・解析する
type WebhookVerifier struct {
	secret []byte
}

// NewWebhookVerifier は新しいWebhookVerifierを作成する
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: []byte(secret)}
}

// Verify はペイロードのHMAC-SHA256署名を検証する
// 署名不一致は payment.ErrInvalidSignature を返す（リトライ不可）
func (v *WebhookVerifier) Verify(payload []byte, signature string) error {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return payment.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return payment.ErrInvalidSignature
	}
	return nil
}

// Sign はペイロードの署名を生成する（テスト・プロバイダ側のシミュレーション用）
func (v *WebhookVerifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyAndParse は署名検証の後にペイロードを解析する
func (v *WebhookVerifier) VerifyAndParse(payload []byte, signature string) (*WebhookEvent, error) {
	if err := v.Verify(payload, signature); err != nil {
		return nil, err
	}
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("Webhookペイロードの解析に失敗: %w", err)
	}
	if event.ExternalReference == "" {
		return nil, fmt.Errorf("Webhookペイロードに参照がありません")
	}
	return &event, nil
}
