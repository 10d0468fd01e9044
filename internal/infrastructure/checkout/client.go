package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/config"
)

var (
	ErrProviderUnavailable = errors.New("チェックアウトプロバイダへの接続に失敗しました")
	ErrSessionRejected     = errors.New("チェックアウトセッションの作成が拒否されました")
)

// Client はホスト型チェックアウトプロバイダのAPIクライアント
// セッション作成とリダイレクトURL取得のみを行う。決済結果はWebhookで受け取る
type Client struct {
	baseURL    string
	apiKey     string
	successURL string
	cancelURL  string
	httpClient *http.Client
}

// NewClient は新しいチェックアウトクライアントを作成する
func NewClient(cfg *config.CheckoutConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// CreateSessionInput はセッション作成のリクエスト内容
type CreateSessionInput struct {
	Reference   string // 支払いセッションID。Webhookで external_reference として返る
	Amount      int    // 最小通貨単位
	Currency    string
	Description string
}

// Session は作成されたチェックアウトセッション
type Session struct {
	ExternalReference string
	CheckoutURL       string
}

type createSessionRequest struct {
	Reference   string `json:"reference"`
	Amount      int    `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	SuccessURL  string `json:"success_url"`
	CancelURL   string `json:"cancel_url"`
}

type createSessionResponse struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateSession はプロバイダ上にチェックアウトセッションを作成する
func (c *Client) CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error) {
	body, err := json.Marshal(createSessionRequest{
		Reference:   input.Reference,
		Amount:      input.Amount,
		Currency:    input.Currency,
		Description: input.Description,
		SuccessURL:  c.successURL,
		CancelURL:   c.cancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("リクエストのシリアライズに失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrSessionRejected, resp.StatusCode, data)
	}

	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("レスポンスの解析に失敗: %w", err)
	}
	return &Session{
		ExternalReference: out.ID,
		CheckoutURL:       out.CheckoutURL,
	}, nil
}
