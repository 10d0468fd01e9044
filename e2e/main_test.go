package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/api"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/api/handler"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/api/middleware"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/application"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/config"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/infrastructure/checkout"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/infrastructure/postgres"
	redisinfra "github.com/TenZinKS/futsalslot-booking-engine/internal/infrastructure/redis"
)

// webhookSecret はE2Eテストで使う署名鍵
const webhookSecret = "e2e-webhook-secret"

var (
	testServer   *TestServer
	testDB       *sqlx.DB
	testVerifier *checkout.WebhookVerifier
	fakeProvider *httptest.Server
)

// TestServer はE2Eテスト用のサーバー
type TestServer struct {
	Echo *echo.Echo
}

// Request はHTTPリクエストを実行
func (s *TestServer) Request(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody []byte
	if body != nil {
		reqBody, _ = json.Marshal(body)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

// TestMain はE2Eテストのエントリポイント
// パッケージ全体で1回だけサーバーを起動することで高速化
func TestMain(m *testing.M) {
	cfg := config.Load()

	// DB接続
	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		os.Exit(0) // DB未起動時はスキップ
	}
	testDB = db

	if err := postgres.RunMigrations(db.DB, "../migrations"); err != nil {
		db.Close()
		os.Exit(0)
	}

	// Redisはあれば使う。なくてもキャッシュなしで動作する
	var cache *redisinfra.SlotCache
	redisClient := redisinfra.NewClient(&cfg.Redis)
	if err := redisinfra.Ping(context.Background(), redisClient); err == nil {
		cache = redisinfra.NewSlotCache(redisClient)
	} else {
		redisClient = nil
	}

	// 決済プロバイダのフェイク。reference をそのまま外部参照に使う
	fakeProvider = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Reference string `json:"reference"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"id":           "ext-" + req.Reference,
			"checkout_url": "https://checkout.example/s/ext-" + req.Reference,
		})
	}))

	testVerifier = checkout.NewWebhookVerifier(webhookSecret)
	providerClient := checkout.NewClient(&config.CheckoutConfig{
		BaseURL:    fakeProvider.URL,
		APIKey:     "e2e-api-key",
		SuccessURL: "https://app.example/booked",
		CancelURL:  "https://app.example/cancelled",
		Timeout:    5 * time.Second,
	})

	// サービス初期化
	slotRepo := postgres.NewSlotRepository(db)
	bookingRepo := postgres.NewBookingRepository(db)
	paymentRepo := postgres.NewPaymentSessionRepository(db)
	txManager := postgres.NewTxManager(db)

	slotService := application.NewSlotService(slotRepo, cache)
	bookingService := application.NewBookingService(
		txManager, bookingRepo, slotRepo, paymentRepo,
		cache, nil, nil, cfg.Booking.HoldWindow,
	)
	paymentService := application.NewPaymentService(
		bookingService, slotRepo, paymentRepo,
		providerClient, testVerifier, nil, nil,
	)
	cancellationService := application.NewCancellationService(bookingService, slotRepo, nil)

	slotHandler := handler.NewSlotHandler(slotService)
	bookingHandler := handler.NewBookingHandler(bookingService, cancellationService)
	paymentHandler := handler.NewPaymentHandler(paymentService)
	healthHandler := handler.NewHealthHandler()

	// Echo セットアップ
	e := echo.New()
	e.Validator = api.NewValidator()
	middleware.SetupMiddleware(e)

	v1 := e.Group("/api/v1")
	v1.GET("/health", healthHandler.Check)
	v1.GET("/slots", slotHandler.List)
	v1.POST("/slots", slotHandler.Create)
	v1.GET("/slots/:id", slotHandler.GetByID)

	v1.POST("/payments/start", paymentHandler.Start)
	v1.POST("/webhooks/checkout", paymentHandler.Webhook)

	v1.GET("/bookings/me", bookingHandler.GetMine)
	v1.GET("/bookings/:id", bookingHandler.GetByID)
	v1.POST("/bookings/:id/cancel", bookingHandler.Cancel)
	v1.POST("/bookings/:id/admin_cancel", bookingHandler.AdminCancel)

	testServer = &TestServer{Echo: e}

	// テスト実行
	code := m.Run()

	// 最終クリーンアップ
	cleanupTables()
	fakeProvider.Close()
	if redisClient != nil {
		redisClient.Close()
	}
	db.Close()

	os.Exit(code)
}

// cleanupTables はテーブルをクリーンアップ
func cleanupTables() {
	testDB.Exec("TRUNCATE TABLE payment_sessions, bookings, slots RESTART IDENTITY CASCADE")
}

// getTestServer は共有サーバーを取得（テスト前にテーブルをクリーンアップ）
func getTestServer(t *testing.T) *TestServer {
	t.Helper()
	if testServer == nil {
		t.Skip("テスト環境が利用できません")
	}
	cleanupTables()
	return testServer
}
