package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/api"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/api/handler"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/api/middleware"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/application"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/config"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/infrastructure/audit"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/infrastructure/checkout"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/infrastructure/postgres"
	redisinfra "github.com/TenZinKS/futsalslot-booking-engine/internal/infrastructure/redis"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/pkg/logger"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/pkg/metrics"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/worker"
)

func main() {
	// .env があれば読み込む（ローカル開発用）
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Set(logger.NewLogger(os.Getenv("APP_ENV")))
	defer logger.Sync()

	m := metrics.Init()

	// PostgreSQL
	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("データベース接続に失敗", zap.Error(err))
	}
	defer db.Close()

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "migrations"
	}
	if err := postgres.RunMigrations(db.DB, migrationsPath); err != nil {
		logger.Fatal("マイグレーションに失敗", zap.Error(err))
	}

	// Redis（接続できない場合はキャッシュ・スイープロックなしで継続）
	var slotCache *redisinfra.SlotCache
	var lockManager *redisinfra.LockManager
	redisClient := redisinfra.NewClient(&cfg.Redis)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisinfra.Ping(pingCtx, redisClient); err != nil {
		logger.Warn("Redis接続に失敗。キャッシュとスイープロックを無効化", zap.Error(err))
	} else {
		slotCache = redisinfra.NewSlotCache(redisClient)
		lockManager = redisinfra.NewLockManager(redisClient)
		defer redisClient.Close()
	}
	pingCancel()

	// 監査イベント
	var emitter audit.Emitter = audit.NewNopEmitter()
	if cfg.Audit.Enabled() {
		amqpEmitter, err := audit.NewAMQPEmitter(cfg.Audit.AMQPURL, cfg.Audit.Exchange)
		if err != nil {
			logger.Fatal("監査エミッタの初期化に失敗", zap.Error(err))
		}
		defer amqpEmitter.Close()
		emitter = amqpEmitter
	}

	// リポジトリ
	slotRepo := postgres.NewSlotRepository(db)
	bookingRepo := postgres.NewBookingRepository(db)
	paymentRepo := postgres.NewPaymentSessionRepository(db)
	txManager := postgres.NewTxManager(db)

	// サービス
	slotService := application.NewSlotService(slotRepo, slotCache)
	bookingService := application.NewBookingService(
		txManager, bookingRepo, slotRepo, paymentRepo,
		slotCache, emitter, m, cfg.Booking.HoldWindow,
	)
	checkoutClient := checkout.NewClient(&cfg.Checkout)
	verifier := checkout.NewWebhookVerifier(cfg.Checkout.WebhookSecret)
	paymentService := application.NewPaymentService(
		bookingService, slotRepo, paymentRepo, checkoutClient, verifier, emitter, m,
	)
	cancellationService := application.NewCancellationService(bookingService, slotRepo, nil)

	// Echo
	e := echo.New()
	e.HideBanner = true
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.CustomHTTPErrorHandler
	middleware.SetupMiddleware(e)
	e.Use(middleware.PrometheusMiddleware(m))

	// ハンドラー
	slotHandler := handler.NewSlotHandler(slotService)
	bookingHandler := handler.NewBookingHandler(bookingService, cancellationService)
	paymentHandler := handler.NewPaymentHandler(paymentService)
	healthHandler := handler.NewHealthHandler()

	v1 := e.Group("/api/v1")
	v1.GET("/health", healthHandler.Check)
	v1.GET("/slots", slotHandler.List)
	v1.POST("/slots", slotHandler.Create)
	v1.GET("/slots/:id", slotHandler.GetByID)
	v1.POST("/payments/start", paymentHandler.Start)
	v1.GET("/bookings/me", bookingHandler.GetMine)
	v1.GET("/bookings/:id", bookingHandler.GetByID)
	v1.POST("/bookings/:id/cancel", bookingHandler.Cancel)
	v1.POST("/bookings/:id/admin_cancel", bookingHandler.AdminCancel)
	v1.POST("/webhooks/checkout", paymentHandler.Webhook)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), middleware.MetricsBasicAuth())

	// 失効スイープ
	sweeper := worker.NewExpiredBookingSweeper(bookingService, lockManager, cfg.Booking.SweepInterval)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	go sweeper.Start(workerCtx)

	// サーバー起動
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("サーバー起動エラー", zap.Error(err))
		}
	}()

	// シグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています...")

	workerCancel()
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("サーバーシャットダウンエラー", zap.Error(err))
	}

	logger.Info("サーバーが正常にシャットダウンしました")
}
