package config

import (
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション設定を表す
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Checkout CheckoutConfig
	Audit    AuditConfig
	Booking  BookingConfig
}

// ServerConfig はサーバー設定
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig はデータベース設定
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig はRedis設定
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// CheckoutConfig はホスト型チェックアウトプロバイダの設定
type CheckoutConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Timeout       time.Duration
}

// AuditConfig は監査イベント発行の設定
// URL が空の場合は発行を無効化する（Nopエミッタを使用）
type AuditConfig struct {
	AMQPURL  string
	Exchange string
}

// BookingConfig は予約エンジンの設定
type BookingConfig struct {
	HoldWindow    time.Duration
	SweepInterval time.Duration
}

// Load は環境変数から設定を読み込む
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "futsalslot"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Checkout: CheckoutConfig{
			BaseURL:       getEnv("CHECKOUT_BASE_URL", "https://checkout.example.com"),
			APIKey:        getEnv("CHECKOUT_API_KEY", ""),
			WebhookSecret: getEnv("CHECKOUT_WEBHOOK_SECRET", ""),
			SuccessURL:    getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:5173/bookings"),
			CancelURL:     getEnv("CHECKOUT_CANCEL_URL", "http://localhost:5173/slots"),
			Timeout:       getDurationEnv("CHECKOUT_TIMEOUT", 10*time.Second),
		},
		Audit: AuditConfig{
			AMQPURL:  getEnv("AUDIT_AMQP_URL", ""),
			Exchange: getEnv("AUDIT_EXCHANGE", "booking.audit"),
		},
		Booking: BookingConfig{
			HoldWindow:    getDurationEnv("BOOKING_HOLD_WINDOW", 15*time.Minute),
			SweepInterval: getDurationEnv("BOOKING_SWEEP_INTERVAL", time.Minute),
		},
	}
}

// DSN はPostgreSQL接続文字列を返す
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + c.Port +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DBName +
		" sslmode=" + c.SSLMode
}

// Addr はRedis接続アドレスを返す
func (c *RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// Enabled は監査イベント発行が有効かを返す
func (c *AuditConfig) Enabled() bool {
	return c.AMQPURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
