package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr   string
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	JWTSecret    string

	FaceAPIBaseURL      string
	FaceAPITimeout      time.Duration
	ConfidenceThreshold float64

	WhatsappPhoneNumberID string
	WhatsappAccessToken   string
	TelegramBotToken      string
	WebhookVerifyToken    string

	IntentAPIURL string
	IntentAPIKey string
	IntentModel  string

	WebviewBaseURL string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		ListenAddr:            os.Getenv("LISTEN_ADDR"),
		PostgresDSN:           os.Getenv("POSTGRES_DSN"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		KafkaBrokers:          []string{os.Getenv("KAFKA_BROKER")},
		JWTSecret:             os.Getenv("JWT_SECRET"),
		FaceAPIBaseURL:        os.Getenv("FACE_API_BASE_URL"),
		FaceAPITimeout:        durationEnv("FACE_API_TIMEOUT_SECONDS", 30*time.Second),
		ConfidenceThreshold:   floatEnv("FACE_CONFIDENCE_THRESHOLD", 0.6),
		WhatsappPhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
		WhatsappAccessToken:   os.Getenv("WHATSAPP_ACCESS_TOKEN"),
		TelegramBotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		WebhookVerifyToken:    os.Getenv("WEBHOOK_VERIFY_TOKEN"),
		IntentAPIURL:          os.Getenv("INTENT_API_URL"),
		IntentAPIKey:          os.Getenv("INTENT_API_KEY"),
		IntentModel:           os.Getenv("INTENT_MODEL"),
		WebviewBaseURL:        os.Getenv("WEBVIEW_BASE_URL"),
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=gestpay sslmode=disable"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 1 && cfg.KafkaBrokers[0] == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "supersecret"
	}
	if cfg.FaceAPIBaseURL == "" {
		cfg.FaceAPIBaseURL = "http://localhost:8000"
	}
	if cfg.IntentAPIURL == "" {
		cfg.IntentAPIURL = "https://api.a4f.co/v1/chat/completions"
	}
	if cfg.IntentModel == "" {
		cfg.IntentModel = "gpt-4o-mini"
	}
	if cfg.WebviewBaseURL == "" {
		cfg.WebviewBaseURL = "http://localhost:8080/webview/verify-payment"
	}

	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"face_api", cfg.FaceAPIBaseURL,
		"confidence_threshold", cfg.ConfidenceThreshold)
	return cfg
}

func floatEnv(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid float env value, using default", "key", key, "value", v)
		return def
	}
	return f
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		slog.Warn("invalid duration env value, using default", "key", key, "value", v)
		return def
	}
	return time.Duration(secs) * time.Second
}
