package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gestpay/wallet-service/internal/api"
	"github.com/gestpay/wallet-service/internal/config"
	"github.com/gestpay/wallet-service/internal/handler"
	"github.com/gestpay/wallet-service/internal/infrastructure/faceapi"
	"github.com/gestpay/wallet-service/internal/infrastructure/intent"
	"github.com/gestpay/wallet-service/internal/infrastructure/kafka"
	"github.com/gestpay/wallet-service/internal/infrastructure/messenger"
	"github.com/gestpay/wallet-service/internal/infrastructure/redis"
	"github.com/gestpay/wallet-service/internal/models"
	"github.com/gestpay/wallet-service/internal/observability"
	core "github.com/gestpay/wallet-service/internal/repository/postgres"
	service "github.com/gestpay/wallet-service/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	shutdown, _ := observability.Setup("wallet-service")
	defer shutdown(context.Background())

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	userRepo := core.NewPostgresUserRepository(db)
	transactionRepo := core.NewPostgresTransactionRepository(db)
	tokenRepo := core.NewPostgresTokenRepository(db)
	otpRepo := core.NewPostgresOTPRepository(db)
	sessionRepo := core.NewPostgresSessionRepository(db)
	notificationRepo := core.NewPostgresNotificationRepository(db)
	faceLogRepo := core.NewPostgresFaceLogRepository(db)

	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	faceClient := faceapi.NewHTTPClient(cfg.FaceAPIBaseURL, cfg.FaceAPITimeout)
	intentParser := intent.NewHTTPParser(cfg.IntentAPIURL, cfg.IntentAPIKey, cfg.IntentModel)
	messengers := map[models.Platform]messenger.Messenger{
		models.PlatformWhatsapp: messenger.NewWhatsappClient(cfg.WhatsappPhoneNumberID, cfg.WhatsappAccessToken),
		models.PlatformTelegram: messenger.NewTelegramClient(cfg.TelegramBotToken),
	}

	notifier := service.NewNotificationService(notificationRepo, producer)
	verifier := service.NewVerificationService(userRepo, faceLogRepo, faceClient, cfg.ConfidenceThreshold)
	payments := service.NewPaymentService(userRepo, transactionRepo, tokenRepo, redisClient, verifier, notifier)
	accounts := service.NewAccountService(userRepo, sessionRepo, redisClient, verifier, notifier, cfg.JWTSecret)
	chat := service.NewChatService(sessionRepo, otpRepo, userRepo, payments, notifier, intentParser, messengers, cfg.WebviewBaseURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pushConsumer := kafka.NewConsumer(cfg.KafkaBrokers, "notifications", "wallet-service-push", messengers)
	go pushConsumer.Consume(ctx)
	defer pushConsumer.Close()

	h := handler.NewHandler(accounts, payments, notifier, chat, cfg.WebhookVerifyToken)
	router := api.SetupRouter(h, redisClient, cfg.JWTSecret)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("Shutting down server...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
