package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/saeid-a/TherapyCallBack/internal/config"
	"github.com/saeid-a/TherapyCallBack/internal/database"
	"github.com/saeid-a/TherapyCallBack/internal/events"
	"github.com/saeid-a/TherapyCallBack/internal/logging"
	"github.com/saeid-a/TherapyCallBack/internal/notify"
	"github.com/saeid-a/TherapyCallBack/internal/repository"
	"github.com/saeid-a/TherapyCallBack/internal/routes"
	"github.com/saeid-a/TherapyCallBack/internal/services"
	chatws "github.com/saeid-a/TherapyCallBack/internal/websocket"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appLogger := logging.New(cfg.AppEnv)

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		log.Fatal("DB_URL is required")
	}
	if err := database.ConnectDB(cfg.DBUrl); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.CloseDB()
	db := database.DB

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Notifications
	bus := events.NewBus(0, appLogger.With("component", "events"))
	hub := chatws.NewHub(appLogger.With("component", "ws"))
	go hub.Run(ctx)

	dispatcherCfg := events.DispatcherConfig{
		Pusher:   hub,
		Contacts: repository.NewUserRepository(db),
		Workers:  cfg.EventWorkers,
	}
	if cfg.SMTPHost != "" {
		dispatcherCfg.Mailer = notify.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	}
	if cfg.SMSGatewayURL != "" {
		dispatcherCfg.SMS = notify.NewSMSGateway(cfg.SMSGatewayURL, cfg.SMSGatewayAPIKey, cfg.SMSSender)
	}
	if cfg.TelegramBotToken != "" {
		ops, err := notify.NewOpsAlerter(cfg.TelegramBotToken, cfg.TelegramOpsChat)
		if err != nil {
			appLogger.Warn("ops alerts disabled", "error", err)
		} else {
			dispatcherCfg.Ops = ops
		}
	}
	go events.NewDispatcher(bus, dispatcherCfg, appLogger.With("component", "dispatcher")).Run(ctx)

	// 4. Services
	wallet := services.NewWalletService(
		db,
		repository.NewWalletRepository(db),
		repository.NewTransactionRepository(db),
		cfg.Billing,
		cfg.FreeTrialMinutes,
		bus,
		appLogger.With("component", "wallet"),
	)
	scheduler := services.NewScheduler(db, bus, appLogger.With("component", "scheduler"))
	matchmaking := services.NewMatchmakingService(repository.NewProfileRepository(db))
	requests := services.NewRequestService(
		db,
		repository.NewSessionRequestRepository(db),
		repository.NewProfileRepository(db),
		wallet,
		matchmaking,
		scheduler,
		bus,
		appLogger.With("component", "requests"),
		services.RequestConfig{
			PoolTTL:        cfg.RequestPoolTTL,
			BroadcastLimit: cfg.MatchBroadcastMax,
		},
	)
	sessions := services.NewSessionService(
		db,
		repository.NewSessionRepository(db),
		requests,
		wallet,
		bus,
		appLogger.With("component", "sessions"),
		cfg.HeartbeatInterval,
	)
	payments := services.NewPaymentService(
		db,
		wallet,
		cfg.RazorpayKeyID,
		cfg.RazorpayKeySecret,
		cfg.TopupVATPercent,
		appLogger.With("component", "payments"),
	)

	services.RegisterJobs(scheduler, requests, wallet)
	if cfg.RunSchedulerEnabled() {
		if err := services.EnsureSettlementScheduled(ctx, scheduler, cfg.SettlementWeekday); err != nil {
			log.Fatalf("Failed to schedule settlement: %v", err)
		}
		go scheduler.Run(ctx)
	}

	// 5. Setup Fiber
	app := fiber.New()

	// Middleware
	app.Use(cors.New())
	app.Use(logger.New())
	app.Use(recover.New())

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	err = routes.RegisterRoutes(app, cfg, db, routes.Services{
		Wallet:      wallet,
		Requests:    requests,
		Sessions:    sessions,
		Payments:    payments,
		Matchmaking: matchmaking,
		Hub:         hub,
	})
	if err != nil {
		log.Fatalf("Failed to register routes: %v", err)
	}

	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			appLogger.Error("shutdown", "error", err)
		}
	}()

	// 6. Start Server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
