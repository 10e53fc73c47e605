package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saeid-a/TherapyCallBack/internal/config"
	"github.com/saeid-a/TherapyCallBack/internal/handlers"
	"github.com/saeid-a/TherapyCallBack/internal/middleware"
	"github.com/saeid-a/TherapyCallBack/internal/repository"
	"github.com/saeid-a/TherapyCallBack/internal/services"
	chatws "github.com/saeid-a/TherapyCallBack/internal/websocket"
)

// Services are the long-lived application services shared with the background
// scheduler, so the HTTP layer is handed them instead of building its own.
type Services struct {
	Wallet      *services.WalletService
	Requests    *services.RequestService
	Sessions    *services.SessionService
	Payments    *services.PaymentService
	Matchmaking *services.MatchmakingService
	Hub         *chatws.Hub
}

func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool, svc Services) error {
	userRepo := repository.NewUserRepository(db)
	profileRepo := repository.NewProfileRepository(db)

	authHandler := handlers.NewAuthHandler(db, userRepo, profileRepo, svc.Wallet, cfg.JWTSecret)
	profileHandler := handlers.NewProfileHandler(profileRepo)
	discoveryHandler := handlers.NewTherapistDiscoveryHandler(profileRepo, svc.Matchmaking)
	walletHandler := handlers.NewWalletHandler(svc.Wallet)
	paymentHandler := handlers.NewPaymentHandler(svc.Payments)
	requestHandler := handlers.NewRequestHandler(svc.Requests)
	sessionHandler := handlers.NewSessionHandler(svc.Sessions)
	realtimeHandler := handlers.NewRealtimeHandler(svc.Hub, svc.Sessions, svc.Requests, cfg.JWTSecret)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	// Mounted ahead of the /v1 group so the query token is accepted.
	api.Use("/v1/ws", realtimeHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(realtimeHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	authProtected.Get("/profile", profileHandler.GetProfile)

	therapists := authProtected.Group("/therapists")
	therapists.Put("/me/availability", profileHandler.SetAvailability)
	therapists.Get("/recommended", discoveryHandler.GetRecommendedTherapists)
	therapists.Get("/:id", discoveryHandler.GetTherapist)

	wallet := authProtected.Group("/wallet")
	wallet.Get("", walletHandler.GetWallet)
	wallet.Get("/check", walletHandler.CheckForRequest)
	wallet.Get("/transactions", walletHandler.ListTransactions)
	wallet.Post("/withdraw", walletHandler.Withdraw)
	wallet.Post("/payouts", walletHandler.CompletePayout)
	wallet.Post("/topup/order", paymentHandler.CreateTopupOrder)
	wallet.Post("/topup/verify", paymentHandler.VerifyTopup)

	requests := authProtected.Group("/requests")
	requests.Post("", requestHandler.CreateRequest)
	requests.Get("/pool", requestHandler.ListPool)
	requests.Post("/withdraw-all", requestHandler.WithdrawAll)
	requests.Get("/:id", requestHandler.GetRequest)
	requests.Post("/:id/accept", requestHandler.AcceptRequest)
	requests.Post("/:id/accept-schedule", requestHandler.AcceptScheduledRequest)
	requests.Post("/:id/start", requestHandler.StartScheduledRequest)
	requests.Post("/:id/withdraw", requestHandler.WithdrawRequest)

	sessions := authProtected.Group("/sessions")
	sessions.Post("", sessionHandler.CreateDirectSession)
	sessions.Get("/:id", sessionHandler.GetSession)
	sessions.Post("/:id/accept", sessionHandler.AcceptSession)
	sessions.Post("/:id/join", sessionHandler.JoinSession)
	sessions.Post("/:id/ping", sessionHandler.Ping)
	sessions.Post("/:id/leave", sessionHandler.LeaveSession)
	sessions.Post("/:id/reject", sessionHandler.RejectSession)
	sessions.Post("/:id/call-minutes", sessionHandler.RecordCallMinutes)

	return registerDocsRoutes(app, cfg)
}
