package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/coralbank/backend/internal/config"
	"github.com/coralbank/backend/internal/database"
	mW "github.com/coralbank/backend/internal/middleware"
	"github.com/coralbank/backend/internal/services"
)

// @title Coral Bank Ledger API
// @version 1.0
// @description Authenticated ledger API for accounts, transactions and transfers
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Database schema is up to date")
	}

	redisClient := database.InitRedis(cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	creds := services.NewCredentials(cfg.JWT)
	auditService := services.NewAuditService(db)
	ledgerService := services.NewLedgerService()

	authService := services.NewAuthService(db, redisClient, creds, auditService, cfg.JWT.RefreshTokenTTL)
	accountService := services.NewAccountService(db)
	transactionService := services.NewTransactionService(db, ledgerService, auditService)
	statementService := services.NewStatementService(db)
	cardService := services.NewCardService(db)
	qrService := services.NewQRService(db, redisClient)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Device-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/signup", authService.Signup)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/refresh", authService.Refresh)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware(creds, redisClient))

			r.Post("/auth/logout", authService.Logout)
			r.Get("/auth/me", authService.Me)

			r.Post("/account-holders", accountService.CreateAccountHolder)
			r.Get("/account-holders", accountService.ListAccountHolders)
			r.Get("/account-holders/{holderId}", accountService.GetAccountHolder)

			r.Post("/accounts", accountService.CreateAccount)
			r.Get("/accounts", accountService.ListAccounts)
			r.Get("/accounts/{accountId}", accountService.GetAccount)
			r.Post("/accounts/{accountId}/receive-qr", qrService.GenerateReceiveQR)
			r.Get("/receive-qr/{code}", qrService.RedeemReceiveQR)

			r.Post("/transactions", transactionService.CreateTransaction)
			r.Post("/transfers", transactionService.CreateTransfer)

			r.Get("/statements/{accountId}", statementService.GetStatement)

			r.Post("/cards", cardService.IssueCard)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.Port, cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
