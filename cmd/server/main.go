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

	"github.com/theycallmesabb/bank-api/internal/config"
	"github.com/theycallmesabb/bank-api/internal/database"
	"github.com/theycallmesabb/bank-api/internal/ledger"
	mW "github.com/theycallmesabb/bank-api/internal/middleware"
	"github.com/theycallmesabb/bank-api/internal/services"
	"github.com/theycallmesabb/bank-api/internal/storage"
)

// @title Bank API
// @version 1.0
// @description Minimal ledger API: per-user balances and the transactions that mutate them
// @host localhost:8080
// @schemes http https

func main() {
	config.Load()

	db := database.InitDatabase()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := storage.EnsureSchema(ctx, db); err != nil {
		cancel()
		log.Fatalf("Failed to provision schema: %v", err)
	}
	cancel()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	accountStore := storage.NewPostgresAccountStore(db)
	transactionLog := storage.NewPostgresTransactionLog(db)
	ledgerCore := ledger.New(accountStore, transactionLog)

	authService := services.NewAuthService(db, accountStore, redisClient)
	currencyService := services.NewCurrencyService(redisClient)
	bankingService := services.NewBankingService(ledgerCore, currencyService)

	mW.InitAuthMiddleware(redisClient)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Public endpoints (no auth required)
	r.Post("/register", authService.Register)
	r.Post("/login", authService.Login)

	// Protected endpoints (auth required)
	r.Group(func(r chi.Router) {
		r.Use(mW.AuthMiddleware)

		r.Post("/logout", authService.Logout)
		r.Post("/fund", bankingService.Fund)
		r.Post("/pay", bankingService.Pay)
		r.Get("/bal", bankingService.Balance)
		r.Get("/stmt", bankingService.Statement)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
