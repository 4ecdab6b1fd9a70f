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
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/fantasyfusion/backend/docs"
	"github.com/fantasyfusion/backend/internal/database"
	"github.com/fantasyfusion/backend/internal/handlers"
	"github.com/fantasyfusion/backend/internal/metrics"
	mW "github.com/fantasyfusion/backend/internal/middleware"
	"github.com/fantasyfusion/backend/internal/models"
	"github.com/fantasyfusion/backend/internal/providers"
	"github.com/fantasyfusion/backend/internal/services"
)

// @title Fantasy Fusion Payments API
// @version 1.0
// @description Wallet ledger and payments reconciliation API
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("payments.house_cut_bps", "HOUSE_CUT_BPS")
	viper.BindEnv("payments.default_currency", "DEFAULT_CURRENCY")
	viper.BindEnv("payments.enable_fake_provider", "ENABLE_FAKE_PROVIDER")

	viper.BindEnv("mpesa.base_url", "MPESA_BASE_URL")
	viper.BindEnv("mpesa.shortcode", "MPESA_SHORTCODE")
	viper.BindEnv("mpesa.passkey", "MPESA_PASSKEY")
	viper.BindEnv("mpesa.consumer_key", "MPESA_CONSUMER_KEY")
	viper.BindEnv("mpesa.consumer_secret", "MPESA_CONSUMER_SECRET")
	viper.BindEnv("mpesa.callback_url_stk", "MPESA_CALLBACK_URL_STK")
	viper.BindEnv("mpesa.callback_url_b2c", "MPESA_CALLBACK_URL_B2C")
	viper.BindEnv("mpesa.initiator_name", "MPESA_INITIATOR_NAME")
	viper.BindEnv("mpesa.security_credential", "MPESA_SECURITY_CREDENTIAL")

	viper.BindEnv("stripe.secret_key", "STRIPE_SECRET_KEY")
	viper.BindEnv("stripe.connect", "STRIPE_CONNECT")

	viper.BindEnv("pesapal.base_url", "PESAPAL_BASE_URL")
	viper.BindEnv("pesapal.consumer_key", "PESAPAL_CONSUMER_KEY")
	viper.BindEnv("pesapal.consumer_secret", "PESAPAL_CONSUMER_SECRET")
	viper.BindEnv("pesapal.callback_url", "PESAPAL_CALLBACK_URL")
	viper.BindEnv("pesapal.ipn_id", "PESAPAL_IPN_ID")

	viper.BindEnv("midtrans.server_key", "MIDTRANS_SERVER_KEY")
	viper.BindEnv("midtrans.environment", "MIDTRANS_ENVIRONMENT")

	// Swagger metadata
	docs.SwaggerInfo.Host = viper.GetString("swagger.host")
	if docs.SwaggerInfo.Host == "" {
		docs.SwaggerInfo.Host = "localhost:8080"
	}

	// Initialize storage
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Assemble the provider map: one adapter per configured provider,
	// injected into the orchestrator.
	tokens := providers.NewTokenCache(redisClient)
	providerMap := map[string]providers.PaymentProvider{
		models.ProviderMpesa:    providers.NewMpesaProvider(tokens),
		models.ProviderStripe:   providers.NewStripeProvider(),
		models.ProviderPesapal:  providers.NewPesapalProvider(tokens),
		models.ProviderMidtrans: providers.NewMidtransProvider(),
	}
	if viper.GetBool("payments.enable_fake_provider") {
		providerMap["FAKE"] = providers.NewFakeProvider("FAKE")
		log.Println("FAKE payment provider enabled")
	}

	// Services and handlers
	ledger := services.NewLedgerService(db)
	txlog := services.NewTransactionLog(db)
	paymentsService := services.NewPaymentsService(ledger, txlog, providerMap)
	paymentsHandler := handlers.NewPaymentsHandler(paymentsService, ledger, txlog)
	webhookHandler := handlers.NewWebhookHandler(paymentsService, nil)

	// Per-IP rate limiters, stopped with the server
	webhookLimiter := mW.NewIPRateLimiter(20, 40)
	defer webhookLimiter.Stop()
	moneyLimiter := mW.NewIPRateLimiter(5, 10)
	defer moneyLimiter.Stop()

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Prometheus metrics
	r.Handle("/metrics", metrics.Handler())

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Provider webhooks: public, no auth, rate limited
	r.Route("/webhooks", func(r chi.Router) {
		r.Use(webhookLimiter.Middleware)
		r.Post("/mpesa/stk", webhookHandler.MpesaSTK)
		r.Post("/mpesa/b2c", webhookHandler.MpesaB2C)
		r.Post("/stripe", webhookHandler.Stripe)
		r.Post("/pesapal", webhookHandler.PesapalIPN)
		r.Post("/midtrans", webhookHandler.Midtrans)
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.AuthMiddleware)

		r.Get("/wallet", paymentsHandler.GetWallet)
		r.Get("/wallet/transactions", paymentsHandler.ListTransactions)

		// Money movement is rate limited per client IP
		r.Group(func(r chi.Router) {
			r.Use(moneyLimiter.Middleware)
			r.Post("/wallet/deposit", paymentsHandler.InitDeposit)
			r.Post("/wallet/deposit/confirm", paymentsHandler.ConfirmDeposit)
			r.Post("/wallet/withdraw", paymentsHandler.Withdraw)
			r.Post("/leagues/contribute", paymentsHandler.Contribute)
			r.Post("/leagues/payout", paymentsHandler.Payout)
		})

		// Operator endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.RequireRole("admin", "super_admin"))
			r.Patch("/admin/users/{userID}/balance", paymentsHandler.AdjustBalance)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
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

	// Wait for interrupt signal
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
