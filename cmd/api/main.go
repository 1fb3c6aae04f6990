// Package main is the entry point for the GaiYa API server.
//
// It loads configuration, opens the Postgres pool, wires the auth, quota,
// billing, and payment services onto the core chassis (middleware, routing,
// health checks), and serves HTTP until a shutdown signal arrives.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gaiya/internal/api/handlers"
	"gaiya/internal/auth"
	"gaiya/internal/billing"
	"gaiya/internal/config"
	"gaiya/internal/core"
	"gaiya/internal/db"
	"gaiya/internal/external"
	"gaiya/internal/payment"
	"gaiya/internal/quota"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("gaiya API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	pool, err := db.NewPool(context.Background(), cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database pool: %w", err)
	}

	// Repositories. All share the pool; transactional flows go through
	// the tx manager instead.
	userRepo := db.NewUserRepository(pool)
	sessionRepo := db.NewSessionRepository(pool)
	otpRepo := db.NewOTPRepository(pool)
	quotaRepo := db.NewQuotaRepository(pool)
	subRepo := db.NewSubscriptionRepository(pool)
	orderRepo := db.NewOrderRepository(pool)
	ledgerRepo := db.NewLedgerRepository(pool)
	rateLimitRepo := db.NewRateLimitRepository(pool)

	txManager := db.NewPgxTxManager(pool)
	authTx := db.NewAuthTxAdapter(txManager)

	// Outbound clients. One http.Client is shared; each provider gets its
	// own circuit breaker through its BaseClient.
	httpClient := &http.Client{Timeout: 30 * time.Second}

	mailer := external.NewResendClient(httpClient, external.ResendClientConfig{
		APIKey:      cfg.Email.ResendAPIKey,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		Logger:      logger,
	})

	zpayBase := external.NewBaseClient(httpClient, "zpay", external.DefaultRetryPolicy(), "GaiYa/1.0")
	zpayClient := external.NewZPayClient(zpayBase, cfg.Billing.ZPayPID, cfg.Billing.ZPayKey, cfg.Billing.ZPayGatewayURL, logger)

	stripeClient := external.NewStripeClient(httpClient, external.StripeClientConfig{
		SecretKey:     cfg.Billing.StripeSecretKey,
		WebhookSecret: cfg.Billing.StripeWebhookSecret,
		Prices: external.StripePrices{
			Monthly:  cfg.Billing.StripePriceMonthly,
			Yearly:   cfg.Billing.StripePriceYearly,
			Lifetime: cfg.Billing.StripePriceLifetime,
		},
		Logger: logger,
	})

	// Domain services.
	tokenGen := auth.NewCryptoTokenGenerator()
	sessionSvc := auth.NewSessionService(sessionRepo, tokenGen, auth.SessionConfig{
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
	}, nil, logger)

	otpSvc := auth.NewOTPService(otpRepo, mailer, tokenGen, auth.OTPConfig{
		Lifetime:     cfg.Auth.OTPLifetime,
		MaxAttempts:  cfg.Auth.OTPMaxAttempts,
		SendCooldown: cfg.Auth.OTPSendCooldown,
		DailySendCap: cfg.Auth.OTPDailySendCap,
	}, nil, logger)

	authSvc := auth.NewAuthService(auth.AuthServiceConfig{
		UserRepo:       userRepo,
		SessionService: sessionSvc,
		OTPService:     otpSvc,
		TxManager:      authTx,
		Hasher:         auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Logger:         logger,
	})

	subSvc := billing.NewSubscriptionService(subRepo, nil, logger)
	quotaSvc := quota.NewService(quotaRepo, subSvc, userRepo, cfg.Quota.DefaultTimezone, nil, logger)

	paymentSvc := payment.NewService(orderRepo, ledgerRepo, subSvc, zpayClient, stripeClient, payment.ServiceConfig{
		PublicURL:  cfg.Server.PublicURL,
		SuccessURL: cfg.Billing.CheckoutSuccessURL,
		CancelURL:  cfg.Billing.CheckoutCancelURL,
	}, nil, logger)

	// Build the server.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = authSvc
	srv.RateLimitStore = db.NewRateLimitStore(rateLimitRepo, nil)
	srv.HealthProbes = []core.HealthProbe{db.NewPoolProbe(pool)}

	authHandler := handlers.NewAuthHandler(authSvc, logger, srv.Validator)
	quotaHandler := handlers.NewQuotaHandler(quotaSvc, logger, srv.Validator)
	subHandler := handlers.NewSubscriptionHandler(subSvc, logger)
	paymentHandler := handlers.NewPaymentHandler(paymentSvc, logger, srv.Validator)

	srv.RouteRegistrars = append(srv.RouteRegistrars,
		authHandler.RegisterRoutes,
		quotaHandler.RegisterRoutes,
		subHandler.RegisterRoutes,
		paymentHandler.RegisterRoutes,
	)

	srv.OnShutdown(func(_ context.Context) error {
		pool.Close()
		return nil
	})

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with a 10-second deadline.
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
