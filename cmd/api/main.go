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

	"github.com/carebridge/accountsec/internal/auth"
	"github.com/carebridge/accountsec/internal/background"
	"github.com/carebridge/accountsec/internal/clock"
	"github.com/carebridge/accountsec/internal/config"
	"github.com/carebridge/accountsec/internal/database"
	"github.com/carebridge/accountsec/internal/events"
	"github.com/carebridge/accountsec/internal/handlers"
	middlewareCustom "github.com/carebridge/accountsec/internal/middleware"
	"github.com/carebridge/accountsec/internal/repositories"
	"github.com/carebridge/accountsec/internal/routes"
	"github.com/carebridge/accountsec/internal/services"
	pkghttp "github.com/carebridge/accountsec/pkg/http"
	pkglogger "github.com/carebridge/accountsec/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		logger.Warn("unknown log level, using info", slog.String("level", cfg.Server.LogLevel))
	}

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("lockout_scope", cfg.Auth.LockoutKeyScope),
		slog.String("lockout_store", cfg.Auth.LockoutStore),
	)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Initialize database
	db, err := database.NewConnection(startupCtx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	clk := clock.Real{}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	twoFactorRepo := repositories.NewTwoFactorRepository(db)
	phoneRepo := repositories.NewPhoneVerificationRepository(db)
	questionRepo := repositories.NewSecurityQuestionRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)

	lockoutStore, closeLockoutStore, err := newLockoutStore(startupCtx, cfg, db, logger)
	if err != nil {
		logger.Error("failed to initialize lockout store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeLockoutStore()

	// Security events: audit log, database, optional Kafka and email alerts
	eventService := services.NewSecurityEventService(eventRepo, clk, logger)
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), "accountsec")
		defer publisher.Close()
		eventService.WithPublisher(publisher)
		logger.Info("publishing security events to kafka", slog.String("topic", cfg.Kafka.Topic))
	}
	if cfg.Email.FromAddress != "" {
		mailer, err := services.NewSESAlertMailer(startupCtx, cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.FromName, logger)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		eventService.WithAlerts(mailer, userRepo)
	}

	// Initialize security services
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, clk)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		MinDuration: cfg.Auth.TimingMinDuration,
		Jitter:      cfg.Auth.TimingJitter,
	})
	totpManager, err := auth.NewTOTPManager(cfg.TwoFactor.EncryptionKey, cfg.TwoFactor.Issuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	lockoutService := services.NewLockoutService(lockoutStore, clk, eventService, logger)
	sessionService := services.NewSessionService(sessionRepo, clk, eventService, logger)
	twoFactorService := services.NewTwoFactorService(twoFactorRepo, totpManager, userRepo, lockoutService, eventService, clk, cfg.TwoFactor.SetupWindow, logger)
	phoneService := services.NewPhoneVerificationService(phoneRepo, userRepo, newSMSSender(cfg, logger), eventService, clk,
		services.PhoneVerificationConfig{CodeTTL: cfg.Phone.CodeTTL, MaxAttempts: cfg.Phone.MaxAttempts}, logger)
	questionService := services.NewSecurityQuestionService(questionRepo, lockoutService, eventService, clk, logger)
	authService := services.NewAuthService(userRepo, lockoutService, twoFactorService, sessionService,
		tokenManager, timingDelay, eventService, cfg.Auth.LockoutKeyScope, logger)

	gate, err := services.NewSessionGate(sessionService, cfg.Session.Policy, clk, logger)
	if err != nil {
		logger.Error("failed to initialize session gate", slog.Any("error", err))
		os.Exit(1)
	}
	authenticator := auth.NewAuthenticator(tokenManager, gate, logger)

	// Bootstrap first user if configured
	if cfg.Auth.BootstrapEmail != "" && cfg.Auth.BootstrapPassword != "" {
		if _, err := authService.EnsureUser(startupCtx, cfg.Auth.BootstrapEmail, cfg.Auth.BootstrapPassword); err != nil {
			logger.Error("failed to ensure bootstrap user", slog.Any("error", err))
		} else {
			logger.Info("bootstrap user ready", slog.String("email", pkglogger.SanitizedEmail(cfg.Auth.BootstrapEmail)))
		}
	}

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	monitors := func(sessionID string) handlers.TimeoutMonitor { return gate.Monitor(sessionID) }
	h := routes.Handlers{
		Auth:              handlers.NewAuthHandler(authService, ipConfig, logger),
		TwoFactor:         handlers.NewTwoFactorHandler(twoFactorService, logger),
		Phone:             handlers.NewPhoneHandler(phoneService, cfg.Server.GenericErrors, logger),
		SecurityQuestions: handlers.NewSecurityQuestionHandler(questionService, logger),
		Sessions:          handlers.NewSessionHandler(sessionService, monitors, gate.Policy(), logger),
		SecurityEvents:    handlers.NewSecurityEventHandler(eventService, logger),
		Health:            handlers.NewHealthHandler(db),
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, h, authenticator, routes.Limits{
		Login:     middlewareCustom.RateLimitConfig{Requests: cfg.Auth.LoginRateLimit, Window: time.Minute},
		PhoneSend: middlewareCustom.RateLimitConfig{Requests: cfg.Phone.SendRateLimit, Window: time.Hour},
		StepUp:    middlewareCustom.RateLimitConfig{Requests: cfg.Auth.StepUpRateLimit, Window: time.Hour},
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(phoneService, lockoutService, sessionService, background.CleanupConfig{
		Interval:           cfg.Auth.CleanupInterval,
		SweepInterval:      cfg.Session.SweepInterval,
		PhoneCodeRetention: cfg.Phone.RetentionInterval,
		AttemptRetention:   cfg.Auth.AttemptRetention,
		IdleTimeout:        cfg.Session.Policy.IdleTimeout,
	}, clk, logger)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}
	if err := eventService.Close(shutdownCtx); err != nil {
		logger.Warn("security events still queued at shutdown", slog.Any("error", err))
	}

	logger.Info("server stopped gracefully")
}

// newLockoutStore returns the configured failure counter backend and a
// function that releases it.
func newLockoutStore(ctx context.Context, cfg *config.Config, db *database.DB, logger *slog.Logger) (services.LoginAttemptStore, func(), error) {
	if cfg.Auth.LockoutStore != config.LockoutStoreRedis {
		return repositories.NewLoginAttemptRepository(db), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("unable to reach redis: %w", err)
	}

	logger.Info("lockout counters stored in redis", slog.String("addr", opts.Addr))
	return repositories.NewRedisLoginAttemptStore(client), func() { _ = client.Close() }, nil
}

func newSMSSender(cfg *config.Config, logger *slog.Logger) services.SMSSender {
	if cfg.Phone.TwilioEnabled() {
		return services.NewTwilioSMSSender(cfg.Phone.TwilioAccountSID, cfg.Phone.TwilioAuthToken, cfg.Phone.TwilioFromNumber)
	}
	if cfg.Server.Env == "production" {
		logger.Warn("twilio is not configured; verification codes will only be logged")
	}
	return services.NewLogSMSSender(logger, cfg.Server.Env)
}
