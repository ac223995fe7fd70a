package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tallyhq/survey-server-go/internal/config"
	"github.com/tallyhq/survey-server-go/internal/database"
	"github.com/tallyhq/survey-server-go/internal/handler"
	"github.com/tallyhq/survey-server-go/internal/jobs"
	"github.com/tallyhq/survey-server-go/internal/middleware"
	"github.com/tallyhq/survey-server-go/internal/notify"
	"github.com/tallyhq/survey-server-go/internal/redis"
	"github.com/tallyhq/survey-server-go/internal/repository"
	"github.com/tallyhq/survey-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	accountRepo := repository.NewAccountRepository(db.DB)
	campaignRepo := repository.NewCampaignRepository(db.DB)
	unitRepo := repository.NewUnitRepository(db.DB)
	sampleRepo := repository.NewSampleRepository(db.DB)
	answerRepo := repository.NewAnswerRepository(db.DB)
	portfolioRepo := repository.NewPortfolioRepository(db.DB)
	optInRepo := repository.NewOptInRepository(db.DB)
	filterRepo := repository.NewFilterRepository(db.DB)
	matrixRepo := repository.NewMatrixRepository(db.DB)

	broker := notify.NewBroker(redisClient)
	defer broker.Close()

	limiter := service.NewRateLimiter(redisClient.Client)

	optInService := service.NewOptInService(
		db, accountRepo, campaignRepo, optInRepo, portfolioRepo, broker, limiter, cfg,
	)
	resolutionService := service.NewResolutionService(sampleRepo, portfolioRepo, campaignRepo)
	sampleService := service.NewSampleService(
		db, sampleRepo, answerRepo, campaignRepo, unitRepo, portfolioRepo, cfg,
	)
	campaignService := service.NewCampaignService(campaignRepo, unitRepo)
	matrixService := service.NewMatrixService(
		filterRepo, matrixRepo, accountRepo, campaignRepo, answerRepo, redisClient, cfg,
	)

	authMiddleware := middleware.NewAuthMiddleware(accountRepo)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client)

	portfolioHandler := handler.NewPortfolioHandler(optInService, resolutionService, accountRepo)
	sampleHandler := handler.NewSampleHandler(sampleService)
	campaignHandler := handler.NewCampaignHandler(campaignService)
	matrixHandler := handler.NewMatrixHandler(matrixService)
	eventsHandler := handler.NewEventsHandler(broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	// Verification keys are bearer capabilities; no token auth here.
	r.Route("/verify", func(r chi.Router) {
		r.Mount("/", portfolioHandler.VerifyRoutes())
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)

		r.Get("/events", eventsHandler.ServeHTTP)
		r.Mount("/portfolios", portfolioHandler.Routes())
		r.Mount("/samples", sampleHandler.Routes())
		r.Mount("/campaigns", campaignHandler.Routes())
		r.Mount("/filters", matrixHandler.FilterRoutes())
		r.Mount("/matrices", matrixHandler.MatrixRoutes())
	})

	expiryJob := jobs.NewExpiryJob(optInService, config.ExpiryJobInterval)
	expiryJob.Start()
	defer expiryJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
