package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cactus/internal/config"
	"cactus/internal/database"
	"cactus/internal/handlers"
	"cactus/internal/logging"
	"cactus/internal/scheduler"
	"cactus/internal/services"
	"cactus/internal/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := logging.Init(cfg.LogLevel, !cfg.Release)

	db, err := database.InitDB(cfg.Database, logging.Component("database"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	store := database.NewStore(db)

	policy, err := scheduler.ParsePolicy(cfg.Reminder.AdvancePolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid scheduler configuration")
	}

	push := services.NewPushService(cfg.Push, store, logging.Component("push"))
	email := services.NewEmailService(cfg.Email)
	if !email.Enabled() {
		logger.Info().Msg("SendGrid not configured, reminder emails disabled")
	}
	dispatcher := services.NewReminderDispatcher(push, email, store, logging.Component("dispatcher"))
	runner := scheduler.NewRunner(store, dispatcher, logging.Component("scheduler"), scheduler.Options{
		Workers:      cfg.Reminder.Workers,
		GroupTimeout: cfg.Reminder.GroupTimeout,
		Policy:       policy,
	})

	deps := handlers.Deps{
		Store:  store,
		Push:   push,
		Runner: runner,
		Log:    logging.Component("http"),
	}
	media, err := services.NewMediaService(cfg.Media)
	switch {
	case errors.Is(err, services.ErrMediaNotConfigured):
		logger.Info().Msg("Cloudinary not configured, media upload and cleanup disabled")
	case err != nil:
		logger.Fatal().Err(err).Msg("Failed to initialize media storage")
	default:
		deps.Uploader = media
		deps.Cleanup = services.NewMediaCleanup(store, media, cfg.Media.Retention, logging.Component("media"))
	}

	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), utils.RequestLogger(logging.Component("http")))
	if err := router.SetTrustedProxies(cfg.CORS.TrustedProxies); err != nil {
		logger.Fatal().Err(err).Msg("Invalid TRUSTED_PROXIES")
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	if len(cfg.CORS.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CORS.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	handlers.New(deps).Register(router, cfg.Auth.JWTSecret)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var worker *services.ReminderWorker
	if cfg.Reminder.Enabled {
		worker = services.NewReminderWorker(runner, cfg.Reminder.Spec, 0, logging.Component("worker"))
		if err := worker.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start reminder worker")
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if worker != nil {
		worker.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
