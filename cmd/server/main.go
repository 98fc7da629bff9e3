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

	"github.com/mentorlink/session-server/internal/config"
	"github.com/mentorlink/session-server/internal/handler"
	"github.com/mentorlink/session-server/internal/jobs"
	"github.com/mentorlink/session-server/internal/lifecycle"
	"github.com/mentorlink/session-server/internal/middleware"
	"github.com/mentorlink/session-server/internal/redis"
	"github.com/mentorlink/session-server/internal/service"
	"github.com/mentorlink/session-server/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("APP_ENV") == "production"
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid default timezone")
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open session store")
	}
	defer st.close()

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	clock := lifecycle.SystemClock{}

	sessionService := service.NewSessionService(st.sessions, broker, clock, loc)
	trigger := lifecycle.NewExpiryTrigger(
		sessionService,
		clock,
		lifecycle.WithRetryBackoff(cfg.ExpiryRetryBase(), cfg.ExpiryRetryMax()),
	)
	sessionService.SetExpiryObserver(trigger)

	watcher := lifecycle.NewWatcher(clock, cfg.TickInterval(), trigger)
	watcher.Start()
	defer watcher.Stop()

	sweepJob := jobs.NewExpirySweepJob(st.sessions, trigger, clock, loc, cfg.ExpirySweepInterval())
	sweepJob.Start()
	defer sweepJob.Stop()

	rateLimiter := service.NewRateLimiter(redisClient.Client, clock)
	rateLimitMiddleware := middleware.NewIPRateLimitMiddleware(rateLimiter, cfg.RateLimitPerMin, time.Minute, "api")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	eventsHandler := handler.NewEventsHandler(sessionService, watcher, broker)
	sessionHandler := handler.NewSessionHandler(sessionService, eventsHandler)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := st.ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health check: store unreachable")
			status, code = "degraded", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    status,
			"store":     cfg.StoreDriver,
			"watching":  watcher.Count(),
			"streams":   broker.TotalClients(),
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/sessions", sessionHandler.Routes())
	})

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: config.ServerReadTimeout,
		// event streams stay open, handlers carry their own timeouts
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr()).
			Str("store", cfg.StoreDriver).
			Str("timezone", loc.String()).
			Msg("starting server")
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

	// close streams first so Shutdown does not wait on them
	watcher.Stop()
	broker.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	trigger.Wait()
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
