package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"webpay-gateway-api/config"
	"webpay-gateway-api/handlers"
	"webpay-gateway-api/middleware"
	"webpay-gateway-api/services/auth"
	"webpay-gateway-api/services/payment"
	"webpay-gateway-api/services/payment/transbank"
	"webpay-gateway-api/services/protection"
	"webpay-gateway-api/utils"
)

const (
	returnPath = "/api/webpay/return"
	failedPath = "/api/webpay/failed"
)

type routerDeps struct {
	webpay  *handlers.WebpayHandler
	health  *handlers.HealthHandler
	jwt     *auth.JWTService
	limiter *middleware.RateLimiter
	protect func(http.Handler) http.Handler
	logger  *zap.Logger
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization, X-Request-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newRouter(d routerDeps) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(corsMiddleware)
	router.Use(middleware.SecurityHeadersMiddleware)
	router.Use(middleware.AccessLog(d.logger))

	limit := func(h http.Handler) http.Handler { return h }
	if d.limiter != nil {
		limit = d.limiter.RateLimitMiddleware()
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", d.health.Health).Methods(http.MethodGet)

	webpay := api.PathPrefix("/webpay").Subrouter()
	webpay.Handle("/transactions", limit(http.HandlerFunc(d.webpay.CreateTransaction))).Methods(http.MethodPost, http.MethodOptions)
	webpay.Handle("/return", limit(d.protect(http.HandlerFunc(d.webpay.Return)))).Methods(http.MethodGet, http.MethodPost)
	handlers.RegisterFailureRedirect(router, failedPath, returnPath, http.StatusSeeOther)

	operator := webpay.PathPrefix("/transactions/{token}").Subrouter()
	operator.Use(middleware.AuthMiddleware(d.jwt, d.logger))
	operator.HandleFunc("", d.webpay.Status).Methods(http.MethodGet)
	operator.HandleFunc("/refunds", d.webpay.Refund).Methods(http.MethodPut)
	operator.HandleFunc("/capture", d.webpay.Capture).Methods(http.MethodPut)

	return router
}

func main() {
	cfg := config.Load()

	logger, err := utils.NewLogger(cfg.LogEnv)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	logger.Info("configuration loaded", zap.Stringer("config", cfg))

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("invalid Redis URL", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	redisErr := redisClient.Ping(pingCtx).Err()
	cancel()

	var (
		store   protection.Store
		limiter *middleware.RateLimiter
		checks  = map[string]handlers.Pinger{}
	)
	switch {
	case redisErr == nil:
		logger.Info("connected to Redis")
		limiter, err = middleware.NewRateLimiter(redisClient, logger).WithTrustedProxies(cfg.Server.TrustedProxies...)
		if err != nil {
			logger.Fatal("invalid TRUSTED_PROXIES", zap.Error(err))
		}
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
		if cfg.Protect.Store == "redis" {
			store = protection.NewRedisStoreWithClient(redisClient)
		}
	case cfg.Protect.Store == "redis":
		logger.Fatal("failed to connect to Redis", zap.Error(redisErr))
	default:
		logger.Warn("Redis unavailable, rate limiting disabled", zap.Error(redisErr))
	}
	if store == nil {
		store = protection.NewMemoryStore()
	}

	events := payment.NewDispatcher(logger)
	protection.Register(events, cfg.Protect.Enabled, store, cfg.Protect.Prefix, logger)

	client := transbank.NewClient(cfg.Settings(), logger)
	webpay := payment.NewWebpay(client, events, logger)
	logger.Info("webpay client ready",
		zap.String("environment", cfg.Transbank.Environment),
		zap.String("endpoint", client.BaseURL()),
		zap.Bool("protect", cfg.Protect.Enabled))

	webpayHandler, err := handlers.NewWebpayHandler(webpay, cfg.Server.AppURL+returnPath, logger)
	if err != nil {
		logger.Fatal("failed to initialize webpay handler", zap.Error(err))
	}

	router := newRouter(routerDeps{
		webpay:  webpayHandler,
		health:  handlers.NewHealthHandler(checks),
		jwt:     auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer),
		limiter: limiter,
		protect: middleware.ProtectTransaction(cfg.Protect.Enabled, cfg.Protect.Prefix, store, logger),
		logger:  logger,
	})

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		return
	}
	logger.Info("server exited properly")
}
