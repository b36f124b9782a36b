package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/kcgate/kcgate/handlers"
	"github.com/kcgate/kcgate/internal/authn"
	"github.com/kcgate/kcgate/internal/config"
	"github.com/kcgate/kcgate/internal/denylist"
	"github.com/kcgate/kcgate/internal/keycloak"
	"github.com/kcgate/kcgate/internal/oidc"
	"github.com/kcgate/kcgate/internal/policy"
	"github.com/kcgate/kcgate/internal/users"
	"github.com/kcgate/kcgate/pkg/logger"
	"github.com/kcgate/kcgate/pkg/metrics"
	"github.com/kcgate/kcgate/pkg/middleware"
)

var startTime = time.Now()

// app carries everything the router needs. Tests build one against a fake IdP.
type app struct {
	cfg           *config.Config
	authenticator middleware.Authenticator
	policies      *policy.Set
	tokens        handlers.TokenIssuer
	users         handlers.UserService
	redis         *redis.Client
	revoked       denylist.Store
	gatherer      prometheus.Gatherer
}

func main() {
	// initialize logging (LOG_LEVEL: debug|info|warn|error|fatal)
	logger.Init(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)
	logger.Infof("config loaded: issuer=%s redis=%v rate_limit=%v log_level=%s", cfg.Keycloak.Issuer, cfg.Redis.Enabled(), cfg.RateLimit.Enabled, logger.LevelString())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		logger.Fatalf("startup failed: %v", err)
	}
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	a.gatherer = prometheus.DefaultGatherer

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      newRouter(a),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("Starting kcgate on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("graceful shutdown failed: %v", err)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// build discovers the IdP and wires the services.
func build(ctx context.Context, cfg *config.Config) (*app, error) {
	hc := &http.Client{Timeout: cfg.Keycloak.Timeout}

	md, err := oidc.DiscoverWithRetry(ctx, cfg.Keycloak.Issuer, hc, 5)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", cfg.Keycloak.Issuer, err)
	}
	logger.Infof("discovered identity provider: jwks=%s token=%s", md.JWKSURI, md.TokenEndpoint)

	keys := oidc.NewKeyCache(md.JWKSURI, oidc.WithHTTPClient(hc), oidc.WithRefreshInterval(cfg.Auth.KeyRefresh))
	authenticator, err := authn.New(keys, authn.Options{
		Issuer:            cfg.Keycloak.Issuer,
		Audience:          cfg.Auth.Audience,
		ClientID:          cfg.Keycloak.ClientID,
		ValidateIssuer:    cfg.Auth.ValidateIssuer,
		ValidateAudience:  cfg.Auth.ValidateAudience,
		ValidateLifetime:  cfg.Auth.ValidateLifetime,
		ValidateSignature: cfg.Auth.ValidateSignature,
	})
	if err != nil {
		return nil, err
	}
	if !cfg.Auth.ValidateSignature {
		logger.Warn("token signature validation is DISABLED")
	}

	policies, err := policy.NewSet(cfg.Authz.Policies)
	if err != nil {
		return nil, err
	}
	logger.Infof("policies: %v", policies.Names())

	admin := keycloak.NewAdminClient(keycloak.AdminConfig{
		BaseURL:      cfg.Keycloak.URL,
		Realm:        cfg.Keycloak.Realm,
		TokenURL:     md.TokenEndpoint,
		ClientID:     cfg.Keycloak.AdminClientID,
		ClientSecret: cfg.Keycloak.AdminClientSecret,
		HTTPClient:   hc,
	})

	a := &app{
		cfg:           cfg,
		authenticator: authenticator,
		policies:      policies,
		tokens:        keycloak.NewTokenClient(md, cfg.Keycloak.ClientID, cfg.Keycloak.ClientSecret, hc),
		users:         users.NewService(admin, cfg.Keycloak.ClientID),
		revoked:       denylist.Nop{},
	}

	if cfg.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v", cfg.Redis.Addr(), err)
		} else {
			logger.Infof("Connected to Redis: %s", cfg.Redis.Addr())
		}
		a.revoked = denylist.NewRedisStore(a.redis, "")
	} else {
		logger.Warn("Redis not configured: logout cannot denylist access tokens")
	}
	return a, nil
}

func newRouter(a *app) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), middleware.RequestID(), cors())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", readiness(a))

	gatherer := a.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	handlers.RegisterSwagger(r)

	var limiter gin.HandlerFunc
	if a.cfg.RateLimit.Enabled {
		if a.cfg.RateLimit.UseRedis {
			limiter = middleware.RedisRateLimitMiddleware(a.redis, a.cfg.RateLimit.RPS, a.cfg.RateLimit.Burst, a.cfg.RateLimit.Window)
		} else {
			limiter = middleware.RateLimitMiddleware(a.cfg.RateLimit.RPS, a.cfg.RateLimit.Burst)
		}
	}
	public := r.Group("/")
	if limiter != nil {
		public.Use(limiter)
	}
	passwordLogin := a.cfg.Server.Environment != "production"
	handlers.NewAuthHandler(a.tokens, a.authenticator, a.revoked, passwordLogin).Register(public)

	// the limiter runs after authentication so it can key on the subject
	api := r.Group("/api/v1", middleware.AuthMiddleware(a.authenticator, a.revoked))
	if limiter != nil {
		api.Use(limiter)
	}
	handlers.NewMeHandler(a.policies).Register(api)
	handlers.NewUsersHandler(a.users).Register(api.Group("", middleware.RequirePolicy(a.policies, policy.AdminOnly)))

	return r
}

func readiness(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps := gin.H{"authenticator": a.authenticator != nil}
		ready := a.authenticator != nil
		if a.cfg.Redis.Enabled() {
			ok := a.redis != nil && a.redis.Ping(c.Request.Context()).Err() == nil
			deps["redis"] = ok
			ready = ready && ok
		}
		status, label := http.StatusOK, "ready"
		if !ready {
			status, label = http.StatusServiceUnavailable, "not_ready"
		}
		c.JSON(status, gin.H{"status": label, "deps": deps, "uptime": time.Since(startTime).String()})
	}
}

// cors answers preflight requests and sets permissive headers for browser callers.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		h.Set("Access-Control-Expose-Headers", "Content-Length, WWW-Authenticate, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
