package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "turapp/docs"
	"turapp/internal/config"
	"turapp/internal/handlers"
	"turapp/internal/jobs"
	"turapp/internal/metrics"
	"turapp/internal/middleware"
	"turapp/internal/models"
	"turapp/internal/ratelimit"
	"turapp/internal/repositories"
	"turapp/internal/routes"
	"turapp/internal/services"
	"turapp/internal/utils"
)

// Deps are the stores and transports the HTTP stack is built on. Tests
// pass in-memory versions.
type Deps struct {
	Users    repositories.UserRepository
	Codes    repositories.VerificationCodeRepository
	Limiter  ratelimit.Limiter
	Mailer   services.Mailer // nil: built from cfg.Email
	Registry *prometheus.Registry
}

type App struct {
	cfg    *config.Config
	log    *zap.Logger
	db     *sql.DB
	redis  *redis.Client
	router *gin.Engine
	purge  *jobs.CodePurgeJob
}

func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// New connects to Postgres and, when configured, Redis. Without Redis the
// send throttle is per-process.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	db, err := OpenDB(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, db: db}

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter()
	if cfg.Redis.URL != "" {
		rdb, err := ratelimit.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		a.redis = rdb
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.Redis.Prefix)
		log.Info("[app] send throttle backed by redis")
	} else {
		log.Warn("[app] redis not configured, send throttle is per-process")
	}

	codes := repositories.NewVerificationCodeRepository(db)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.router = NewRouter(cfg, log, Deps{
		Users:    repositories.NewUserRepository(db),
		Codes:    codes,
		Limiter:  limiter,
		Registry: reg,
	})
	a.purge = jobs.NewCodePurgeJob(codes, cfg.Verification.PurgeRetention(), log)
	return a, nil
}

// NewRouter wires services and handlers onto a fresh gin engine.
func NewRouter(cfg *config.Config, log *zap.Logger, deps Deps) *gin.Engine {
	v := cfg.Verification
	defaultLang := models.ParseLanguage(v.DefaultLanguage, models.LanguageEnglish)

	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg)

	tokens := utils.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.AccessTTL(), v.ResetGrantTTL()).WithChallengeTTL(v.ChallengeTTL())

	var emails services.EmailService
	if deps.Mailer != nil {
		emails = services.NewEmailServiceWithMailer(deps.Mailer, cfg.Email, defaultLang, m, log)
	} else {
		emails = services.NewEmailService(cfg.Email, defaultLang, m, log)
	}

	codes := services.NewCodeService(deps.Codes,
		services.WithCodePolicy(models.PurposeTwoFactor, services.CodePolicy{TTL: v.TwoFactorTTL(), MaxAttempts: v.MaxAttempts}),
		services.WithCodePolicy(models.PurposePasswordReset, services.CodePolicy{TTL: v.PasswordResetTTL(), MaxAttempts: v.MaxAttempts}),
		services.WithCodeMetrics(m),
		services.WithCodeLogger(log),
	)
	throttle := services.NewSendThrottle(deps.Limiter, v.SendLimit, v.SendWindow(), log).WithCooldown(v.ResendCooldown())
	starter := services.NewVerificationService(codes, emails, throttle, log)
	twoFactor := services.NewTwoFactorService(deps.Users, starter, codes, tokens, defaultLang, log)
	authService := services.NewAuthService(deps.Users, twoFactor, tokens, 0, log)
	credentials := services.NewCredentialService(deps.Users, authService, tokens, m, log)
	reset := services.NewPasswordResetService(deps.Users, codes, emails, credentials, tokens, throttle, defaultLang, log)
	userService := services.NewUserService(deps.Users, authService, defaultLang, log)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(corsMiddleware())
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return routes.SetupRoutes(
		router,
		tokens,
		cfg.Server.ServiceKey,
		handlers.NewAuthHandler(authService, twoFactor, defaultLang, log),
		handlers.NewPasswordResetHandler(reset, defaultLang, log),
		handlers.NewUserHandler(userService, credentials, log),
		handlers.NewNotificationHandler(emails, defaultLang, v.TwoFactorTTL(), log),
	)
}

// Run serves HTTP and the purge schedule until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := a.purge.Schedule(ctx, c, a.cfg.Verification.PurgeSchedule); err != nil {
		return err
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("[app] server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("[app] server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("[app] close redis", zap.Error(err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("[app] close db", zap.Error(err))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, "+middleware.ServiceKeyHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
