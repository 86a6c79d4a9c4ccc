package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/amutrack/amutrack/internal/config"
	"github.com/amutrack/amutrack/internal/domain/reference"
	"github.com/amutrack/amutrack/internal/domain/report"
	"github.com/amutrack/amutrack/internal/domain/residue"
	"github.com/amutrack/amutrack/internal/domain/treatment"
	"github.com/amutrack/amutrack/internal/domain/vaccination"
	"github.com/amutrack/amutrack/internal/platform/auth"
	"github.com/amutrack/amutrack/internal/platform/db"
	"github.com/amutrack/amutrack/internal/platform/metrics"
	"github.com/amutrack/amutrack/internal/platform/middleware"
	"github.com/amutrack/amutrack/internal/platform/notification"
	"github.com/amutrack/amutrack/internal/platform/scheduling"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "amu-server",
		Short:        "Livestock AMU residue and vaccination API server",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(referenceCmd())
	root.AddCommand(predictCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, _ := cfg.Location()

	table, err := reference.Load(cfg.ReferenceTablePath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ReferenceTablePath).Msg("failed to load reference table")
	}
	sum := table.Summarise()
	logger.Info().
		Str("version", table.Version).
		Int("species", sum.Species).
		Int("medicines", sum.Medicines).
		Int("limits", sum.Limits).
		Msg("reference table loaded")
	predictor := residue.NewPredictor(table)

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	rdb := openRedis(ctx, cfg.RedisURL, logger)
	var (
		guard      notification.Guard
		sweepGuard = func() {}
		workerOpts []scheduling.Option
	)
	if rdb != nil {
		defer rdb.Close()
		guard = notification.NewRedisGuard(rdb, "amutrack:reminder:")
		workerOpts = append(workerOpts, scheduling.WithLocker(scheduling.NewRedisLocker(rdb, "amutrack:job:")))
	} else {
		mem := notification.NewMemoryGuard()
		guard, sweepGuard = mem, mem.Sweep
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RecoveryWithConfig(logger, middleware.RecoveryConfig{OnPanic: metrics.RecordPanic}))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	limiter := middleware.NewIPRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	})

	// Auth applies to the API group only; verification is public.
	apiV1 := e.Group("/api/v1", limiter.Middleware())
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	public := e.Group("", limiter.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Notifications
	notifySvc := notification.NewService(notification.NewPGStore(pool), notification.NewTemplateEngine(), logger)
	notification.NewHandler(notifySvc).RegisterRoutes(apiV1)

	// Treatments and vaccinations
	treatmentRepo := treatment.NewTreatmentRepo(pool)
	amuRepo := treatment.NewAMURepo(pool)
	vaccSvc := vaccination.NewService(
		vaccination.NewHistoryRepo(pool),
		treatment.VaccinationSource{Repo: treatmentRepo},
		logger,
		vaccination.WithNotifier(notifySvc),
		vaccination.WithGuard(guard),
		vaccination.WithLocation(loc),
		vaccination.WithReminderWindow(cfg.ReminderWindowDays),
		vaccination.WithTx(func(ctx context.Context, fn func(context.Context) error) error {
			return db.InTx(ctx, pool, fn)
		}),
	)
	vaccination.NewHandler(vaccSvc).RegisterRoutes(apiV1)

	treatmentSvc := treatment.NewService(treatmentRepo, amuRepo, predictor, logger,
		treatment.WithVaccinations(vaccSvc),
		treatment.WithNotifier(notifySvc),
		treatment.WithLocation(loc),
		treatment.WithTx(func(ctx context.Context, fn func(context.Context) error) error {
			return db.InTx(ctx, pool, fn)
		}),
	)
	treatmentHandler := treatment.NewHandler(treatmentSvc)
	treatmentHandler.RegisterRoutes(apiV1)
	treatmentHandler.RegisterPublicRoutes(public)

	report.NewHandler(amuRepo, pool).RegisterRoutes(apiV1)

	// Background jobs
	worker := scheduling.NewWorker(logger, workerOpts...)
	jobs := []scheduling.Job{
		{
			Name:     "vaccination-reminders",
			Interval: cfg.ReminderInterval,
			Run: func(ctx context.Context) error {
				n, err := vaccSvc.SendReminders(ctx)
				if n > 0 {
					logger.Info().Int("sent", n).Msg("vaccination reminders sent")
				}
				return err
			},
		},
		{
			Name:     "sweep",
			Interval: 10 * time.Minute,
			Run: func(ctx context.Context) error {
				limiter.Sweep()
				sweepGuard()
				return nil
			},
		},
	}
	for _, j := range jobs {
		if err := worker.Add(j); err != nil {
			logger.Fatal().Err(err).Str("job", j.Name).Msg("failed to register job")
		}
	}
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go worker.Start(workerCtx)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// openRedis returns nil without REDIS_URL or when Redis is unreachable at
// startup; reminders then fall back to a process-local guard and jobs run
// unlocked.
func openRedis(ctx context.Context, redisURL string, logger zerolog.Logger) *redis.Client {
	if redisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable, using in-memory reminder guard")
		_ = rdb.Close()
		return nil
	}
	logger.Info().Msg("connected to redis")
	return rdb
}
