package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/telepharm/consult/internal/config"
	"github.com/telepharm/consult/internal/domain/availability"
	"github.com/telepharm/consult/internal/domain/chat"
	"github.com/telepharm/consult/internal/domain/queue"
	"github.com/telepharm/consult/internal/domain/recommendation"
	"github.com/telepharm/consult/internal/domain/session"
	"github.com/telepharm/consult/internal/platform/db"
	"github.com/telepharm/consult/internal/platform/feed"
	"github.com/telepharm/consult/internal/platform/middleware"
	"github.com/telepharm/consult/internal/platform/telemetry"
	"github.com/telepharm/consult/internal/platform/websocket"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "consult-server",
		Short: "Pharmacist teleconsultation API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the consultation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Metrics
	metrics := telemetry.NewMetrics()

	// Change feed: writes go out through Postgres NOTIFY so every process
	// sees them; the listener bridges notifications into the in-process bus
	// that pipelines and watchers subscribe to.
	bus := feed.NewBus()
	bus.OnDrop(metrics.FeedEventsDropped)
	notifier := feed.NewNotifier(pool, cfg.FeedChannel)
	listener := feed.NewListener(pool, cfg.FeedChannel, bus, logger)

	listenCtx, stopListener := context.WithCancel(ctx)
	defer stopListener()
	go listener.Run(listenCtx)

	// Repositories
	queueRepo := queue.NewRepoPG(pool)
	sessionRepo := session.NewRepoPG(pool)
	chatRepo := chat.NewRepoPG(pool)
	recRepo := recommendation.NewRepoPG(pool)
	availRepo := availability.NewRepoPG(pool)

	// Services
	tracker := availability.NewTracker(availRepo)
	coordinator := queue.NewCoordinator(queueRepo, tracker, notifier, cfg.AvgConsultMinutes, logger)
	watcher := queue.NewWatcher(queueRepo, bus, cfg.ChatPollInterval, logger)
	matcher := session.NewMatcher(sessionRepo, coordinator, tracker, metrics, logger)
	sessionSvc := session.NewService(sessionRepo, coordinator, tracker, recRepo, logger)
	chatSvc := chat.NewService(chatRepo, sessionSvc, notifier, logger)
	workflow := recommendation.NewWorkflow(recRepo, sessionSvc, chatSvc, notifier, logger)
	pipelines := chat.NewPipelineFactory(chatRepo, sessionSvc, workflow, bus, cfg.ChatPollInterval, metrics, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))

	// API routes
	apiV1 := e.Group("/api/v1")
	queue.NewHandler(coordinator).RegisterRoutes(apiV1)
	session.NewHandler(matcher, sessionSvc).RegisterRoutes(apiV1)
	chat.NewHandler(chatSvc).RegisterRoutes(apiV1)
	recommendation.NewHandler(workflow).RegisterRoutes(apiV1)
	availability.NewHandler(tracker).RegisterRoutes(apiV1)

	// Streaming
	websocket.NewHandler(pipelines, watcher, logger).RegisterRoutes(e.Group(""))

	// Health and metrics
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Registry.Handler)

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
	stopListener()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
