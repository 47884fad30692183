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

	"github.com/dentledger/dentledger/internal/config"
	"github.com/dentledger/dentledger/internal/domain/ledger"
	"github.com/dentledger/dentledger/internal/domain/patient"
	"github.com/dentledger/dentledger/internal/domain/prospect"
	syncdomain "github.com/dentledger/dentledger/internal/domain/sync"
	"github.com/dentledger/dentledger/internal/platform/auth"
	"github.com/dentledger/dentledger/internal/platform/calendar"
	"github.com/dentledger/dentledger/internal/platform/db"
	"github.com/dentledger/dentledger/internal/platform/docstore"
	"github.com/dentledger/dentledger/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ledger-server",
		Short: "Dental clinic daily ledger API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(reaggregateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ledger API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// reaggregateCmd re-runs patient-profile aggregation for one locked day.
// Safe to run repeatedly; the per-lock markers keep increments exactly-once.
func reaggregateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reaggregate",
		Short: "Re-run profile aggregation for a locked day",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinicID, _ := cmd.Flags().GetString("clinic")
			date, _ := cmd.Flags().GetString("date")
			if clinicID == "" || date == "" {
				return fmt.Errorf("--clinic and --date are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for reaggregate")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := docstore.NewPGStore(pool)
			profiles := patient.NewService(patient.NewProfileRepoDoc(store), logger)
			prospects := prospect.NewService(prospect.NewRepoDoc(store), logger)
			ledgers := ledger.NewService(ledger.NewRepoDoc(store), profiles, prospects, logger)

			if err := ledgers.Reaggregate(ctx, clinicID, date); err != nil {
				return fmt.Errorf("reaggregate %s/%s: %w", clinicID, date, err)
			}
			fmt.Printf("Aggregation re-applied for %s/%s.\n", clinicID, date)
			return nil
		},
	}
	cmd.Flags().String("clinic", "", "Clinic identifier")
	cmd.Flags().String("date", "", "Ledger date (YYYY-MM-DD)")
	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Store: Postgres when configured, in-memory otherwise (dev only).
	ctx := context.Background()
	var store docstore.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		pg := docstore.NewPGStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate document store")
		}
		store = pg
		logger.Info().Msg("connected to database")
	} else {
		store = docstore.NewMemoryStore()
		logger.Warn().Msg("no DATABASE_URL set, using in-memory store")
	}

	// Services
	profiles := patient.NewService(patient.NewProfileRepoDoc(store), logger)
	prospects := prospect.NewService(prospect.NewRepoDoc(store), logger)
	ledgers := ledger.NewService(ledger.NewRepoDoc(store), profiles, prospects, logger)
	events := calendar.NewHTTPSource(cfg.CalendarBaseURL, cfg.CalendarToken)
	syncSvc := syncdomain.NewService(syncdomain.NewRosterRepoDoc(store), events, ledgers, profiles, time.Local, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	// API group
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware([]byte(cfg.AuthSigningKey)))
	}

	ledger.NewHandler(ledgers).RegisterRoutes(apiV1)
	patient.NewHandler(profiles).RegisterRoutes(apiV1)
	prospect.NewHandler(prospects).RegisterRoutes(apiV1)
	syncdomain.NewHandler(syncSvc).RegisterRoutes(apiV1)

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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
