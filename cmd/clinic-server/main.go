package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shurenclinic/clinic-api/internal/config"
	"github.com/shurenclinic/clinic-api/internal/domain/ebarimt"
	"github.com/shurenclinic/clinic-api/internal/domain/invoice"
	"github.com/shurenclinic/clinic-api/internal/platform/auth"
	"github.com/shurenclinic/clinic-api/internal/platform/db"
	"github.com/shurenclinic/clinic-api/internal/platform/middleware"
	"github.com/shurenclinic/clinic-api/internal/platform/posapi"
)

// CustomValidator plugs go-playground/validator into echo's c.Validate.
type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// InvoiceReaderAdapter adapts the invoice service to the snapshot view the
// receipt lifecycle needs, avoiding a circular import between the two
// domain packages.
type InvoiceReaderAdapter struct {
	service *invoice.Service
}

func NewInvoiceReaderAdapter(service *invoice.Service) *InvoiceReaderAdapter {
	return &InvoiceReaderAdapter{service: service}
}

// Snapshot implements ebarimt.InvoiceReader.
func (a *InvoiceReaderAdapter) Snapshot(ctx context.Context, invoiceID int64) (*ebarimt.InvoiceSnapshot, error) {
	inv, err := a.service.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	paid, err := a.service.PaidTotal(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return &ebarimt.InvoiceSnapshot{
		ID:          inv.ID,
		BuyerType:   inv.BuyerType,
		CustomerTin: inv.CustomerTin,
		FinalAmount: inv.FinalAmount,
		PaidTotal:   paid,
	}, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic practice management API server",
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
		Short: "Start the API server",
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

			count, err := db.NewMigrator(pool, dir).Up(ctx)
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

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
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
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &CustomValidator{validator: validator.New()}

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware([]byte(cfg.AuthSecret)))
	}

	// POSAPI wire clients
	posClient := posapi.NewClient(cfg.PosapiBaseURL, cfg.PosapiTimeout())
	if cfg.EbarimtSkip {
		logger.Warn().Msg("ebarimt skip mode enabled; receipts will be stubbed locally")
	}

	// Domain wiring
	invoiceService := invoice.NewService(invoice.NewRepoPG(pool))
	invoiceHandler := invoice.NewHandler(invoiceService)

	merchant := ebarimt.MerchantConfig{
		MerchantTin:  cfg.PosapiMerchantTin,
		PosNo:        cfg.PosapiPosNo,
		BranchNo:     cfg.PosapiBranchNo,
		DistrictCode: cfg.PosapiDistrictCode,
		ConsumerNo:   cfg.PosapiConsumerNo,
	}
	ebarimtService := ebarimt.NewService(
		ebarimt.NewRepoPG(pool),
		NewInvoiceReaderAdapter(invoiceService),
		posClient,
		merchant,
		cfg.EbarimtSkip,
		logger,
	)
	ebarimtHandler := ebarimt.NewHandler(ebarimtService)

	// API routes
	api := e.Group("/api")
	invoiceHandler.RegisterRoutes(api)
	ebarimtHandler.RegisterRoutes(api)

	// Operator portal lookup, only when credentials are configured.
	if cfg.PosapiOperatorBaseURL != "" {
		operator := posapi.NewOperatorClient(cfg.PosapiOperatorBaseURL, cfg.PosapiOperatorToken, cfg.PosapiOperatorAPIKey, cfg.PosapiTimeout())
		api.GET("/ebarimt/merchants", func(c echo.Context) error {
			resp, err := operator.Merchants(c.Request().Context(), cfg.PosapiPosNo, cfg.PosapiMerchantTin)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadGateway, err.Error())
			}
			return c.JSON(http.StatusOK, resp)
		}, auth.RequireRole("billing"))
	}

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

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
