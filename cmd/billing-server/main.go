package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medibill/medibill/internal/config"
	"github.com/medibill/medibill/internal/domain/claim"
	"github.com/medibill/medibill/internal/domain/company"
	"github.com/medibill/medibill/internal/domain/fees"
	"github.com/medibill/medibill/internal/domain/invoice"
	"github.com/medibill/medibill/internal/domain/settlement"
	"github.com/medibill/medibill/internal/domain/usage"
	"github.com/medibill/medibill/internal/platform/auth"
	"github.com/medibill/medibill/internal/platform/db"
	"github.com/medibill/medibill/internal/platform/middleware"
	"github.com/medibill/medibill/internal/platform/rates"
)

// InvoiceLedgerAdapter adapts the invoice service to the claim.InvoiceLedger
// interface, avoiding a circular import between the claim and invoice
// packages.
type InvoiceLedgerAdapter struct {
	svc *invoice.Service
}

// NewInvoiceLedgerAdapter creates a new adapter.
func NewInvoiceLedgerAdapter(svc *invoice.Service) *InvoiceLedgerAdapter {
	return &InvoiceLedgerAdapter{svc: svc}
}

// RemainingBalance implements claim.InvoiceLedger.
func (a *InvoiceLedgerAdapter) RemainingBalance(ctx context.Context, invoiceID uuid.UUID) (int64, error) {
	return a.svc.RemainingBalance(ctx, invoiceID)
}

// ApplyAdjudication implements claim.InvoiceLedger.
func (a *InvoiceLedgerAdapter) ApplyAdjudication(ctx context.Context, invoiceID uuid.UUID, adj claim.Adjudication) error {
	_, err := a.svc.ApplyClaimAdjudication(ctx, invoiceID, invoice.ClaimAdjudication{
		ClaimNumber:           adj.ClaimNumber,
		Outcome:               adj.Outcome,
		ApprovedAmount:        adj.ApprovedAmount,
		PatientResponsibility: adj.PatientResponsibility,
		Adjustments:           adj.Adjustments,
		PaidAmount:            adj.PaidAmount,
		CheckNumber:           adj.CheckNumber,
		ERANumber:             adj.ERANumber,
		DenialReason:          adj.DenialReason,
	})
	return err
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "billing-server",
		Short: "Medical billing API server",
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
		Short: "Start the billing API server",
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
	e.GET("/health/db", func(c echo.Context) error {
		h := db.CheckHealth(c.Request().Context(), pool)
		status := http.StatusOK
		if !h.Healthy {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, h)
	})

	// Authenticated API group
	apiV1 := e.Group("/api/v1")
	apiV1.Use(auth.Middleware(cfg.AuthSecret, cfg.AuthIssuer))
	apiV1.Use(middleware.ClinicScope())

	// Exchange rates (best effort; balance reads degrade gracefully)
	var converter invoice.RateConverter
	if cfg.RatesURL != "" {
		converter = rates.NewProvider(cfg.RatesURL, cfg.RatesTimeout, logger)
	}

	// Repositories
	invoiceRepo := invoice.NewRepoPG(pool)
	companyRepo := company.NewRepoPG(pool)
	approvalRepo := company.NewApprovalRepoPG(pool)
	usageRepo := usage.NewRepoPG(pool)
	claimRepo := claim.NewRepoPG(pool)
	feesRepo := fees.NewRepoPG(pool)

	// Services. Usage reads convention invoices straight from the invoice
	// repository; the invoice service pushes usage deltas back through the
	// UsageRecorder interface.
	usageSvc := usage.NewService(usageRepo, invoiceRepo, logger, cfg.ConflictRetries)
	invoiceSvc := invoice.NewService(invoiceRepo, usageSvc, logger, invoice.ServiceConfig{
		ConflictRetries:               cfg.ConflictRetries,
		BlockCancelOnUnclearedCheques: cfg.BlockCancelOnUnclearedCheques,
		DefaultCurrency:               cfg.DefaultCurrency,
	})
	companySvc := company.NewService(companyRepo, approvalRepo, logger)
	resolver := fees.NewResolver(feesRepo, logger)
	coordinator := settlement.NewCoordinator(invoiceSvc, companySvc, usageSvc, settlement.Config{
		CapOverflow: settlement.CapOverflowPolicy(cfg.CapOverflowPolicy),
	}, logger)
	claimSvc := claim.NewService(claimRepo, NewInvoiceLedgerAdapter(invoiceSvc), logger, cfg.ConflictRetries)

	// Routes
	invoice.NewHandler(invoiceSvc, converter).RegisterRoutes(apiV1)
	company.NewHandler(companySvc).RegisterRoutes(apiV1)
	usage.NewHandler(usageSvc).RegisterRoutes(apiV1)
	settlement.NewHandler(coordinator).RegisterRoutes(apiV1)
	claim.NewHandler(claimSvc).RegisterRoutes(apiV1)
	fees.NewHandler(resolver, feesRepo).RegisterRoutes(apiV1)

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
