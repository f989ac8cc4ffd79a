package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"unified-portfolio-go/internal/aggregation"
	"unified-portfolio-go/internal/database"
	"unified-portfolio-go/internal/formance"
	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/prime"
	"unified-portfolio-go/internal/provider"
	"unified-portfolio-go/internal/provider/banking"
	"unified-portfolio-go/internal/provider/brokerage"
	"unified-portfolio-go/internal/reconcile"
	"unified-portfolio-go/internal/trading"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services bundles everything a command needs
type Services struct {
	DbService      *database.Service
	Providers      *provider.Registry
	Brokerage      *brokerage.Adapter
	AggregationSvc *aggregation.Service
	ReconcileSvc   *reconcile.Service
	TradingSvc     *trading.Service
	FormanceSvc    *formance.Service
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices opens the database and wires every configured provider.
// The brokerage is required; banking and wallet are skipped when unconfigured.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	services := &Services{DbService: dbService}
	if err := services.wire(ctx, cfg); err != nil {
		services.Close()
		return nil, err
	}
	return services, nil
}

func (cs *Services) wire(ctx context.Context, cfg *models.Config) error {
	var adapters []provider.Adapter

	if cfg.Brokerage.BaseURL == "" {
		return fmt.Errorf("missing required brokerage configuration: BROKERAGE_BASE_URL")
	}
	brokerageAdapter, err := brokerage.NewAdapter(cfg.Brokerage)
	if err != nil {
		return fmt.Errorf("failed to create brokerage adapter: %w", err)
	}
	cs.Brokerage = brokerageAdapter
	adapters = append(adapters, brokerageAdapter)

	if cfg.Banking.BaseURL != "" {
		bankingAdapter, err := banking.NewAdapter(cfg.Banking)
		if err != nil {
			return fmt.Errorf("failed to create banking adapter: %w", err)
		}
		adapters = append(adapters, bankingAdapter)
	} else {
		zap.L().Info("Banking provider not configured, skipping")
	}

	if cfg.Prime.AccessKey != "" {
		zap.L().Info("Connecting wallet provider")
		walletService, err := prime.NewService(ctx, cfg.Prime)
		if err != nil {
			return fmt.Errorf("failed to create wallet provider: %w", err)
		}
		adapters = append(adapters, walletService)
	} else {
		zap.L().Info("Wallet provider not configured, skipping")
	}

	cs.Providers = provider.NewRegistry(adapters...)
	cs.AggregationSvc = aggregation.NewService(cs.DbService, cs.Providers, cfg.Cache)
	cs.ReconcileSvc = reconcile.NewService(cs.DbService, cs.Providers, cfg.Cache.TransientRetries)
	cs.TradingSvc = trading.NewService(cs.DbService, brokerageAdapter, cfg.Cache.TransientRetries)

	if cfg.Formance.Enabled {
		formanceService, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			return fmt.Errorf("failed to create trade audit ledger: %w", err)
		}
		cs.FormanceSvc = formanceService
		cs.TradingSvc.SetActivitySink(formanceService)
	}

	zap.L().Info("Services initialized", zap.Any("providers", cs.Providers.Kinds()))
	return nil
}

// InitializeDatabaseOnly initializes just the database service without any provider.
// Useful for read-only operations like listing portfolios
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	return database.NewService(ctx, cfg.Database)
}

func (cs *Services) Close() {
	if cs.FormanceSvc != nil {
		cs.FormanceSvc.Close()
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
