package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	database "github.com/sfranczak/FinanceCore/db"
	"github.com/sfranczak/FinanceCore/internal/finance/application"
	"github.com/sfranczak/FinanceCore/internal/finance/infrastructure"
	"github.com/sfranczak/FinanceCore/internal/investment/marketdata"
	"github.com/sfranczak/FinanceCore/internal/investment/position"
)

// Core holds the wired accounting engines. The presentation layer embeds
// this and calls the services directly; there is no wire protocol here.
type Core struct {
	Ledger      *application.LedgerService
	Balances    *application.BalanceService
	Allocations *application.AllocationService
	Positions   *position.Service
}

func buildCore(dbService *database.DBService) *Core {
	ledgerRepo := infrastructure.NewLedgerRepository(dbService.DB)
	bucketRepo := infrastructure.NewBucketRepository(dbService.DB)
	categoryRepo := infrastructure.NewCategoryRepository(dbService.DB)
	investmentRepo := position.NewRepository(dbService.DB)

	fmpClient := marketdata.NewFMPClient(os.Getenv("FMP_API_KEY"))

	balances := application.NewBalanceService(ledgerRepo, bucketRepo, categoryRepo, investmentRepo)
	return &Core{
		Ledger:      application.NewLedgerService(ledgerRepo, categoryRepo),
		Balances:    balances,
		Allocations: application.NewAllocationService(ledgerRepo, bucketRepo),
		Positions:   position.NewService(investmentRepo, ledgerRepo, balances, categoryRepo, fmpClient),
	}
}

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file, continuing with system environment variables")
	}

	dbService, err := database.NewDBService()
	if err != nil {
		log.Fatalf("Could not initialize database connection: %v", err)
	}
	defer dbService.Close()

	core := buildCore(dbService)

	// Hourly sweep over users with automated positions. RefreshPortfolio
	// enforces its own 60-minute window per user, so an overlapping run
	// is a cheap no-op.
	scheduler := cron.New()
	_, err = scheduler.AddFunc("5 * * * *", func() {
		refreshAllPortfolios(context.Background(), dbService, core)
	})
	if err != nil {
		log.Fatalf("Could not schedule portfolio refresh: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	log.Println("FinanceCore maintenance daemon started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down")
}

func refreshAllPortfolios(ctx context.Context, dbService *database.DBService, core *Core) {
	rows, err := dbService.DB.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM investments WHERE is_automated AND ticker IS NOT NULL`)
	if err != nil {
		log.Printf("Portfolio refresh sweep failed: %v", err)
		return
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			log.Printf("Portfolio refresh sweep failed: %v", err)
			return
		}
		userIDs = append(userIDs, userID)
	}

	for _, userID := range userIDs {
		report, err := core.Positions.RefreshPortfolio(ctx, userID)
		if err != nil {
			log.Printf("Portfolio refresh for user %s failed: %v", userID, err)
			continue
		}
		if !report.Skipped {
			log.Printf("Portfolio refresh for user %s: %d updated, %d failed", userID, report.Updated, report.Failed)
		}
	}
}
