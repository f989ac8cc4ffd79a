package main

import (
	"context"
	"flag"
	"fmt"

	"unified-portfolio-go/internal/aggregation"
	"unified-portfolio-go/internal/common"
	"unified-portfolio-go/internal/config"
	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"

	"go.uber.org/zap"
)

func printAccounts(accounts []models.ConnectedAccount) {
	for i, a := range accounts {
		isLast := i == len(accounts)-1
		fmt.Printf("%s %-10s %-28s %-20s %18s %s  [%s]\n",
			common.BoxPrefix(isLast),
			a.Provider,
			a.DisplayName,
			a.InstitutionName,
			a.Balance.StringFixed(2),
			a.Currency,
			a.Status)
	}
}

func printView(view *models.AccountView) {
	common.PrintSection(fmt.Sprintf("Account %s (%s)", view.AccountId, view.Provider), common.DefaultWidth)

	if d := view.Details.Data; d != nil {
		fmt.Printf("│  Name: %s  Institution: %s  Mask: %s\n", d.Name, d.InstitutionName, d.MaskedNumber)
	}
	fmt.Printf("│  details:    %s\n", common.SectionStatus(sectionCode(view.Details.Error)))
	fmt.Printf("│  balances:   %s (%d)\n", common.SectionStatus(sectionCode(view.Balances.Error)), len(view.Balances.Data))
	fmt.Printf("│  positions:  %s (%d)\n", common.SectionStatus(sectionCode(view.Positions.Error)), len(view.Positions.Data))
	fmt.Printf("│  orders:     %s (%d)\n", common.SectionStatus(sectionCode(view.Orders.Error)), len(view.Orders.Data))
	fmt.Printf("│  activities: %s (%d)\n", common.SectionStatus(sectionCode(view.Activities.Error)), len(view.Activities.Data))
	fmt.Printf("└  from cache: %t, as of %s\n", view.FromCache, view.AsOf.Format("2006-01-02 15:04:05"))
}

func sectionCode(err *models.SectionError) string {
	if err == nil {
		return ""
	}
	return err.Code
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "User id (required)")
	accountFlag := flag.String("account", "", "Assemble the full view for this account (calls providers)")
	providerFlag := flag.String("provider", "brokerage", "Provider of --account")
	flag.Parse()

	if *userFlag == "" {
		logger.Fatal("--user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	if *accountFlag != "" {
		p, err := models.ParseProvider(*providerFlag)
		if err != nil {
			logger.Fatal("Invalid provider", zap.Error(err))
		}

		services, err := common.InitializeServices(ctx, cfg)
		if err != nil {
			logger.Fatal("Failed to initialize services", zap.Error(err))
		}
		defer services.Close()

		view, err := services.AggregationSvc.GetAccountView(ctx, *userFlag, p, *accountFlag)
		if err != nil {
			logger.Fatal("Failed to load account view", zap.String("account_id", *accountFlag), zap.Error(err))
		}
		printView(view)
		return
	}

	// Listing only reads the local store, no provider credentials needed.
	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	portfolio, err := aggregation.NewService(dbService, provider.NewRegistry(), cfg.Cache).ListPortfolio(ctx, *userFlag)
	if err != nil {
		logger.Fatal("Failed to list accounts", zap.Error(err))
	}

	common.PrintHeader("CONNECTED ACCOUNTS: "+*userFlag, common.WideWidth)
	printAccounts(portfolio.Accounts)
	for _, total := range portfolio.Totals {
		fmt.Printf("   TOTAL %-4s %s\n", total.Currency, total.Formatted)
	}
	common.PrintFooter(fmt.Sprintf("SUMMARY: %d active accounts in %d currencies", len(portfolio.Accounts), len(portfolio.Totals)), common.WideWidth)
}
