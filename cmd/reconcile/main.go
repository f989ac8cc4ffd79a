package main

import (
	"context"
	"flag"
	"fmt"

	"unified-portfolio-go/internal/common"
	"unified-portfolio-go/internal/config"
	"unified-portfolio-go/internal/models"

	"go.uber.org/zap"
)

func printSyncSet(title string, set models.SyncSet) {
	common.PrintSection(fmt.Sprintf("%s: %d", title, set.Count), common.DefaultWidth)
	for i, e := range set.Accounts {
		fmt.Printf("%s %-24s %s\n", common.BoxPrefix(i == len(set.Accounts)-1), common.ShortId(e.AccountId), e.InstitutionName)
	}
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "User id (required)")
	providerFlag := flag.String("provider", "brokerage", "Provider to reconcile")
	forceFlag := flag.Bool("force", false, "Upsert every upstream authorization after the check")
	registerFlag := flag.Bool("register", false, "Register the user with the provider and store the credential")
	disconnectFlag := flag.String("disconnect", "", "Disconnect this account id")
	cleanupFlag := flag.Bool("cleanup", false, "Remove every local row for the user and provider")
	flag.Parse()

	if *userFlag == "" {
		logger.Fatal("--user is required")
	}
	p, err := models.ParseProvider(*providerFlag)
	if err != nil {
		logger.Fatal("Invalid provider", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	svc := services.ReconcileSvc

	switch {
	case *registerFlag:
		cred, err := svc.Register(ctx, *userFlag, p)
		if err != nil {
			logger.Fatal("Registration failed", zap.Error(err))
		}
		fmt.Printf("Registered %s with %s as %s\n", *userFlag, p, cred.ProviderUserId)

	case *disconnectFlag != "":
		result, err := svc.Disconnect(ctx, *userFlag, *disconnectFlag, p)
		if err != nil {
			logger.Fatal("Disconnect failed", zap.String("account_id", *disconnectFlag), zap.Error(err))
		}
		fmt.Printf("Disconnected %d account(s), credentials deleted: %t\n", result.AccountsRemoved, result.CredentialsDeleted)

	case *cleanupFlag:
		result, err := svc.CleanupProvider(ctx, *userFlag, p)
		if err != nil {
			logger.Fatal("Cleanup failed", zap.Error(err))
		}
		common.PrintHeader("CLEANUP: "+*userFlag+" / "+p.String(), common.DefaultWidth)
		fmt.Printf("connected accounts: %d\nprovider accounts:  %d\nconnections:        %d\nbalances:           %d\npositions:          %d\norders:             %d\nactivities:         %d\n",
			result.ConnectedAccounts, result.ProviderAccounts, result.Connections,
			result.Balances, result.Positions, result.Orders, result.Activities)

	default:
		report, err := svc.CheckSync(ctx, *userFlag, p)
		if err != nil {
			logger.Fatal("Sync check failed", zap.Error(err))
		}
		common.PrintHeader("SYNC REPORT: "+*userFlag+" / "+p.String(), common.DefaultWidth)
		printSyncSet("In provider only", report.InProviderOnly)
		printSyncSet("In database only", report.InDatabaseOnly)
		printSyncSet("Synced", report.Synced)

		if !*forceFlag {
			common.PrintFooter("Read-only check. Re-run with --force to upsert upstream authorizations.", common.DefaultWidth)
			return
		}

		result, err := svc.ForceSync(ctx, *userFlag, p)
		if err != nil {
			logger.Fatal("Force sync failed", zap.Error(err))
		}
		common.PrintFooter(fmt.Sprintf("FORCE SYNC: %d connections created, %d updated, %d accounts created, %d updated, %d errors",
			result.ConnectionsCreated, result.ConnectionsUpdated, result.AccountsCreated, result.AccountsUpdated, len(result.Errors)),
			common.DefaultWidth)
	}
}
