package prime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"

	"github.com/coinbase-samples/core-go"
	"github.com/shopspring/decimal"
)

type fakeSource struct {
	wallets []wallet
	txs     map[string][]transaction
	txErr   error
}

func (f *fakeSource) ListWallets(ctx context.Context, portfolioId string) ([]wallet, error) {
	return f.wallets, nil
}

func (f *fakeSource) ListTransactions(ctx context.Context, portfolioId, walletId string) ([]transaction, error) {
	if f.txErr != nil {
		return nil, f.txErr
	}
	return f.txs[walletId], nil
}

func newTestService() (*Service, *fakeSource) {
	created := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	src := &fakeSource{
		wallets: []wallet{{Id: "w-eth", Name: "ETH Vault", Symbol: "ETH", Type: "VAULT"}},
		txs: map[string][]transaction{
			"w-eth": {
				{Id: "t1", Type: "DEPOSIT", Status: "TRANSACTION_IMPORTED", Symbol: "ETH", Amount: "2.5", Created: created},
				{Id: "t2", Type: "WITHDRAWAL", Status: "TRANSACTION_DONE", Symbol: "ETH", Amount: "0.75", Created: created},
				{Id: "t3", Type: "WITHDRAWAL", Status: "TRANSACTION_FAILED", Symbol: "ETH", Amount: "1", Created: created},
				{Id: "t4", Type: "DEPOSIT", Status: "TRANSACTION_IMPORT_PENDING", Symbol: "ETH", Amount: "10", Created: created},
			},
		},
	}
	svc := newService(src, "portfolio-1")
	svc.now = func() time.Time { return created }
	return svc, src
}

func TestBalancesCountOnlySettledTransactions(t *testing.T) {
	svc, _ := newTestService()

	balances, err := svc.FetchBalances(context.Background(), nil, "w-eth")
	if err != nil {
		t.Fatalf("FetchBalances failed: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("Expected 1 balance, got %d", len(balances))
	}
	if !balances[0].Cash.Equal(decimal.RequireFromString("1.75")) {
		t.Errorf("Expected cash 1.75, got %s", balances[0].Cash)
	}
	if balances[0].Currency != "ETH" {
		t.Errorf("Expected currency ETH, got %s", balances[0].Currency)
	}
}

func TestActivitiesSignWithdrawals(t *testing.T) {
	svc, _ := newTestService()

	activities, err := svc.FetchActivities(context.Background(), nil, "w-eth")
	if err != nil {
		t.Fatalf("FetchActivities failed: %v", err)
	}
	if len(activities) != 4 {
		t.Fatalf("Expected 4 activities, got %d", len(activities))
	}
	if !activities[1].Amount.Equal(decimal.RequireFromString("-0.75")) {
		t.Errorf("Expected withdrawal amount -0.75, got %s", activities[1].Amount)
	}
	if !activities[1].Units.Equal(decimal.RequireFromString("0.75")) {
		t.Errorf("Expected units 0.75, got %s", activities[1].Units)
	}
}

func TestDetailsKeepsBalanceUnknownWhenTransactionsFail(t *testing.T) {
	svc, src := newTestService()
	src.txErr = errors.New("upstream unavailable")

	details, err := svc.FetchDetails(context.Background(), nil, "w-eth")
	if err != nil {
		t.Fatalf("FetchDetails failed: %v", err)
	}
	if details.Balance != nil {
		t.Errorf("Expected nil balance, got %s", details.Balance)
	}
	if details.ConnectionId != "portfolio-1" || details.Provider != models.ProviderWallet {
		t.Errorf("Unexpected details: %+v", details)
	}
}

func TestUnknownWalletIsNotFound(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.FetchDetails(context.Background(), nil, "missing")
	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("Expected provider error, got %v", err)
	}
	if perr.Status != http.StatusNotFound || perr.Kind == provider.KindAlreadyGone {
		t.Errorf("Expected a 404 read failure, got %v", perr)
	}
}

func TestSdkErrorsClassifiedByStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   provider.Kind
	}{
		{"expired key", http.StatusUnauthorized, provider.KindAuthExpired},
		{"throttled", http.StatusTooManyRequests, provider.KindRateLimited},
		{"outage", http.StatusServiceUnavailable, provider.KindTransient},
		{"no response", 0, provider.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, src := newTestService()
			src.txErr = fmt.Errorf("unable to list transactions: %w", &core.ApiError{
				Message:      "upstream said no",
				CodeExpected: []int{http.StatusOK},
				CodeReceived: tt.status,
			})

			_, err := svc.FetchBalances(context.Background(), nil, "w-eth")
			if got := provider.KindOf(err); got != tt.want {
				t.Errorf("Expected %s, got %s (%v)", tt.want, got, err)
			}
			var perr *provider.Error
			if errors.As(err, &perr) && perr.Provider != models.ProviderWallet {
				t.Errorf("Expected wallet provider, got %s", perr.Provider)
			}
		})
	}
}

func TestCredentialPinsPortfolio(t *testing.T) {
	svc, _ := newTestService()
	cred := &models.ProviderCredential{UserId: "user1", Provider: models.ProviderWallet, ProviderUserId: "portfolio-2"}

	auths, err := svc.ListAuthorizations(context.Background(), cred)
	if err != nil {
		t.Fatalf("ListAuthorizations failed: %v", err)
	}
	if len(auths) != 1 || auths[0].Id != "portfolio-2" {
		t.Errorf("Expected single authorization for portfolio-2, got %+v", auths)
	}

	accounts, err := svc.ListAccounts(context.Background(), cred)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ConnectionId != "portfolio-2" {
		t.Errorf("Unexpected accounts: %+v", accounts)
	}
}
