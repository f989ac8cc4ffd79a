package aggregation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"unified-portfolio-go/internal/models"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ListPortfolio returns every active account of the user with its last known
// balance and a formatted total per currency. It reads only the local store.
func (s *Service) ListPortfolio(ctx context.Context, userId string) (*models.Portfolio, error) {
	accounts, err := s.store.ListConnectedAccounts(ctx, userId, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list connected accounts: %w", err)
	}

	sums := map[string]decimal.Decimal{}
	for _, acct := range accounts {
		code := strings.ToUpper(acct.Currency)
		if code == "" {
			continue
		}
		sums[code] = sums[code].Add(acct.Balance)
	}

	totals := make([]models.PortfolioTotal, 0, len(sums))
	for code, amount := range sums {
		totals = append(totals, models.PortfolioTotal{
			Currency:  code,
			Amount:    amount.String(),
			Formatted: formatAmount(amount, code),
		})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Currency < totals[j].Currency })

	zap.L().Debug("Listed portfolio",
		zap.String("user_id", userId),
		zap.Int("accounts", len(accounts)),
		zap.Int("currencies", len(totals)))

	return &models.Portfolio{UserId: userId, Accounts: accounts, Totals: totals}, nil
}

// formatAmount renders amount in the currency's display format. Codes unknown
// to go-money, such as crypto assets, fall back to "<amount> <code>".
func formatAmount(amount decimal.Decimal, code string) string {
	cur := money.GetCurrency(code)
	if cur == nil {
		return amount.String() + " " + code
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), code).Display()
}
