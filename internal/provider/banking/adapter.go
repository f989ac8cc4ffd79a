// Package banking adapts a bank/card aggregation API (enrollment based,
// access token per user) to the provider capability interface.
package banking

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"
	"unified-portfolio-go/internal/provider/httpapi"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time check: *Adapter must satisfy provider.Adapter.
var _ provider.Adapter = (*Adapter)(nil)

var errorCodes = map[string]provider.Kind{
	"enrollment.disconnected":                          provider.KindAuthExpired,
	"enrollment.disconnected.user_action.mfa_required": provider.KindAuthExpired,
	"enrollment.disconnected.account_locked":           provider.KindAuthExpired,
	"rate_limit_exceeded":                              provider.KindRateLimited,
}

type Adapter struct {
	client *httpapi.Client
	appId  string
	now    func() time.Time
}

func NewAdapter(cfg models.BankingConfig, opts ...httpapi.Option) (*Adapter, error) {
	opts = append([]httpapi.Option{httpapi.WithErrorCodes(errorCodes)}, opts...)
	client, err := httpapi.New(models.ProviderBanking, cfg.BaseURL, cfg.Timeout, opts...)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: client, appId: cfg.AppId, now: time.Now}, nil
}

func (a *Adapter) Kind() models.Provider { return models.ProviderBanking }

type account struct {
	Id           string `json:"id"`
	EnrollmentId string `json:"enrollment_id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Subtype      string `json:"subtype"`
	Currency     string `json:"currency"`
	LastFour     string `json:"last_four"`
	Status       string `json:"status"`
	Institution  struct {
		Id   string `json:"id"`
		Name string `json:"name"`
	} `json:"institution"`
}

type balances struct {
	AccountId string              `json:"account_id"`
	Available decimal.NullDecimal `json:"available"`
	Ledger    decimal.NullDecimal `json:"ledger"`
}

type transaction struct {
	Id          string          `json:"id"`
	AccountId   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	Type        string          `json:"type"`
}

func (a *Adapter) call(ctx context.Context, cred provider.Credential, op, method, path string, out any) error {
	if cred == nil || cred.Secret == "" {
		return &provider.Error{Kind: provider.KindNotRegistered, Provider: models.ProviderBanking, Op: op, Message: "no banking access token"}
	}
	header := http.Header{}
	if a.appId != "" {
		header.Set("X-App-Id", a.appId)
	}
	return a.client.Do(ctx, httpapi.Request{
		Op:        op,
		Method:    method,
		Path:      path,
		Header:    header,
		BasicAuth: &httpapi.BasicAuth{Username: cred.Secret},
	}, out)
}

func (a *Adapter) toProviderAccount(acct account) models.ProviderAccount {
	currency := strings.ToUpper(acct.Currency)
	if currency == "" {
		currency = "USD"
	}
	masked := ""
	if acct.LastFour != "" {
		masked = "****" + acct.LastFour
	}
	return models.ProviderAccount{
		AccountId:       acct.Id,
		Provider:        models.ProviderBanking,
		ConnectionId:    acct.EnrollmentId,
		Name:            acct.Name,
		InstitutionName: acct.Institution.Name,
		Subtype:         acct.Subtype,
		MaskedNumber:    masked,
		Currency:        currency,
		Status:          acct.Status,
		SyncedAt:        a.now().UTC(),
	}
}

// ListAuthorizations derives one authorization per enrollment from the account list.
func (a *Adapter) ListAuthorizations(ctx context.Context, cred provider.Credential) ([]models.Authorization, error) {
	var accounts []account
	if err := a.call(ctx, cred, "list_authorizations", http.MethodGet, "/accounts", &accounts); err != nil {
		return nil, err
	}
	seen := map[string]models.Authorization{}
	for _, acct := range accounts {
		if acct.EnrollmentId == "" {
			continue
		}
		seen[acct.EnrollmentId] = models.Authorization{
			Id:              acct.EnrollmentId,
			InstitutionName: acct.Institution.Name,
			Disabled:        acct.Status != "" && acct.Status != "open",
			UpdatedAt:       a.now().UTC(),
		}
	}
	auths := make([]models.Authorization, 0, len(seen))
	for _, auth := range seen {
		auths = append(auths, auth)
	}
	sort.Slice(auths, func(i, j int) bool { return auths[i].Id < auths[j].Id })
	return auths, nil
}

func (a *Adapter) ListAccounts(ctx context.Context, cred provider.Credential) ([]models.ProviderAccount, error) {
	var accounts []account
	if err := a.call(ctx, cred, "list_accounts", http.MethodGet, "/accounts", &accounts); err != nil {
		return nil, err
	}
	out := make([]models.ProviderAccount, 0, len(accounts))
	for _, acct := range accounts {
		out = append(out, a.toProviderAccount(acct))
	}
	return out, nil
}

// FetchDetails returns the account enriched with its ledger balance. The
// balance is optional: when that lookup fails the details are still returned.
func (a *Adapter) FetchDetails(ctx context.Context, cred provider.Credential, accountId string) (*models.ProviderAccount, error) {
	var acct account
	if err := a.call(ctx, cred, "get_account", http.MethodGet, "/accounts/"+url.PathEscape(accountId), &acct); err != nil {
		return nil, err
	}
	details := a.toProviderAccount(acct)

	var bal balances
	if err := a.call(ctx, cred, "get_balances", http.MethodGet, "/accounts/"+url.PathEscape(accountId)+"/balances", &bal); err != nil {
		zap.L().Debug("Ledger balance unavailable for account details",
			zap.String("account_id", accountId),
			zap.Error(err))
	} else if bal.Ledger.Valid {
		ledger := bal.Ledger.Decimal
		details.Balance = &ledger
	}
	return &details, nil
}

func (a *Adapter) FetchBalances(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderBalance, error) {
	var bal balances
	if err := a.call(ctx, cred, "get_balances", http.MethodGet, "/accounts/"+url.PathEscape(accountId)+"/balances", &bal); err != nil {
		return nil, err
	}
	// the aggregator only reports US accounts and omits the currency here
	return []models.ProviderBalance{{
		AccountId:   accountId,
		Currency:    "USD",
		Cash:        bal.Ledger.Decimal,
		BuyingPower: bal.Available.Decimal,
		SyncedAt:    a.now().UTC(),
	}}, nil
}

// FetchPositions is always empty: bank accounts hold no securities.
func (a *Adapter) FetchPositions(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderPosition, error) {
	return []models.ProviderPosition{}, nil
}

// FetchOrders is always empty: bank accounts have no orders.
func (a *Adapter) FetchOrders(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderOrder, error) {
	return []models.ProviderOrder{}, nil
}

// FetchActivities maps bank transactions to activities.
func (a *Adapter) FetchActivities(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderActivity, error) {
	var txns []transaction
	if err := a.call(ctx, cred, "list_transactions", http.MethodGet, "/accounts/"+url.PathEscape(accountId)+"/transactions", &txns); err != nil {
		return nil, err
	}
	activities := make([]models.ProviderActivity, 0, len(txns))
	for _, tx := range txns {
		occurred, err := time.Parse("2006-01-02", tx.Date)
		if err != nil {
			zap.L().Warn("Skipping transaction with unparseable date",
				zap.String("account_id", accountId),
				zap.String("transaction_id", tx.Id),
				zap.String("date", tx.Date))
			continue
		}
		activities = append(activities, models.ProviderActivity{
			AccountId:   accountId,
			ActivityId:  tx.Id,
			Type:        strings.ToUpper(tx.Type),
			Description: tx.Description,
			Amount:      tx.Amount,
			Currency:    "USD",
			OccurredAt:  occurred,
		})
	}
	return activities, nil
}

// RemoveAuthorization deletes an enrollment upstream.
func (a *Adapter) RemoveAuthorization(ctx context.Context, cred provider.Credential, authorizationId string) error {
	if authorizationId == "" {
		return fmt.Errorf("authorization id is required")
	}
	return a.call(ctx, cred, "remove_enrollment", http.MethodDelete, "/enrollments/"+url.PathEscape(authorizationId), nil)
}

// DeleteUser is a no-op: the aggregator has no user object beyond enrollments.
func (a *Adapter) DeleteUser(ctx context.Context, cred provider.Credential) error {
	return nil
}
