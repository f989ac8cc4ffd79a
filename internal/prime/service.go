// Package prime adapts Coinbase Prime custody wallets to the provider
// capability interface. Every wallet in the configured portfolio is exposed as
// one account; its transactions are the account activity.
package prime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"

	"github.com/coinbase-samples/core-go"
	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const (
	institutionName   = "Coinbase Prime"
	defaultPortfolio  = "Default Portfolio"
	transactionsLimit = 500
)

// wallet and transaction are the subset of the Prime payloads the adapter reads.
type wallet struct {
	Id     string
	Name   string
	Symbol string
	Type   string
}

type transaction struct {
	Id      string
	Type    string
	Status  string
	Symbol  string
	Amount  string
	Created time.Time
}

type walletSource interface {
	ListWallets(ctx context.Context, portfolioId string) ([]wallet, error)
	ListTransactions(ctx context.Context, portfolioId, walletId string) ([]transaction, error)
}

// sdkSource calls the Prime REST API through the official SDK.
type sdkSource struct {
	portfoliosSvc   portfolios.PortfoliosService
	walletsSvc      wallets.WalletsService
	transactionsSvc transactions.TransactionsService
}

func newSdkSource(creds *credentials.Credentials, timeout time.Duration) (*sdkSource, error) {
	httpClient, err := createCustomHttpClient(timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	restClient := client.NewRestClient(creds, httpClient)

	return &sdkSource{
		portfoliosSvc:   portfolios.NewPortfoliosService(restClient),
		walletsSvc:      wallets.NewWalletsService(restClient),
		transactionsSvc: transactions.NewTransactionsService(restClient),
	}, nil
}

func createCustomHttpClient(timeout time.Duration) (http.Client, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

func (s *sdkSource) findDefaultPortfolio(ctx context.Context) (string, error) {
	response, err := s.portfoliosSvc.ListPortfolios(ctx, &portfolios.ListPortfoliosRequest{})
	if err != nil {
		return "", fmt.Errorf("unable to list portfolios: %w", err)
	}
	for _, p := range response.Portfolios {
		if p.Name == defaultPortfolio {
			return p.Id, nil
		}
	}
	return "", fmt.Errorf("default portfolio not found")
}

func (s *sdkSource) ListWallets(ctx context.Context, portfolioId string) ([]wallet, error) {
	response, err := s.walletsSvc.ListWallets(ctx, &wallets.ListWalletsRequest{
		PortfolioId: portfolioId,
		Type:        "VAULT",
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list wallets: %w", err)
	}

	out := make([]wallet, len(response.Wallets))
	for i, w := range response.Wallets {
		out[i] = wallet{Id: w.Id, Name: w.Name, Symbol: w.Symbol, Type: w.Type}
	}
	return out, nil
}

func (s *sdkSource) ListTransactions(ctx context.Context, portfolioId, walletId string) ([]transaction, error) {
	response, err := s.transactionsSvc.ListWalletTransactions(ctx, &transactions.ListWalletTransactionsRequest{
		PortfolioId: portfolioId,
		WalletId:    walletId,
		Types:       []string{"DEPOSIT", "WITHDRAWAL"},
		Pagination: &model.PaginationParams{
			Limit: transactionsLimit,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list wallet transactions: %w", err)
	}

	zap.L().Debug("Prime API response received",
		zap.String("wallet_id", walletId),
		zap.Int("count", len(response.Transactions)))

	out := make([]transaction, len(response.Transactions))
	for i, tx := range response.Transactions {
		out[i] = transaction{
			Id:      tx.Id,
			Type:    tx.Type,
			Status:  tx.Status,
			Symbol:  tx.Symbol,
			Amount:  tx.Amount,
			Created: tx.Created,
		}
	}
	return out, nil
}

var _ provider.Adapter = (*Service)(nil)

// Service is the wallet provider adapter.
type Service struct {
	source      walletSource
	portfolioId string
	now         func() time.Time
}

func NewService(ctx context.Context, cfg models.PrimeConfig) (*Service, error) {
	if cfg.AccessKey == "" || cfg.Passphrase == "" || cfg.SigningKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	source, err := newSdkSource(&credentials.Credentials{
		AccessKey:  cfg.AccessKey,
		Passphrase: cfg.Passphrase,
		SigningKey: cfg.SigningKey,
	}, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	portfolioId := cfg.PortfolioId
	if portfolioId == "" {
		zap.L().Info("Finding default portfolio")
		if portfolioId, err = source.findDefaultPortfolio(ctx); err != nil {
			return nil, err
		}
	}
	zap.L().Info("Using Prime portfolio", zap.String("portfolio_id", portfolioId))

	return newService(source, portfolioId), nil
}

func newService(source walletSource, portfolioId string) *Service {
	return &Service{source: source, portfolioId: portfolioId, now: time.Now}
}

func (s *Service) Kind() models.Provider { return models.ProviderWallet }

// portfolioFor lets a credential pin a different portfolio than the process default.
func (s *Service) portfolioFor(cred provider.Credential) string {
	if cred != nil && cred.ProviderUserId != "" {
		return cred.ProviderUserId
	}
	return s.portfolioId
}

func (s *Service) ListAuthorizations(ctx context.Context, cred provider.Credential) ([]models.Authorization, error) {
	return []models.Authorization{{
		Id:              s.portfolioFor(cred),
		InstitutionName: institutionName,
		UpdatedAt:       s.now().UTC(),
	}}, nil
}

func (s *Service) ListAccounts(ctx context.Context, cred provider.Credential) ([]models.ProviderAccount, error) {
	portfolioId := s.portfolioFor(cred)
	list, err := s.source.ListWallets(ctx, portfolioId)
	if err != nil {
		return nil, normalizeErr("list_wallets", err)
	}
	now := s.now().UTC()
	out := make([]models.ProviderAccount, 0, len(list))
	for _, w := range list {
		out = append(out, s.toAccount(portfolioId, w, now))
	}
	return out, nil
}

func (s *Service) toAccount(portfolioId string, w wallet, now time.Time) models.ProviderAccount {
	return models.ProviderAccount{
		AccountId:       w.Id,
		Provider:        models.ProviderWallet,
		ConnectionId:    portfolioId,
		Name:            w.Name,
		InstitutionName: institutionName,
		Subtype:         w.Type,
		Currency:        w.Symbol,
		Status:          "open",
		SyncedAt:        now,
	}
}

// normalizeErr classifies an SDK failure by the HTTP status it carries. A
// zero status means the request never got a response.
func normalizeErr(op string, err error) error {
	var apiErr *core.ApiError
	if errors.As(err, &apiErr) {
		kind := provider.KindTransient
		if apiErr.CodeReceived != 0 {
			kind = provider.Classify(apiErr.CodeReceived, "", nil)
		}
		err = &provider.Error{
			Kind:    kind,
			Status:  apiErr.CodeReceived,
			Message: apiErr.Message,
			Err:     err,
		}
	}
	return provider.Normalize(models.ProviderWallet, op, err)
}

func (s *Service) findWallet(ctx context.Context, portfolioId, accountId string) (*wallet, error) {
	list, err := s.source.ListWallets(ctx, portfolioId)
	if err != nil {
		return nil, normalizeErr("list_wallets", err)
	}
	for i := range list {
		if list[i].Id == accountId {
			return &list[i], nil
		}
	}
	return nil, &provider.Error{
		Kind:     provider.KindUnknown,
		Provider: models.ProviderWallet,
		Op:       "get_wallet",
		Status:   http.StatusNotFound,
		Message:  fmt.Sprintf("wallet %s not found in portfolio", accountId),
	}
}

func (s *Service) FetchDetails(ctx context.Context, cred provider.Credential, accountId string) (*models.ProviderAccount, error) {
	portfolioId := s.portfolioFor(cred)
	w, err := s.findWallet(ctx, portfolioId, accountId)
	if err != nil {
		return nil, err
	}
	details := s.toAccount(portfolioId, *w, s.now().UTC())

	txs, err := s.source.ListTransactions(ctx, portfolioId, accountId)
	if err != nil {
		zap.L().Debug("Wallet balance unavailable for details",
			zap.String("wallet_id", accountId),
			zap.Error(err))
		return &details, nil
	}
	total := settledTotal(txs)
	details.Balance = &total
	return &details, nil
}

func (s *Service) FetchBalances(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderBalance, error) {
	portfolioId := s.portfolioFor(cred)
	w, err := s.findWallet(ctx, portfolioId, accountId)
	if err != nil {
		return nil, err
	}
	txs, err := s.source.ListTransactions(ctx, portfolioId, accountId)
	if err != nil {
		return nil, normalizeErr("list_transactions", err)
	}
	total := settledTotal(txs)
	return []models.ProviderBalance{{
		AccountId:   accountId,
		Currency:    w.Symbol,
		Cash:        total,
		BuyingPower: total,
		SyncedAt:    s.now().UTC(),
	}}, nil
}

// Wallets hold no positions or orders.
func (s *Service) FetchPositions(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderPosition, error) {
	return []models.ProviderPosition{}, nil
}

func (s *Service) FetchOrders(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderOrder, error) {
	return []models.ProviderOrder{}, nil
}

func (s *Service) FetchActivities(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderActivity, error) {
	txs, err := s.source.ListTransactions(ctx, s.portfolioFor(cred), accountId)
	if err != nil {
		return nil, normalizeErr("list_transactions", err)
	}
	out := make([]models.ProviderActivity, 0, len(txs))
	for _, tx := range txs {
		amount, ok := signedAmount(tx)
		if !ok {
			zap.L().Warn("Skipping wallet transaction with invalid amount",
				zap.String("transaction_id", tx.Id),
				zap.String("amount", tx.Amount))
			continue
		}
		out = append(out, models.ProviderActivity{
			AccountId:   accountId,
			ActivityId:  tx.Id,
			Type:        tx.Type,
			Symbol:      tx.Symbol,
			Description: tx.Status,
			Amount:      amount,
			Units:       amount.Abs(),
			Currency:    tx.Symbol,
			OccurredAt:  tx.Created.UTC(),
		})
	}
	return out, nil
}

// The portfolio is held by the service's API key; there is nothing to revoke per user.
func (s *Service) RemoveAuthorization(ctx context.Context, cred provider.Credential, authorizationId string) error {
	return nil
}

func (s *Service) DeleteUser(ctx context.Context, cred provider.Credential) error {
	return nil
}
