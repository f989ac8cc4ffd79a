// Package brokerage adapts a multi-brokerage aggregation API (per-user
// secret issued at registration) to the provider capability and trading interfaces.
package brokerage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"
	"unified-portfolio-go/internal/provider/httpapi"

	"github.com/shopspring/decimal"
)

// Compile-time checks for every capability the brokerage offers.
var (
	_ provider.Adapter   = (*Adapter)(nil)
	_ provider.Registrar = (*Adapter)(nil)
	_ provider.Trader    = (*Adapter)(nil)
)

var errorCodes = map[string]provider.Kind{
	"USER_NOT_REGISTERED":    provider.KindNotRegistered,
	"INVALID_USER_SECRET":    provider.KindAuthExpired,
	"CONNECTION_DISABLED":    provider.KindAuthExpired,
	"BROKERAGE_AUTH_EXPIRED": provider.KindAuthExpired,
	"RATE_LIMITED":           provider.KindRateLimited,
	"BROKERAGE_UNAVAILABLE":  provider.KindTransient,
}

type Adapter struct {
	client      *httpapi.Client
	clientId    string
	consumerKey string
	now         func() time.Time
}

func NewAdapter(cfg models.BrokerageConfig, opts ...httpapi.Option) (*Adapter, error) {
	opts = append([]httpapi.Option{httpapi.WithErrorCodes(errorCodes)}, opts...)
	client, err := httpapi.New(models.ProviderBrokerage, cfg.BaseURL, cfg.Timeout, opts...)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		client:      client,
		clientId:    cfg.ClientId,
		consumerKey: cfg.ConsumerKey,
		now:         time.Now,
	}, nil
}

func (a *Adapter) Kind() models.Provider { return models.ProviderBrokerage }

func (a *Adapter) appHeader() http.Header {
	h := http.Header{}
	h.Set("X-Client-Id", a.clientId)
	h.Set("X-Consumer-Key", a.consumerKey)
	return h
}

// userCall performs a request on behalf of the credential's owner.
func (a *Adapter) userCall(ctx context.Context, cred provider.Credential, r httpapi.Request, out any) error {
	if cred == nil || cred.ProviderUserId == "" || cred.Secret == "" {
		return &provider.Error{Kind: provider.KindNotRegistered, Provider: models.ProviderBrokerage, Op: r.Op, Message: "user is not registered with the brokerage"}
	}
	if r.Query == nil {
		r.Query = url.Values{}
	}
	r.Query.Set("userId", cred.ProviderUserId)
	r.Query.Set("userSecret", cred.Secret)
	h := a.appHeader()
	for k, v := range r.Header {
		h[k] = v
	}
	r.Header = h
	return a.client.Do(ctx, r, out)
}

func accountPath(accountId string, suffix string) string {
	return "/accounts/" + url.PathEscape(accountId) + suffix
}

func (a *Adapter) ListAuthorizations(ctx context.Context, cred provider.Credential) ([]models.Authorization, error) {
	var auths []authorization
	if err := a.userCall(ctx, cred, httpapi.Request{Op: "list_authorizations", Method: http.MethodGet, Path: "/authorizations"}, &auths); err != nil {
		return nil, err
	}
	out := make([]models.Authorization, 0, len(auths))
	for _, auth := range auths {
		out = append(out, models.Authorization{
			Id:              auth.Id,
			InstitutionName: auth.Brokerage.Name,
			Disabled:        auth.Disabled,
			UpdatedAt:       auth.UpdatedDate,
		})
	}
	return out, nil
}

func (a *Adapter) ListAccounts(ctx context.Context, cred provider.Credential) ([]models.ProviderAccount, error) {
	var accounts []account
	if err := a.userCall(ctx, cred, httpapi.Request{Op: "list_accounts", Method: http.MethodGet, Path: "/accounts"}, &accounts); err != nil {
		return nil, err
	}
	out := make([]models.ProviderAccount, 0, len(accounts))
	for _, acct := range accounts {
		out = append(out, acct.toModel(a.now()))
	}
	return out, nil
}

func (a *Adapter) FetchDetails(ctx context.Context, cred provider.Credential, accountId string) (*models.ProviderAccount, error) {
	var acct account
	if err := a.userCall(ctx, cred, httpapi.Request{Op: "get_account", Method: http.MethodGet, Path: accountPath(accountId, "")}, &acct); err != nil {
		return nil, err
	}
	details := acct.toModel(a.now())
	return &details, nil
}

func (a *Adapter) FetchBalances(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderBalance, error) {
	var raw []balance
	if err := a.userCall(ctx, cred, httpapi.Request{Op: "get_balances", Method: http.MethodGet, Path: accountPath(accountId, "/balances")}, &raw); err != nil {
		return nil, err
	}
	now := a.now().UTC()
	out := make([]models.ProviderBalance, 0, len(raw))
	for _, b := range raw {
		out = append(out, models.ProviderBalance{
			AccountId:   accountId,
			Currency:    strings.ToUpper(b.Currency.Code),
			Cash:        b.Cash.Decimal,
			BuyingPower: b.BuyingPower.Decimal,
			SyncedAt:    now,
		})
	}
	return out, nil
}

func (a *Adapter) FetchPositions(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderPosition, error) {
	var raw []position
	if err := a.userCall(ctx, cred, httpapi.Request{Op: "get_positions", Method: http.MethodGet, Path: accountPath(accountId, "/positions")}, &raw); err != nil {
		return nil, err
	}
	now := a.now().UTC()
	out := make([]models.ProviderPosition, 0, len(raw))
	for _, p := range raw {
		id := p.Symbol.Id
		if id == "" {
			id = p.Symbol.Symbol
		}
		out = append(out, models.ProviderPosition{
			AccountId:   accountId,
			PositionId:  id,
			Symbol:      p.Symbol.Symbol,
			Description: p.Symbol.Description,
			Units:       p.Units.Decimal,
			Price:       p.Price.Decimal,
			AverageCost: p.AveragePurchasePrice.Decimal,
			Currency:    strings.ToUpper(p.Currency.Code),
			SyncedAt:    now,
		})
	}
	return out, nil
}

func (a *Adapter) FetchOrders(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderOrder, error) {
	var raw []order
	req := httpapi.Request{
		Op:     "get_orders",
		Method: http.MethodGet,
		Path:   accountPath(accountId, "/orders"),
		Query:  url.Values{"state": {"all"}},
	}
	if err := a.userCall(ctx, cred, req, &raw); err != nil {
		return nil, err
	}
	out := make([]models.ProviderOrder, 0, len(raw))
	for _, o := range raw {
		out = append(out, o.toModel(accountId))
	}
	return out, nil
}

func (a *Adapter) FetchActivities(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderActivity, error) {
	var raw []activity
	if err := a.userCall(ctx, cred, httpapi.Request{Op: "get_activities", Method: http.MethodGet, Path: accountPath(accountId, "/activities")}, &raw); err != nil {
		return nil, err
	}
	out := make([]models.ProviderActivity, 0, len(raw))
	for _, act := range raw {
		symbol := ""
		if act.Symbol != nil {
			symbol = act.Symbol.Symbol
		}
		out = append(out, models.ProviderActivity{
			AccountId:   accountId,
			ActivityId:  act.Id,
			Type:        strings.ToUpper(act.Type),
			Symbol:      symbol,
			Description: act.Description,
			Amount:      act.Amount.Decimal,
			Units:       act.Units.Decimal,
			Price:       act.Price.Decimal,
			Currency:    strings.ToUpper(act.Currency.Code),
			OccurredAt:  act.TradeDate,
		})
	}
	return out, nil
}

func (a *Adapter) RemoveAuthorization(ctx context.Context, cred provider.Credential, authorizationId string) error {
	if authorizationId == "" {
		return fmt.Errorf("authorization id is required")
	}
	return a.userCall(ctx, cred, httpapi.Request{
		Op:      "remove_authorization",
		Method:  http.MethodDelete,
		Path:    "/authorizations/" + url.PathEscape(authorizationId),
		Removal: true,
	}, nil)
}

// DeleteUser removes the brokerage registration of the credential's owner.
func (a *Adapter) DeleteUser(ctx context.Context, cred provider.Credential) error {
	if cred == nil || cred.ProviderUserId == "" {
		return nil
	}
	return a.client.Do(ctx, httpapi.Request{
		Op:      "delete_user",
		Method:  http.MethodDelete,
		Path:    "/users",
		Query:   url.Values{"userId": {cred.ProviderUserId}},
		Header:  a.appHeader(),
		Removal: true,
	}, nil)
}

// RegisterUser registers userId with the brokerage and returns the issued credential.
func (a *Adapter) RegisterUser(ctx context.Context, userId string) (*models.ProviderCredential, error) {
	var resp registerResponse
	err := a.client.Do(ctx, httpapi.Request{
		Op:     "register_user",
		Method: http.MethodPost,
		Path:   "/users",
		Header: a.appHeader(),
		Body:   map[string]string{"userId": userId},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.UserSecret == "" {
		return nil, &provider.Error{Kind: provider.KindUnknown, Provider: models.ProviderBrokerage, Op: "register_user", Message: "registration returned no secret"}
	}
	providerUserId := resp.UserId
	if providerUserId == "" {
		providerUserId = userId
	}
	return &models.ProviderCredential{
		UserId:         userId,
		Provider:       models.ProviderBrokerage,
		ProviderUserId: providerUserId,
		Secret:         resp.UserSecret,
	}, nil
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
