package brokerage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"
	"unified-portfolio-go/internal/provider/httpapi"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCred = &models.ProviderCredential{
	UserId:         "user1",
	Provider:       models.ProviderBrokerage,
	ProviderUserId: "snap-user1",
	Secret:         "secret-1",
}

func newTestAdapter(t *testing.T, mux *http.ServeMux) *Adapter {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a, err := NewAdapter(models.BrokerageConfig{BaseURL: srv.URL, ClientId: "client", ConsumerKey: "key", Timeout: time.Second},
		httpapi.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return a
}

func assertUserAuth(t *testing.T, r *http.Request) {
	t.Helper()
	assert.Equal(t, "snap-user1", r.URL.Query().Get("userId"))
	assert.Equal(t, "secret-1", r.URL.Query().Get("userSecret"))
	assert.Equal(t, "client", r.Header.Get("X-Client-Id"))
}

func TestListAccountsAndDetails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/acct-1", func(w http.ResponseWriter, r *http.Request) {
		assertUserAuth(t, r)
		_, _ = w.Write([]byte(`{"id":"acct-1","brokerage_authorization":"auth-1","name":"Individual",
			"number":"12345678","institution_name":"Questrade","meta":{"type":"TFSA"},
			"balance":{"total":{"amount":2500.75,"currency":"cad"}}}`))
	})
	a := newTestAdapter(t, mux)

	details, err := a.FetchDetails(context.Background(), testCred, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "auth-1", details.ConnectionId)
	assert.Equal(t, "****5678", details.MaskedNumber)
	assert.Equal(t, "CAD", details.Currency)
	assert.Equal(t, "TFSA", details.Subtype)
	require.NotNil(t, details.Balance)
	assert.True(t, details.Balance.Equal(decimal.RequireFromString("2500.75")))
}

func TestFetchOrdersMapsFields(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/acct-1/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		_, _ = w.Write([]byte(`[{"brokerage_order_id":"o-1","status":"executed","universal_symbol":{"symbol":"AAPL"},
			"action":"buy","order_type":"Limit","time_in_force":"Day","total_quantity":"10","filled_quantity":"10",
			"limit_price":"187.50","execution_price":"187.10","time_placed":"2025-03-14T14:00:00Z"}]`))
	})
	a := newTestAdapter(t, mux)

	orders, err := a.FetchOrders(context.Background(), testCred, "acct-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, "o-1", o.OrderId)
	assert.Equal(t, "EXECUTED", o.Status)
	assert.Equal(t, models.SideBuy, o.Side)
	assert.Equal(t, models.OrderTypeLimit, o.OrderType)
	require.NotNil(t, o.LimitPrice)
	assert.True(t, o.LimitPrice.Equal(decimal.RequireFromString("187.5")))
	assert.Equal(t, o.PlacedAt, o.UpdatedAt)
}

func TestPlaceTradeSendsIdempotencyKey(t *testing.T) {
	seen := map[string]int{}
	mux := http.NewServeMux()
	mux.HandleFunc("/trade/trade-1", func(w http.ResponseWriter, r *http.Request) {
		assertUserAuth(t, r)
		key := r.Header.Get("Idempotency-Key")
		assert.NotEmpty(t, key)
		seen[key]++
		_, _ = w.Write([]byte(`{"brokerage_order_id":"o-9","status":"PENDING","universal_symbol":{"symbol":"VTI"},
			"action":"BUY","order_type":"Market","total_quantity":"3"}`))
	})
	a := newTestAdapter(t, mux)

	o, err := a.PlaceTrade(context.Background(), testCred, "trade-1", "key-123")
	require.NoError(t, err)
	assert.Equal(t, "o-9", o.OrderId)
	assert.False(t, o.PlacedAt.IsZero())
	assert.Equal(t, 1, seen["key-123"])
}

func TestPreviewOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/trade/impact", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sym-vti", body["universal_symbol_id"])
		assert.Equal(t, "BUY", body["action"])
		_, _ = w.Write([]byte(`{"trade":{"id":"trade-1","units":"3","price":"250"},
			"trade_impacts":[{"estimated_commission":"1.00","forex_fees":"0.50","remaining_cash":"248.50","currency":{"code":"USD"}}]}`))
	})
	a := newTestAdapter(t, mux)

	impact, err := a.PreviewOrder(context.Background(), testCred, models.OrderRequest{
		AccountId: "acct-1", Symbol: "VTI", Side: models.SideBuy, OrderType: models.OrderTypeMarket,
		TimeInForce: models.TimeInForceDay, Quantity: decimal.NewFromInt(3),
	}, models.Instrument{Id: "sym-vti", Symbol: "VTI", Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, "trade-1", impact.TradeId)
	assert.True(t, impact.EstimatedCost.Equal(decimal.NewFromInt(750)))
	assert.True(t, impact.EstimatedFees.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, impact.RemainingBalance.Equal(decimal.RequireFromString("248.5")))
}

func TestPreviewWithoutTradeId(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/trade/impact", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"trade":{"units":"3","price":"250"},"trade_impacts":[]}`))
	})
	a := newTestAdapter(t, mux)

	_, err := a.PreviewOrder(context.Background(), testCred, models.OrderRequest{
		AccountId: "acct-1", Symbol: "VTI", Side: models.SideBuy, OrderType: models.OrderTypeMarket,
		TimeInForce: models.TimeInForceDay, Quantity: decimal.NewFromInt(3),
	}, models.Instrument{Id: "sym-vti", Symbol: "VTI", Currency: "USD"})
	assert.Equal(t, provider.KindUnknown, provider.KindOf(err))
}

func TestResolveInstrument(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/acct-1/symbols", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"sym-vtip","symbol":"VTIP"},{"id":"sym-vti","symbol":"VTI","currency":{"code":"usd"}}]`))
	})
	a := newTestAdapter(t, mux)

	inst, err := a.ResolveInstrument(context.Background(), testCred, "acct-1", "vti")
	require.NoError(t, err)
	assert.Equal(t, "sym-vti", inst.Id)
	assert.Equal(t, "USD", inst.Currency)

	_, err = a.ResolveInstrument(context.Background(), testCred, "acct-1", "ZZZZ")
	assert.Equal(t, provider.KindValidation, provider.KindOf(err))
}

func TestRegisterAndDeleteUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_, _ = w.Write([]byte(`{"userId":"snap-user1","userSecret":"fresh-secret"}`))
		case http.MethodDelete:
			assert.Equal(t, "snap-user1", r.URL.Query().Get("userId"))
			w.WriteHeader(http.StatusNotFound)
		}
	})
	a := newTestAdapter(t, mux)

	cred, err := a.RegisterUser(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-secret", cred.Secret)
	assert.Equal(t, models.ProviderBrokerage, cred.Provider)

	err = a.DeleteUser(context.Background(), cred)
	assert.True(t, provider.IsAlreadyGone(err))
}

func TestNotRegisteredWithoutCredential(t *testing.T) {
	a := newTestAdapter(t, http.NewServeMux())
	_, err := a.ListAuthorizations(context.Background(), nil)
	assert.Equal(t, provider.KindNotRegistered, provider.KindOf(err))
}

func TestProviderCodeClassification(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/authorizations", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"USER_NOT_REGISTERED","detail":"unknown user"}`))
	})
	a := newTestAdapter(t, mux)

	_, err := a.ListAuthorizations(context.Background(), testCred)
	assert.Equal(t, provider.KindNotRegistered, provider.KindOf(err))
}
