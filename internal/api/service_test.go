package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"
	"unified-portfolio-go/internal/store"
	"unified-portfolio-go/internal/trading"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts struct {
	viewErr      error
	lastProvider models.Provider
	lastUser     string
}

func (f *fakeAccounts) ListPortfolio(ctx context.Context, userId string) (*models.Portfolio, error) {
	f.lastUser = userId
	return &models.Portfolio{UserId: userId}, nil
}

func (f *fakeAccounts) GetAccountView(ctx context.Context, userId string, p models.Provider, accountId string) (*models.AccountView, error) {
	f.lastUser = userId
	f.lastProvider = p
	if f.viewErr != nil {
		return nil, f.viewErr
	}
	return &models.AccountView{AccountId: accountId, Provider: p}, nil
}

type fakeConnections struct {
	disconnectErr error
	cleanedUser   string
}

func (f *fakeConnections) CheckSync(ctx context.Context, userId string, p models.Provider) (*models.SyncReport, error) {
	return &models.SyncReport{UserId: userId, Provider: p.String(), InDatabaseOnly: models.SyncSet{Count: 1}}, nil
}

func (f *fakeConnections) ForceSync(ctx context.Context, userId string, p models.Provider) (*models.SyncResult, error) {
	return &models.SyncResult{ConnectionsCreated: 1}, nil
}

func (f *fakeConnections) Register(ctx context.Context, userId string, p models.Provider) (*models.ProviderCredential, error) {
	return &models.ProviderCredential{UserId: userId, Provider: p, ProviderUserId: "pu-1", Secret: "s3cret"}, nil
}

func (f *fakeConnections) Disconnect(ctx context.Context, userId, accountId string, p models.Provider) (*models.DisconnectResult, error) {
	if f.disconnectErr != nil {
		return nil, f.disconnectErr
	}
	return &models.DisconnectResult{AccountsRemoved: 1}, nil
}

func (f *fakeConnections) CleanupProvider(ctx context.Context, userId string, p models.Provider) (*models.CleanupResult, error) {
	f.cleanedUser = userId
	return &models.CleanupResult{Connections: 2}, nil
}

type fakeTrades struct {
	placeErr   error
	lastPlace  models.OrderRequest
	lastCancel string
	dedup      bool
}

func (f *fakeTrades) Preview(ctx context.Context, req models.OrderRequest) (*models.TradePreview, error) {
	return &models.TradePreview{TradeId: "trade-1", AccountId: req.AccountId}, nil
}

func (f *fakeTrades) Place(ctx context.Context, req models.OrderRequest) (*trading.OrderResult, error) {
	f.lastPlace = req
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return &trading.OrderResult{
		Order:          &models.ProviderOrder{OrderId: "o-1", AccountId: req.AccountId},
		State:          trading.StatePlaced,
		IdempotencyKey: req.IdempotencyKey,
		Deduplicated:   f.dedup,
	}, nil
}

func (f *fakeTrades) Cancel(ctx context.Context, userId, accountId, orderId string) (*trading.OrderResult, error) {
	f.lastCancel = accountId + "/" + orderId
	return &trading.OrderResult{Order: &models.ProviderOrder{OrderId: orderId}, State: trading.StateCancelled}, nil
}

func (f *fakeTrades) Replace(ctx context.Context, req models.ReplaceRequest) (*trading.ReplaceResult, error) {
	return &trading.ReplaceResult{
		Replaced: &models.ProviderOrder{OrderId: req.OrderId},
		Order:    &models.ProviderOrder{OrderId: "o-2"},
		State:    trading.StatePlaced,
	}, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) Ping(ctx context.Context) error { return f.err }

type testServer struct {
	accounts    *fakeAccounts
	connections *fakeConnections
	trades      *fakeTrades
	handler     http.Handler
}

func newTestServer() *testServer {
	ts := &testServer{accounts: &fakeAccounts{}, connections: &fakeConnections{}, trades: &fakeTrades{}}
	srv := NewServer(ts.accounts, ts.connections, ts.trades, fakeHealth{})
	srv.now = func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC) }
	ts.handler = srv.Router()
	return ts
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-User-Id", "user1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestMissingUserIdIsUnauthorized(t *testing.T) {
	ts := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	resp := decodeError(t, rec)
	assert.Equal(t, "UNAUTHENTICATED", resp.Error)
	assert.Equal(t, rec.Header().Get("X-Request-Id"), resp.RequestId)
}

func TestHealthNeedsNoIdentity(t *testing.T) {
	ts := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2025-03-14T09:30:00Z")
}

func TestRequestIdIsEchoed(t *testing.T) {
	ts := newTestServer()
	rec := ts.do(http.MethodGet, "/api/accounts", "", map[string]string{"X-Request-Id": "req-42"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "user1", ts.accounts.lastUser)
}

func TestAccountViewProviderParam(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/api/accounts/acct-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ProviderBrokerage, ts.accounts.lastProvider)

	rec = ts.do(http.MethodGet, "/api/accounts/acct-1?provider=Wallet", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ProviderWallet, ts.accounts.lastProvider)

	rec = ts.do(http.MethodGet, "/api/accounts/acct-1?provider=crypto", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorKindStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", provider.NewError(provider.KindValidation, "bad"), http.StatusBadRequest, "VALIDATION"},
		{"not registered", provider.NewError(provider.KindNotRegistered, "register first"), http.StatusPreconditionRequired, "NOT_REGISTERED"},
		{"auth expired", provider.NewError(provider.KindAuthExpired, "reconnect"), http.StatusUnauthorized, "AUTH_EXPIRED"},
		{"transient", provider.NewError(provider.KindTransient, "try later"), http.StatusServiceUnavailable, "TRANSIENT"},
		{"already gone", provider.NewError(provider.KindAlreadyGone, "gone"), http.StatusNotFound, "NOT_FOUND"},
		{"not found", store.ErrAccountNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"upstream read not found", &provider.Error{Kind: provider.KindUnknown, Status: http.StatusNotFound}, http.StatusNotFound, "NOT_FOUND"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer()
			ts.accounts.viewErr = tt.err
			rec := ts.do(http.MethodGet, "/api/accounts/acct-1", "", nil)

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Error)
			assert.NotEmpty(t, resp.RequestId)
			assert.Equal(t, tt.code == "AUTH_EXPIRED", resp.Reconnect)
		})
	}
}

func TestRateLimitedSetsRetryAfter(t *testing.T) {
	ts := newTestServer()
	ts.trades.placeErr = &provider.Error{Kind: provider.KindRateLimited, Status: 429, RetryAfter: 1500 * time.Millisecond}

	rec := ts.do(http.MethodPost, "/api/trades", `{"accountId":"acct-1","symbol":"VTI","side":"BUY","orderType":"MARKET","quantity":"1"}`, nil)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestPlaceIdempotencyKeySources(t *testing.T) {
	ts := newTestServer()
	body := `{"accountId":"acct-1","symbol":"VTI","side":"BUY","orderType":"MARKET","quantity":"2.5","idempotencyKey":"body-key"}`

	rec := ts.do(http.MethodPost, "/api/trades", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "body-key", ts.trades.lastPlace.IdempotencyKey)
	assert.Equal(t, "user1", ts.trades.lastPlace.UserId)
	assert.True(t, decimal.NewFromFloat(2.5).Equal(ts.trades.lastPlace.Quantity))

	ts.trades.dedup = true
	rec = ts.do(http.MethodPost, "/api/trades", body, map[string]string{"Idempotency-Key": "header-key"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "header-key", ts.trades.lastPlace.IdempotencyKey)
	assert.Equal(t, "header-key", rec.Header().Get("Idempotency-Key"))
}

func TestPlaceInFlightIsConflict(t *testing.T) {
	ts := newTestServer()
	ts.trades.placeErr = store.ErrSubmissionInFlight

	rec := ts.do(http.MethodPost, "/api/trades", `{"tradeId":"trade-1","accountId":"acct-1"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestValidationViolationsAreListed(t *testing.T) {
	ts := newTestServer()
	verr := &trading.ValidationError{Violations: []string{"symbol is required", "quantity must be > 0"}}
	ts.trades.placeErr = &provider.Error{Kind: provider.KindValidation, Message: verr.Error(), Err: verr}

	rec := ts.do(http.MethodPost, "/api/trades", `{"accountId":"acct-1"}`, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"symbol is required", "quantity must be > 0"}, decodeError(t, rec).Violations)
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	ts := newTestServer()
	rec := ts.do(http.MethodPost, "/api/trades/preview", `{"accountId":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelRequiresAccount(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPost, "/api/trades/o-1/cancel", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/trades/o-1/cancel", `{"accountId":"acct-1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acct-1/o-1", ts.trades.lastCancel)
}

func TestDisconnectRequiresProvider(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPost, "/api/accounts/acct-1/disconnect", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/accounts/acct-1/disconnect?provider=brokerage", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.connections.disconnectErr = store.ErrAccountNotFound
	rec = ts.do(http.MethodPost, "/api/accounts/acct-1/disconnect?provider=brokerage", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterHidesSecret(t *testing.T) {
	ts := newTestServer()
	rec := ts.do(http.MethodPost, "/api/connections/register", "", nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "pu-1")
	assert.NotContains(t, rec.Body.String(), "s3cret")
}

func TestSyncRoutes(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/api/connections/sync", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report models.SyncReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.InDatabaseOnly.Count)

	rec = ts.do(http.MethodPost, "/api/connections/sync", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCleanupProviderRoute(t *testing.T) {
	ts := newTestServer()
	rec := ts.do(http.MethodDelete, "/api/admin/users/user7/brokerage", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user7", ts.connections.cleanedUser)
}
