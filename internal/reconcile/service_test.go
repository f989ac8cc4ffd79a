package reconcile

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"unified-portfolio-go/internal/database"
	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"
	"unified-portfolio-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type fakeBrokerage struct {
	auths       []models.Authorization
	accounts    []models.ProviderAccount
	listErr     error
	removed     map[string]int
	removeErr   error
	deleteCalls int
	deleteErr   error
	secret      string
}

func newFakeBrokerage() *fakeBrokerage {
	balance := decimal.NewFromInt(1000)
	return &fakeBrokerage{
		auths: []models.Authorization{
			{Id: "auth-1", InstitutionName: "Alpaca"},
			{Id: "auth-2", InstitutionName: "Questrade"},
		},
		accounts: []models.ProviderAccount{
			{AccountId: "acct-1", Provider: models.ProviderBrokerage, ConnectionId: "auth-1", Name: "Individual", Currency: "USD", Balance: &balance},
			{AccountId: "acct-2", Provider: models.ProviderBrokerage, ConnectionId: "auth-2", Name: "TFSA", Currency: "CAD"},
		},
		removed: map[string]int{},
		secret:  "secret-1",
	}
}

func (f *fakeBrokerage) Kind() models.Provider { return models.ProviderBrokerage }

func (f *fakeBrokerage) ListAuthorizations(ctx context.Context, cred provider.Credential) ([]models.Authorization, error) {
	if cred == nil {
		return nil, provider.NewError(provider.KindNotRegistered, "not registered")
	}
	return f.auths, f.listErr
}

func (f *fakeBrokerage) ListAccounts(ctx context.Context, cred provider.Credential) ([]models.ProviderAccount, error) {
	return f.accounts, nil
}

func (f *fakeBrokerage) FetchDetails(ctx context.Context, cred provider.Credential, accountId string) (*models.ProviderAccount, error) {
	return nil, errors.New("not used")
}

func (f *fakeBrokerage) FetchBalances(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderBalance, error) {
	return nil, errors.New("not used")
}

func (f *fakeBrokerage) FetchPositions(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderPosition, error) {
	return nil, errors.New("not used")
}

func (f *fakeBrokerage) FetchOrders(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderOrder, error) {
	return nil, errors.New("not used")
}

func (f *fakeBrokerage) FetchActivities(ctx context.Context, cred provider.Credential, accountId string) ([]models.ProviderActivity, error) {
	return nil, errors.New("not used")
}

// RemoveAuthorization reports already-gone after the first successful removal.
func (f *fakeBrokerage) RemoveAuthorization(ctx context.Context, cred provider.Credential, authorizationId string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed[authorizationId]++
	if f.removed[authorizationId] > 1 {
		return &provider.Error{Kind: provider.KindAlreadyGone, Status: http.StatusNotFound}
	}
	return nil
}

func (f *fakeBrokerage) DeleteUser(ctx context.Context, cred provider.Credential) error {
	f.deleteCalls++
	return f.deleteErr
}

func (f *fakeBrokerage) RegisterUser(ctx context.Context, userId string) (*models.ProviderCredential, error) {
	return &models.ProviderCredential{ProviderUserId: "snap-" + userId, Secret: f.secret}, nil
}

func setupTest(t *testing.T) (*Service, *database.Service, *fakeBrokerage) {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewService(ctx, models.DatabaseConfig{Path: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1, PingTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	fake := newFakeBrokerage()
	svc := NewService(db, provider.NewRegistry(fake), 0)
	svc.now = func() time.Time { return testNow }
	return svc, db, fake
}

func registerAndSync(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.Register(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)
	_, err = svc.ForceSync(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)
}

func TestCheckSyncDetectsUpstreamRemoval(t *testing.T) {
	svc, db, fake := setupTest(t)
	ctx := context.Background()
	registerAndSync(t, svc)

	// auth-2 silently disappears upstream
	fake.auths = fake.auths[:1]

	report, err := svc.CheckSync(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)
	assert.Equal(t, 1, report.InDatabaseOnly.Count)
	assert.Equal(t, 0, report.InProviderOnly.Count)
	assert.Equal(t, 1, report.Synced.Count)
	assert.Equal(t, "auth-2", report.InDatabaseOnly.Accounts[0].AccountId)

	// diagnostics never write
	conns, err := db.ListConnections(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)
	assert.Len(t, conns, 2)
}

func TestCheckSyncRequiresRegistration(t *testing.T) {
	svc, _, _ := setupTest(t)

	_, err := svc.CheckSync(context.Background(), "user1", models.ProviderBrokerage)
	assert.Equal(t, provider.KindNotRegistered, provider.KindOf(err))
}

func TestForceSyncNeverRemovesLocalRows(t *testing.T) {
	svc, db, _ := setupTest(t)
	ctx := context.Background()

	_, err := db.UpsertConnection(ctx, models.ProviderConnection{UserId: "user1", Provider: models.ProviderBrokerage, AuthorizationId: "auth-old", InstitutionName: "Robinhood"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)

	result, err := svc.ForceSync(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ConnectionsCreated)
	assert.Equal(t, 2, result.AccountsCreated)
	assert.Empty(t, result.Errors)

	conns, err := db.ListConnections(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, c := range conns {
		ids[c.AuthorizationId] = true
	}
	assert.Equal(t, map[string]bool{"auth-old": true, "auth-1": true, "auth-2": true}, ids)

	again, err := svc.ForceSync(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)
	assert.Equal(t, 0, again.ConnectionsCreated)
	assert.Equal(t, 2, again.ConnectionsUpdated)
	assert.Equal(t, 2, again.AccountsUpdated)
}

func TestForceSyncKeepsLastKnownBalance(t *testing.T) {
	svc, db, _ := setupTest(t)
	ctx := context.Background()
	registerAndSync(t, svc)

	require.NoError(t, db.UpdateAccountBalance(ctx, "user1", models.ProviderBrokerage, "acct-2", decimal.NewFromInt(42), testNow))
	_, err := svc.ForceSync(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)

	acct, err := db.FindConnectedAccount(ctx, "user1", models.ProviderBrokerage, "acct-2")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(42)))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	svc, db, fake := setupTest(t)
	ctx := context.Background()
	registerAndSync(t, svc)

	result, err := svc.Disconnect(ctx, "user1", "acct-1", models.ProviderBrokerage)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.AccountsRemoved)
	assert.False(t, result.CredentialsDeleted)
	assert.Equal(t, 0, fake.deleteCalls)

	// the local row is gone, a retry cannot remove it again
	_, err = svc.Disconnect(ctx, "user1", "acct-1", models.ProviderBrokerage)
	assert.True(t, errors.Is(err, store.ErrAccountNotFound))

	// upstream already revoked: still succeeds
	_, err = db.UpsertConnectedAccount(ctx, models.ConnectedAccount{UserId: "user1", Provider: models.ProviderBrokerage, ExternalAccountId: "acct-1", ConnectionId: "auth-1"})
	require.NoError(t, err)
	result, err = svc.Disconnect(ctx, "user1", "acct-1", models.ProviderBrokerage)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.AccountsRemoved)
	assert.Equal(t, 2, fake.removed["auth-1"])

	count, err := db.CountActiveAccounts(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDisconnectLastAccountDeletesCredential(t *testing.T) {
	svc, db, fake := setupTest(t)
	ctx := context.Background()
	registerAndSync(t, svc)
	fake.deleteErr = &provider.Error{Kind: provider.KindAlreadyGone, Status: http.StatusNotFound}

	_, err := svc.Disconnect(ctx, "user1", "acct-1", models.ProviderBrokerage)
	require.NoError(t, err)
	result, err := svc.Disconnect(ctx, "user1", "acct-2", models.ProviderBrokerage)
	require.NoError(t, err)
	assert.True(t, result.CredentialsDeleted)
	assert.Equal(t, 1, fake.deleteCalls)

	_, err = db.GetCredential(ctx, "user1", models.ProviderBrokerage)
	assert.True(t, errors.Is(err, store.ErrCredentialNotFound))
	conns, err := db.ListConnections(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestDisconnectKeepsAccountsWhenRevokeFails(t *testing.T) {
	svc, db, fake := setupTest(t)
	ctx := context.Background()
	registerAndSync(t, svc)
	fake.removeErr = &provider.Error{Kind: provider.KindAuthExpired, Status: http.StatusUnauthorized}

	_, err := svc.Disconnect(ctx, "user1", "acct-1", models.ProviderBrokerage)
	assert.Equal(t, provider.KindAuthExpired, provider.KindOf(err))

	acct, err := db.FindConnectedAccount(ctx, "user1", models.ProviderBrokerage, "acct-1")
	require.NoError(t, err)
	assert.True(t, acct.Active)
}

func TestRegisterRotatesCredential(t *testing.T) {
	svc, db, fake := setupTest(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)
	fake.secret = "secret-2"
	_, err = svc.Register(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)

	cred, err := db.GetCredential(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)
	assert.Equal(t, "secret-2", cred.Secret)
	assert.Equal(t, "snap-user1", cred.ProviderUserId)
}

func TestCleanupProvider(t *testing.T) {
	svc, db, _ := setupTest(t)
	ctx := context.Background()
	registerAndSync(t, svc)

	result, err := svc.CleanupProvider(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Connections)
	assert.Equal(t, int64(2), result.ConnectedAccounts)

	count, err := db.CountActiveAccounts(ctx, "user1", models.ProviderBrokerage)
	require.NoError(t, err)
	assert.Zero(t, count)
}
