// Package reconcile compares the locally mirrored provider connections with the
// providers' authoritative lists, converges drift and tears connections down.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"
	"unified-portfolio-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Service struct {
	store     store.Store
	providers *provider.Registry
	retries   int
	now       func() time.Time
}

func NewService(st store.Store, providers *provider.Registry, retries int) *Service {
	if retries < 0 {
		retries = 0
	}
	return &Service{store: st, providers: providers, retries: retries, now: time.Now}
}

// credential returns the user's stored credential, or nil when there is none.
// Adapters that need one report NOT_REGISTERED themselves.
func (s *Service) credential(ctx context.Context, userId string, p models.Provider) (provider.Credential, error) {
	cred, err := s.store.GetCredential(ctx, userId, p)
	if errors.Is(err, store.ErrCredentialNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credential: %w", err)
	}
	return cred, nil
}

func (s *Service) listAuthorizations(ctx context.Context, adapter provider.Adapter, cred provider.Credential) ([]models.Authorization, error) {
	var auths []models.Authorization
	err := provider.Retry(ctx, "list_authorizations", s.retries, func(ctx context.Context) error {
		var err error
		auths, err = adapter.ListAuthorizations(ctx, cred)
		return err
	})
	if err != nil {
		return nil, provider.Normalize(adapter.Kind(), "list_authorizations", err)
	}
	return auths, nil
}

// CheckSync reports which authorizations exist only upstream, only locally, or
// in both. It never writes.
func (s *Service) CheckSync(ctx context.Context, userId string, p models.Provider) (*models.SyncReport, error) {
	adapter, err := s.providers.Get(p)
	if err != nil {
		return nil, err
	}
	cred, err := s.credential(ctx, userId, p)
	if err != nil {
		return nil, err
	}

	upstream, err := s.listAuthorizations(ctx, adapter, cred)
	if err != nil {
		return nil, err
	}
	local, err := s.store.ListConnections(ctx, userId, p)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	localById := make(map[string]models.ProviderConnection, len(local))
	for _, conn := range local {
		localById[conn.AuthorizationId] = conn
	}
	upstreamIds := make(map[string]bool, len(upstream))

	report := &models.SyncReport{
		UserId:         userId,
		Provider:       string(p),
		InProviderOnly: models.SyncSet{Accounts: []models.SyncEntry{}},
		InDatabaseOnly: models.SyncSet{Accounts: []models.SyncEntry{}},
		Synced:         models.SyncSet{Accounts: []models.SyncEntry{}},
	}
	for _, auth := range upstream {
		upstreamIds[auth.Id] = true
		entry := models.SyncEntry{AccountId: auth.Id, Name: auth.InstitutionName, InstitutionName: auth.InstitutionName}
		if _, ok := localById[auth.Id]; ok {
			addEntry(&report.Synced, entry)
		} else {
			addEntry(&report.InProviderOnly, entry)
		}
	}
	for _, conn := range local {
		if !upstreamIds[conn.AuthorizationId] {
			addEntry(&report.InDatabaseOnly, models.SyncEntry{AccountId: conn.AuthorizationId, Name: conn.InstitutionName, InstitutionName: conn.InstitutionName})
		}
	}

	sortEntries(&report.InProviderOnly, &report.InDatabaseOnly, &report.Synced)

	zap.L().Info("Sync check completed",
		zap.String("user_id", userId),
		zap.String("provider", string(p)),
		zap.Int("in_provider_only", report.InProviderOnly.Count),
		zap.Int("in_database_only", report.InDatabaseOnly.Count),
		zap.Int("synced", report.Synced.Count))
	return report, nil
}

// ForceSync upserts every upstream authorization and account into the local
// store. Local-only rows are left in place.
func (s *Service) ForceSync(ctx context.Context, userId string, p models.Provider) (*models.SyncResult, error) {
	adapter, err := s.providers.Get(p)
	if err != nil {
		return nil, err
	}
	cred, err := s.credential(ctx, userId, p)
	if err != nil {
		return nil, err
	}

	auths, err := s.listAuthorizations(ctx, adapter, cred)
	if err != nil {
		return nil, err
	}

	result := &models.SyncResult{Errors: []models.SyncError{}}
	disabled := map[string]bool{}
	for _, auth := range auths {
		disabled[auth.Id] = auth.Disabled
		res, err := s.store.UpsertConnection(ctx, models.ProviderConnection{
			UserId:          userId,
			Provider:        p,
			AuthorizationId: auth.Id,
			InstitutionName: auth.InstitutionName,
			Disabled:        auth.Disabled,
			RefreshedAt:     s.now().UTC(),
		})
		if err != nil {
			result.Errors = append(result.Errors, models.SyncError{Id: auth.Id, Message: err.Error()})
			continue
		}
		if res.Created {
			result.ConnectionsCreated++
		} else {
			result.ConnectionsUpdated++
		}
	}

	var accounts []models.ProviderAccount
	err = provider.Retry(ctx, "list_accounts", s.retries, func(ctx context.Context) error {
		var err error
		accounts, err = adapter.ListAccounts(ctx, cred)
		return err
	})
	if err != nil {
		err = provider.Normalize(p, "list_accounts", err)
		zap.L().Warn("Force sync could not list accounts",
			zap.String("user_id", userId),
			zap.String("provider", string(p)),
			zap.Error(err))
		result.Errors = append(result.Errors, models.SyncError{Id: "accounts", Message: err.Error()})
	}

	for _, acct := range accounts {
		if err := s.syncAccount(ctx, userId, p, acct, disabled[acct.ConnectionId], result); err != nil {
			result.Errors = append(result.Errors, models.SyncError{Id: acct.AccountId, Message: err.Error()})
		}
	}

	zap.L().Info("Force sync completed",
		zap.String("user_id", userId),
		zap.String("provider", string(p)),
		zap.Int("connections_created", result.ConnectionsCreated),
		zap.Int("connections_updated", result.ConnectionsUpdated),
		zap.Int("accounts_created", result.AccountsCreated),
		zap.Int("accounts_updated", result.AccountsUpdated),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (s *Service) syncAccount(ctx context.Context, userId string, p models.Provider, acct models.ProviderAccount, disabled bool, result *models.SyncResult) error {
	var previous decimal.Decimal
	existing, err := s.store.FindConnectedAccount(ctx, userId, p, acct.AccountId)
	if err == nil {
		previous = existing.Balance
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if acct.Provider == "" {
		acct.Provider = p
	}
	if acct.SyncedAt.IsZero() {
		acct.SyncedAt = s.now().UTC()
	}
	connected := acct.ToConnectedAccount(userId, previous)
	if disabled {
		connected.Status = models.AccountStatusExpired
	}

	res, err := s.store.UpsertConnectedAccount(ctx, connected)
	if err != nil {
		return err
	}
	if res.Created {
		result.AccountsCreated++
	} else {
		result.AccountsUpdated++
	}
	return nil
}

func addEntry(set *models.SyncSet, entry models.SyncEntry) {
	set.Accounts = append(set.Accounts, entry)
	set.Count = len(set.Accounts)
}

func sortEntries(sets ...*models.SyncSet) {
	for _, set := range sets {
		sort.Slice(set.Accounts, func(i, j int) bool { return set.Accounts[i].AccountId < set.Accounts[j].AccountId })
	}
}
