/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package aggregation assembles account views from the local mirror and the
// provider adapters, refreshing each resource independently when it is stale.
package aggregation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"
	"unified-portfolio-go/internal/store"

	"go.uber.org/zap"
)

const (
	DefaultMirrorTTL      = 5 * time.Minute
	DefaultSnapshotTTL    = time.Minute
	DefaultSectionTimeout = 20 * time.Second
)

type Service struct {
	store          store.Store
	providers      *provider.Registry
	mirrorTTL      time.Duration
	snapshotTTL    time.Duration
	sectionTimeout time.Duration
	retries        int
	now            func() time.Time
}

func NewService(st store.Store, providers *provider.Registry, cfg models.CacheConfig) *Service {
	s := &Service{
		store:          st,
		providers:      providers,
		mirrorTTL:      cfg.MirrorTTL,
		snapshotTTL:    cfg.SnapshotTTL,
		sectionTimeout: cfg.SectionTimeout,
		retries:        cfg.TransientRetries,
		now:            time.Now,
	}
	if s.mirrorTTL <= 0 {
		s.mirrorTTL = DefaultMirrorTTL
	}
	if s.snapshotTTL <= 0 {
		s.snapshotTTL = DefaultSnapshotTTL
	}
	if s.sectionTimeout <= 0 {
		s.sectionTimeout = DefaultSectionTimeout
	}
	if s.retries < 0 {
		s.retries = 0
	}
	return s
}

// GetAccountView returns the assembled view of one of the user's accounts. An
// empty provider matches the account under any provider. The call fails only
// when the details section cannot be loaded; other failed sections carry
// their own error.
func (s *Service) GetAccountView(ctx context.Context, userId string, p models.Provider, accountId string) (*models.AccountView, error) {
	acct, err := s.store.FindConnectedAccount(ctx, userId, p, accountId)
	if err != nil {
		return nil, err
	}

	if view, ok := s.cachedView(ctx, acct); ok {
		return view, nil
	}

	adapter, err := s.providers.Get(acct.Provider)
	if err != nil {
		return nil, err
	}

	cred, err := s.store.GetCredential(ctx, userId, acct.Provider)
	if err != nil && !errors.Is(err, store.ErrCredentialNotFound) {
		return nil, fmt.Errorf("failed to resolve credential: %w", err)
	}

	view, sectionErrs, detailsErr := s.assemble(ctx, adapter, cred, acct)

	for _, sectionErr := range sectionErrs {
		if provider.KindOf(sectionErr) == provider.KindAuthExpired {
			s.markExpired(ctx, acct)
			break
		}
	}

	if detailsErr != nil {
		return nil, detailsErr
	}

	if view.Complete() {
		s.saveSnapshot(ctx, acct, view)
	} else {
		zap.L().Warn("Account view assembled with failed sections",
			zap.String("user_id", userId),
			zap.String("account_id", accountId),
			zap.String("provider", string(acct.Provider)),
			zap.Int("failed_sections", len(sectionErrs)))
	}
	return view, nil
}

func (s *Service) cachedView(ctx context.Context, acct *models.ConnectedAccount) (*models.AccountView, bool) {
	snap, err := s.store.GetSnapshot(ctx, acct.ExternalAccountId, s.now().UTC())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			zap.L().Warn("Failed to read account snapshot",
				zap.String("account_id", acct.ExternalAccountId),
				zap.Error(err))
		}
		return nil, false
	}
	if snap.UserId != acct.UserId {
		return nil, false
	}

	var view models.AccountView
	if err := json.Unmarshal(snap.Payload, &view); err != nil {
		zap.L().Warn("Discarding unreadable account snapshot",
			zap.String("account_id", acct.ExternalAccountId),
			zap.Error(err))
		return nil, false
	}
	view.FromCache = true
	zap.L().Debug("Serving account view from snapshot",
		zap.String("account_id", acct.ExternalAccountId),
		zap.Time("expires_at", snap.ExpiresAt))
	return &view, true
}

func (s *Service) saveSnapshot(ctx context.Context, acct *models.ConnectedAccount, view *models.AccountView) {
	payload, err := json.Marshal(view)
	if err != nil {
		zap.L().Warn("Failed to encode account snapshot", zap.String("account_id", acct.ExternalAccountId), zap.Error(err))
		return
	}
	now := s.now().UTC()
	err = s.store.SaveSnapshot(ctx, models.AccountSnapshot{
		AccountId: acct.ExternalAccountId,
		UserId:    acct.UserId,
		Payload:   payload,
		ExpiresAt: now.Add(s.snapshotTTL),
		CreatedAt: now,
	})
	if err != nil {
		zap.L().Warn("Failed to save account snapshot", zap.String("account_id", acct.ExternalAccountId), zap.Error(err))
	}
}

func (s *Service) markExpired(ctx context.Context, acct *models.ConnectedAccount) {
	if acct.Status == models.AccountStatusExpired {
		return
	}
	err := s.store.SetAccountStatus(ctx, acct.UserId, acct.Provider, acct.ExternalAccountId, models.AccountStatusExpired)
	if err != nil {
		zap.L().Warn("Failed to mark account expired",
			zap.String("account_id", acct.ExternalAccountId),
			zap.Error(err))
		return
	}
	zap.L().Info("Account authorization expired",
		zap.String("user_id", acct.UserId),
		zap.String("account_id", acct.ExternalAccountId),
		zap.String("provider", string(acct.Provider)))
}

// assemble loads the five sections concurrently. The fetches run detached from
// ctx cancellation so an abandoned request still warms the mirror.
func (s *Service) assemble(ctx context.Context, adapter provider.Adapter, cred provider.Credential, acct *models.ConnectedAccount) (*models.AccountView, []error, error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sectionTimeout)
	defer cancel()

	accountId := acct.ExternalAccountId
	view := &models.AccountView{AccountId: accountId, Provider: acct.Provider}
	errs := make([]error, 5)

	var wg sync.WaitGroup
	wg.Add(5)
	go func() {
		defer wg.Done()
		view.Details, errs[0] = loadSection(fetchCtx, s, acct.Provider, accountId, models.ResourceDetails, nil,
			func(ctx context.Context) (*models.ProviderAccount, error) { return s.store.GetProviderAccount(ctx, accountId) },
			func(ctx context.Context) (*models.ProviderAccount, error) { return adapter.FetchDetails(ctx, cred, accountId) },
			func(ctx context.Context, details *models.ProviderAccount, syncedAt time.Time) (*models.ProviderAccount, error) {
				return details, s.persistDetails(ctx, acct, details, syncedAt)
			})
	}()
	go func() {
		defer wg.Done()
		view.Balances, errs[1] = loadSection(fetchCtx, s, acct.Provider, accountId, models.ResourceBalances, []models.ProviderBalance{},
			func(ctx context.Context) ([]models.ProviderBalance, error) { return s.store.ListBalances(ctx, accountId) },
			func(ctx context.Context) ([]models.ProviderBalance, error) { return adapter.FetchBalances(ctx, cred, accountId) },
			func(ctx context.Context, balances []models.ProviderBalance, syncedAt time.Time) ([]models.ProviderBalance, error) {
				return balances, s.store.ReplaceBalances(ctx, accountId, balances, syncedAt)
			})
	}()
	go func() {
		defer wg.Done()
		view.Positions, errs[2] = loadSection(fetchCtx, s, acct.Provider, accountId, models.ResourcePositions, []models.ProviderPosition{},
			func(ctx context.Context) ([]models.ProviderPosition, error) { return s.store.ListPositions(ctx, accountId) },
			func(ctx context.Context) ([]models.ProviderPosition, error) { return adapter.FetchPositions(ctx, cred, accountId) },
			func(ctx context.Context, positions []models.ProviderPosition, syncedAt time.Time) ([]models.ProviderPosition, error) {
				return positions, s.store.ReplacePositions(ctx, accountId, positions, syncedAt)
			})
	}()
	go func() {
		defer wg.Done()
		view.Orders, errs[3] = loadSection(fetchCtx, s, acct.Provider, accountId, models.ResourceOrders, []models.ProviderOrder{},
			func(ctx context.Context) ([]models.ProviderOrder, error) { return s.store.ListOrders(ctx, accountId) },
			func(ctx context.Context) ([]models.ProviderOrder, error) { return adapter.FetchOrders(ctx, cred, accountId) },
			func(ctx context.Context, orders []models.ProviderOrder, syncedAt time.Time) ([]models.ProviderOrder, error) {
				if err := s.store.UpsertOrders(ctx, accountId, orders, syncedAt); err != nil {
					return orders, err
				}
				return s.store.ListOrders(ctx, accountId)
			})
	}()
	go func() {
		defer wg.Done()
		view.Activities, errs[4] = loadSection(fetchCtx, s, acct.Provider, accountId, models.ResourceActivities, []models.ProviderActivity{},
			func(ctx context.Context) ([]models.ProviderActivity, error) { return s.store.ListActivities(ctx, accountId) },
			func(ctx context.Context) ([]models.ProviderActivity, error) { return adapter.FetchActivities(ctx, cred, accountId) },
			func(ctx context.Context, activities []models.ProviderActivity, syncedAt time.Time) ([]models.ProviderActivity, error) {
				if err := s.store.AppendActivities(ctx, accountId, activities, syncedAt); err != nil {
					return activities, err
				}
				return s.store.ListActivities(ctx, accountId)
			})
	}()
	wg.Wait()

	view.AsOf = s.now().UTC()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	return view, failed, errs[0]
}

// persistDetails mirrors the provider's account record and refreshes the
// connected account row that the portfolio listing reads. An account that was
// disconnected while the fetch was in flight stays disconnected.
func (s *Service) persistDetails(ctx context.Context, acct *models.ConnectedAccount, details *models.ProviderAccount, syncedAt time.Time) error {
	details.UserId = acct.UserId
	if details.Provider == "" {
		details.Provider = acct.Provider
	}
	connected := details.ToConnectedAccount(acct.UserId, acct.Balance)
	if connected.ConnectionId == "" {
		connected.ConnectionId = acct.ConnectionId
		connected.CredentialRef = acct.CredentialRef
	}
	refreshed, err := s.store.RefreshAccountDetails(ctx, *details, connected, syncedAt)
	if err != nil {
		return err
	}
	if !refreshed {
		zap.L().Debug("Skipped details for disconnected account",
			zap.String("user_id", acct.UserId),
			zap.String("account_id", acct.ExternalAccountId))
	}
	return nil
}
