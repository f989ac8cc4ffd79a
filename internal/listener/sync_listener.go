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

package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"unified-portfolio-go/internal/models"

	"go.uber.org/zap"
)

// Syncer is the reconciliation surface the listener drives
type Syncer interface {
	CheckSync(ctx context.Context, userId string, p models.Provider) (*models.SyncReport, error)
	ForceSync(ctx context.Context, userId string, p models.Provider) (*models.SyncResult, error)
}

// Store is the subset of persistence the listener needs
type Store interface {
	ListCredentialUsers(ctx context.Context, p models.Provider) ([]string, error)
	PurgeExpiredSnapshots(ctx context.Context, now time.Time) (int64, error)
}

// SyncListenerConfig contains configuration for SyncListener
type SyncListenerConfig struct {
	Syncer        Syncer
	Store         Store
	Provider      models.Provider
	SyncInterval  time.Duration
	PurgeInterval time.Duration
}

// SyncListener periodically converges local connections with the provider
// and purges expired account snapshots.
type SyncListener struct {
	syncer   Syncer
	store    Store
	provider models.Provider

	syncInterval  time.Duration
	purgeInterval time.Duration
	now           func() time.Time

	// Control channels
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSyncListener creates a new sync listener
func NewSyncListener(cfg SyncListenerConfig) *SyncListener {
	p := cfg.Provider
	if p == "" {
		p = models.ProviderBrokerage
	}
	return &SyncListener{
		syncer:        cfg.Syncer,
		store:         cfg.Store,
		provider:      p,
		syncInterval:  cfg.SyncInterval,
		purgeInterval: cfg.PurgeInterval,
		now:           func() time.Time { return time.Now().UTC() },
		stopChan:      make(chan struct{}),
	}
}

// Start launches the sync and purge loops
func (l *SyncListener) Start(ctx context.Context) error {
	if l.syncInterval <= 0 || l.purgeInterval <= 0 {
		return fmt.Errorf("sync and purge intervals must be positive")
	}

	zap.L().Info("Starting sync listener",
		zap.String("provider", l.provider.String()),
		zap.Duration("sync_interval", l.syncInterval),
		zap.Duration("purge_interval", l.purgeInterval))

	l.wg.Add(2)
	go l.pollLoop(ctx)
	go l.cleanupLoop(ctx)
	return nil
}

// Stop signals both loops and waits for them to exit
func (l *SyncListener) Stop() {
	zap.L().Info("Stopping sync listener")
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
	zap.L().Info("Sync listener stopped")
}

// pollLoop runs the main sync loop
func (l *SyncListener) pollLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.syncInterval)
	defer ticker.Stop()

	l.SyncAll(ctx)

	for {
		select {
		case <-ticker.C:
			l.SyncAll(ctx)
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cleanupLoop periodically removes expired snapshots
func (l *SyncListener) cleanupLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.PurgeSnapshots(ctx)
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SyncAll force-syncs every user that holds a credential for the provider.
// It returns the number of users synced without error.
func (l *SyncListener) SyncAll(ctx context.Context) int {
	users, err := l.store.ListCredentialUsers(ctx, l.provider)
	if err != nil {
		zap.L().Error("Failed to list registered users", zap.String("provider", l.provider.String()), zap.Error(err))
		return 0
	}

	synced := 0
	var failedUsers []string
	for _, userId := range users {
		if ctx.Err() != nil {
			break
		}
		if err := l.syncUser(ctx, userId); err != nil {
			zap.L().Error("Failed to sync user",
				zap.String("user_id", userId),
				zap.String("provider", l.provider.String()),
				zap.Error(err))
			failedUsers = append(failedUsers, userId)
			continue
		}
		synced++
	}

	if len(failedUsers) > 0 {
		zap.L().Warn("Sync pass completed with some failures",
			zap.Int("total_users", len(users)),
			zap.Int("failed_users", len(failedUsers)),
			zap.Strings("failed_user_ids", failedUsers))
	} else {
		zap.L().Debug("Sync pass completed", zap.Int("total_users", len(users)))
	}
	return synced
}

func (l *SyncListener) syncUser(ctx context.Context, userId string) error {
	report, err := l.syncer.CheckSync(ctx, userId, l.provider)
	if err != nil {
		return fmt.Errorf("check sync: %w", err)
	}

	// Local-only rows are reported, never removed here.
	if report.InDatabaseOnly.Count > 0 || report.InProviderOnly.Count > 0 {
		zap.L().Warn("Connection drift detected",
			zap.String("user_id", userId),
			zap.String("provider", l.provider.String()),
			zap.Int("in_provider_only", report.InProviderOnly.Count),
			zap.Int("in_database_only", report.InDatabaseOnly.Count),
			zap.Int("synced", report.Synced.Count))
	}

	result, err := l.syncer.ForceSync(ctx, userId, l.provider)
	if err != nil {
		return fmt.Errorf("force sync: %w", err)
	}

	zap.L().Debug("User synced",
		zap.String("user_id", userId),
		zap.Int("connections_created", result.ConnectionsCreated),
		zap.Int("accounts_created", result.AccountsCreated),
		zap.Int("accounts_updated", result.AccountsUpdated),
		zap.Int("errors", len(result.Errors)))
	return nil
}

// PurgeSnapshots deletes expired account snapshots
func (l *SyncListener) PurgeSnapshots(ctx context.Context) int64 {
	purged, err := l.store.PurgeExpiredSnapshots(ctx, l.now())
	if err != nil {
		zap.L().Error("Failed to purge expired snapshots", zap.Error(err))
		return 0
	}
	if purged > 0 {
		zap.L().Debug("Purged expired snapshots", zap.Int64("purged", purged))
	}
	return purged
}
