package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"unified-portfolio-go/internal/models"
)

type fakeSyncer struct {
	mu       sync.Mutex
	checked  []string
	forced   []string
	failUser string
	dbOnly   int
}

func (f *fakeSyncer) CheckSync(ctx context.Context, userId string, p models.Provider) (*models.SyncReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, userId)
	if userId == f.failUser {
		return nil, errors.New("upstream unavailable")
	}
	return &models.SyncReport{UserId: userId, Provider: p.String(), InDatabaseOnly: models.SyncSet{Count: f.dbOnly}}, nil
}

func (f *fakeSyncer) ForceSync(ctx context.Context, userId string, p models.Provider) (*models.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, userId)
	return &models.SyncResult{}, nil
}

func (f *fakeSyncer) forcedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forced)
}

type fakeStore struct {
	users    []string
	purgedAt []time.Time
	purgeErr error
}

func (f *fakeStore) ListCredentialUsers(ctx context.Context, p models.Provider) ([]string, error) {
	return f.users, nil
}

func (f *fakeStore) PurgeExpiredSnapshots(ctx context.Context, now time.Time) (int64, error) {
	if f.purgeErr != nil {
		return 0, f.purgeErr
	}
	f.purgedAt = append(f.purgedAt, now)
	return 3, nil
}

func TestSyncAllSkipsFailedUsers(t *testing.T) {
	syncer := &fakeSyncer{failUser: "user2", dbOnly: 1}
	l := NewSyncListener(SyncListenerConfig{
		Syncer: syncer,
		Store:  &fakeStore{users: []string{"user1", "user2", "user3"}},
	})

	synced := l.SyncAll(context.Background())
	if synced != 2 {
		t.Fatalf("Expected 2 users synced, got %d", synced)
	}
	if len(syncer.checked) != 3 {
		t.Errorf("Expected every user to be checked, got %v", syncer.checked)
	}
	// user2 failed the check so it must not be force-synced.
	for _, u := range syncer.forced {
		if u == "user2" {
			t.Errorf("user2 should not have been force-synced")
		}
	}
}

func TestPurgeSnapshots(t *testing.T) {
	st := &fakeStore{}
	l := NewSyncListener(SyncListenerConfig{Syncer: &fakeSyncer{}, Store: st})
	fixed := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	if purged := l.PurgeSnapshots(context.Background()); purged != 3 {
		t.Errorf("Expected 3 purged, got %d", purged)
	}
	if len(st.purgedAt) != 1 || !st.purgedAt[0].Equal(fixed) {
		t.Errorf("Expected purge at %v, got %v", fixed, st.purgedAt)
	}

	st.purgeErr = errors.New("disk full")
	if purged := l.PurgeSnapshots(context.Background()); purged != 0 {
		t.Errorf("Expected 0 purged on error, got %d", purged)
	}
}

func TestStartRejectsZeroIntervals(t *testing.T) {
	l := NewSyncListener(SyncListenerConfig{Syncer: &fakeSyncer{}, Store: &fakeStore{}})
	if err := l.Start(context.Background()); err == nil {
		t.Fatal("Expected error for zero intervals")
	}
}

func TestStartRunsInitialSyncAndStops(t *testing.T) {
	syncer := &fakeSyncer{}
	l := NewSyncListener(SyncListenerConfig{
		Syncer:        syncer,
		Store:         &fakeStore{users: []string{"user1"}},
		SyncInterval:  time.Hour,
		PurgeInterval: time.Hour,
	})

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for syncer.forcedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	l.Stop()

	if syncer.forcedCount() != 1 {
		t.Errorf("Expected one initial sync, got %d", syncer.forcedCount())
	}
	// A second Stop must not panic.
	l.Stop()
}
