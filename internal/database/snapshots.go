package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/store"
)

// GetSnapshot returns the live snapshot for an account. Expired rows are
// reported as store.ErrNotFound even before the purge removes them.
func (s *Service) GetSnapshot(ctx context.Context, accountId string, now time.Time) (*models.AccountSnapshot, error) {
	var snap models.AccountSnapshot
	err := s.db.QueryRowContext(ctx, queryGetSnapshot, accountId).Scan(
		&snap.AccountId, &snap.UserId, &snap.Payload, &snap.ExpiresAt, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	if !now.Before(snap.ExpiresAt) {
		return nil, store.ErrNotFound
	}
	return &snap, nil
}

// SaveSnapshot supersedes any previous snapshot of the account.
func (s *Service) SaveSnapshot(ctx context.Context, snap models.AccountSnapshot) error {
	created := snap.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, queryUpsertSnapshot,
		snap.AccountId, snap.UserId, snap.Payload, snap.ExpiresAt.UTC(), created.UTC())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *Service) DeleteSnapshot(ctx context.Context, accountId string) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteSnapshot, accountId); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func (s *Service) PurgeExpiredSnapshots(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, queryPurgeExpiredSnapshot, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge snapshots: %w", err)
	}
	return res.RowsAffected()
}
