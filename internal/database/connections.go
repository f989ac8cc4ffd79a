package database

import (
	"context"
	"database/sql"
	"fmt"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/store"

	"go.uber.org/zap"
)

func (s *Service) ListConnections(ctx context.Context, userId string, provider models.Provider) ([]models.ProviderConnection, error) {
	rows, err := s.db.QueryContext(ctx, queryListConnections, userId, string(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	connections := []models.ProviderConnection{}
	for rows.Next() {
		var conn models.ProviderConnection
		var p string
		var refreshed sql.NullTime
		if err := rows.Scan(&conn.UserId, &p, &conn.AuthorizationId, &conn.InstitutionName, &conn.Disabled,
			&refreshed, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conn.Provider = models.Provider(p)
		if refreshed.Valid {
			conn.RefreshedAt = refreshed.Time
		}
		connections = append(connections, conn)
	}
	return connections, rows.Err()
}

// UpsertConnection inserts a new authorization or refreshes the fields of an existing one.
func (s *Service) UpsertConnection(ctx context.Context, conn models.ProviderConnection) (store.UpsertResult, error) {
	if conn.AuthorizationId == "" {
		return store.UpsertResult{}, fmt.Errorf("connection requires an authorization id")
	}
	now := s.now()
	refreshed := conn.RefreshedAt
	if refreshed.IsZero() {
		refreshed = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRowContext(ctx, queryConnectionExists, string(conn.Provider), conn.AuthorizationId).Scan(&existing); err != nil {
		return store.UpsertResult{}, fmt.Errorf("failed to check connection: %w", err)
	}

	_, err = tx.ExecContext(ctx, queryUpsertConnection,
		string(conn.Provider), conn.AuthorizationId, conn.UserId, conn.InstitutionName, conn.Disabled,
		refreshed.UTC(), now, now)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("failed to upsert connection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return store.UpsertResult{}, fmt.Errorf("failed to commit connection: %w", err)
	}
	return store.UpsertResult{Created: existing == 0}, nil
}

// CleanupProvider purges all mirrored state of a user's relationship with a
// provider. Children go first so a failure at any step leaves nothing dangling.
func (s *Service) CleanupProvider(ctx context.Context, userId string, provider models.Provider) (*models.CleanupResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p := string(provider)
	idArgs := []any{userId, p, userId, p}
	result := &models.CleanupResult{}

	steps := []struct {
		name  string
		query string
		args  []any
		count *int64
	}{
		{store.StepBalances, queryCleanupBalances, idArgs, &result.Balances},
		{store.StepPositions, queryCleanupPositions, idArgs, &result.Positions},
		{store.StepOrders, queryCleanupOrders, idArgs, &result.Orders},
		{store.StepActivities, queryCleanupActivities, idArgs, &result.Activities},
		{"sync_state", queryCleanupSyncState, idArgs, nil},
		{"snapshots", queryCleanupSnapshots, idArgs, nil},
		{store.StepProviderAccounts, queryCleanupProviderAccounts, []any{userId, p}, &result.ProviderAccounts},
		{store.StepConnectedAccounts, queryCleanupConnectedAccounts, []any{userId, p}, &result.ConnectedAccounts},
		{store.StepConnections, queryCleanupConnections, []any{userId, p}, &result.Connections},
	}

	for _, step := range steps {
		res, err := tx.ExecContext(ctx, step.query, step.args...)
		if err != nil {
			return nil, fmt.Errorf("cleanup %s: %w", step.name, err)
		}
		if step.count != nil {
			if *step.count, err = res.RowsAffected(); err != nil {
				return nil, fmt.Errorf("cleanup %s: %w", step.name, err)
			}
		}
		if s.afterCleanupStep != nil {
			if err := s.afterCleanupStep(step.name); err != nil {
				return nil, fmt.Errorf("cleanup aborted after %s: %w", step.name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cleanup: %w", err)
	}

	zap.L().Info("Provider cleanup completed",
		zap.String("user_id", userId),
		zap.String("provider", p),
		zap.Int64("connections", result.Connections),
		zap.Int64("provider_accounts", result.ProviderAccounts),
		zap.Int64("connected_accounts", result.ConnectedAccounts),
		zap.Int64("positions", result.Positions))
	return result, nil
}
