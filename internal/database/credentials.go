package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/store"

	"go.uber.org/zap"
)

func (s *Service) GetCredential(ctx context.Context, userId string, provider models.Provider) (*models.ProviderCredential, error) {
	var cred models.ProviderCredential
	var p string
	err := s.db.QueryRowContext(ctx, queryGetCredential, userId, string(provider)).Scan(
		&cred.UserId, &p, &cred.ProviderUserId, &cred.Secret, &cred.CreatedAt, &cred.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrCredentialNotFound, userId, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}
	cred.Provider = models.Provider(p)
	return &cred, nil
}

// SaveCredential creates the credential or rotates it in place.
func (s *Service) SaveCredential(ctx context.Context, cred models.ProviderCredential) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, queryUpsertCredential,
		cred.UserId, string(cred.Provider), cred.ProviderUserId, cred.Secret, now, now)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	zap.L().Info("Provider credential stored",
		zap.String("user_id", cred.UserId),
		zap.String("provider", string(cred.Provider)))
	return nil
}

func (s *Service) DeleteCredential(ctx context.Context, userId string, provider models.Provider) (bool, error) {
	res, err := s.db.ExecContext(ctx, queryDeleteCredential, userId, string(provider))
	if err != nil {
		return false, fmt.Errorf("failed to delete credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Service) ListCredentialUsers(ctx context.Context, provider models.Provider) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryListCredentialUsers, string(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to query credential users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan credential user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
