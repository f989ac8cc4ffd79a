package reconcile

import (
	"context"
	"fmt"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"

	"go.uber.org/zap"
)

// Disconnect revokes the authorization behind accountId upstream, then removes
// every local account that shared it. When no active account of that provider
// remains, the upstream registration and the stored credential are deleted.
// Local rows are only touched after the revoke succeeded or found nothing.
func (s *Service) Disconnect(ctx context.Context, userId, accountId string, p models.Provider) (*models.DisconnectResult, error) {
	adapter, err := s.providers.Get(p)
	if err != nil {
		return nil, err
	}
	acct, err := s.store.FindConnectedAccount(ctx, userId, p, accountId)
	if err != nil {
		return nil, err
	}
	cred, err := s.credential(ctx, userId, p)
	if err != nil {
		return nil, err
	}

	if acct.ConnectionId != "" {
		err = provider.Retry(ctx, "remove_authorization", s.retries, func(ctx context.Context) error {
			return adapter.RemoveAuthorization(ctx, cred, acct.ConnectionId)
		})
		if err != nil && !provider.IsAlreadyGone(err) {
			err = provider.Normalize(p, "remove_authorization", err)
			zap.L().Error("Failed to revoke authorization",
				zap.String("user_id", userId),
				zap.String("provider", string(p)),
				zap.String("authorization_id", acct.ConnectionId),
				zap.Error(err))
			return nil, err
		}
		if provider.IsAlreadyGone(err) {
			zap.L().Info("Authorization already removed upstream",
				zap.String("user_id", userId),
				zap.String("authorization_id", acct.ConnectionId))
		}
	}

	accountIds, err := s.accountsOfConnection(ctx, acct)
	if err != nil {
		return nil, err
	}
	removed, err := s.store.DisconnectAccounts(ctx, userId, p, acct.ConnectionId, accountIds)
	if err != nil {
		return nil, fmt.Errorf("failed to remove local accounts: %w", err)
	}

	result := &models.DisconnectResult{AccountsRemoved: removed}
	remaining, err := s.store.CountActiveAccounts(ctx, userId, p)
	if err != nil {
		return nil, fmt.Errorf("failed to count remaining accounts: %w", err)
	}
	if remaining == 0 && cred != nil {
		result.CredentialsDeleted = s.deregister(ctx, adapter, cred)
	}
	return result, nil
}

// accountsOfConnection lists the active accounts revoked together with acct.
func (s *Service) accountsOfConnection(ctx context.Context, acct *models.ConnectedAccount) ([]string, error) {
	if acct.ConnectionId == "" {
		return []string{acct.ExternalAccountId}, nil
	}
	accounts, err := s.store.ListConnectedAccounts(ctx, acct.UserId, acct.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected accounts: %w", err)
	}
	ids := []string{}
	for _, a := range accounts {
		if a.ConnectionId == acct.ConnectionId {
			ids = append(ids, a.ExternalAccountId)
		}
	}
	return ids, nil
}

// deregister deletes the user's upstream registration, then the credential.
// The credential is kept when the upstream delete fails so it can be retried.
func (s *Service) deregister(ctx context.Context, adapter provider.Adapter, cred provider.Credential) bool {
	err := provider.Retry(ctx, "delete_user", s.retries, func(ctx context.Context) error {
		return adapter.DeleteUser(ctx, cred)
	})
	if err != nil && !provider.IsAlreadyGone(err) {
		zap.L().Error("Failed to delete provider registration",
			zap.String("user_id", cred.UserId),
			zap.String("provider", string(cred.Provider)),
			zap.Error(err))
		return false
	}

	deleted, err := s.store.DeleteCredential(ctx, cred.UserId, cred.Provider)
	if err != nil {
		zap.L().Error("Failed to delete provider credential",
			zap.String("user_id", cred.UserId),
			zap.String("provider", string(cred.Provider)),
			zap.Error(err))
		return false
	}
	return deleted
}

// Register registers the user with a provider that issues per-user secrets and
// stores the credential, replacing any previous one.
func (s *Service) Register(ctx context.Context, userId string, p models.Provider) (*models.ProviderCredential, error) {
	adapter, err := s.providers.Get(p)
	if err != nil {
		return nil, err
	}
	registrar, ok := adapter.(provider.Registrar)
	if !ok {
		return nil, &provider.Error{Kind: provider.KindValidation, Provider: p, Op: "register_user", Message: fmt.Sprintf("provider %s does not support registration", p)}
	}

	cred, err := registrar.RegisterUser(ctx, userId)
	if err != nil {
		return nil, provider.Normalize(p, "register_user", err)
	}
	cred.UserId = userId
	cred.Provider = p
	if err := s.store.SaveCredential(ctx, *cred); err != nil {
		return nil, fmt.Errorf("failed to save credential: %w", err)
	}

	zap.L().Info("User registered with provider",
		zap.String("user_id", userId),
		zap.String("provider", string(p)))
	return cred, nil
}

// CleanupProvider purges every local trace of the user's relationship with a
// provider in one transaction. Upstream state is not touched.
func (s *Service) CleanupProvider(ctx context.Context, userId string, p models.Provider) (*models.CleanupResult, error) {
	if _, err := models.ParseProvider(string(p)); err != nil {
		return nil, &provider.Error{Kind: provider.KindValidation, Op: "cleanup_provider", Message: err.Error()}
	}
	result, err := s.store.CleanupProvider(ctx, userId, p)
	if err != nil {
		zap.L().Error("Provider cleanup rolled back",
			zap.String("user_id", userId),
			zap.String("provider", string(p)),
			zap.Error(err))
		return nil, err
	}

	zap.L().Info("Provider cleanup completed",
		zap.String("user_id", userId),
		zap.String("provider", string(p)),
		zap.Int64("connections_removed", result.Connections),
		zap.Int64("accounts_removed", result.ConnectedAccounts),
		zap.Int64("provider_accounts_removed", result.ProviderAccounts))
	return result, nil
}
