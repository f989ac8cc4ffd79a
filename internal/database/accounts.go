package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnectedAccount(row rowScanner) (*models.ConnectedAccount, error) {
	var acct models.ConnectedAccount
	var provider string
	var lastSynced sql.NullTime
	err := row.Scan(
		&acct.Id, &acct.UserId, &provider, &acct.ExternalAccountId, &acct.ConnectionId, &acct.DisplayName,
		&acct.InstitutionName, &acct.Subtype, &acct.MaskedNumber, &acct.Currency, &acct.Balance, &acct.Status,
		&acct.Active, &acct.CredentialRef, &lastSynced, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return nil, err
	}
	acct.Provider = models.Provider(provider)
	if lastSynced.Valid {
		t := lastSynced.Time
		acct.LastSyncedAt = &t
	}
	return &acct, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// UpsertConnectedAccount inserts or refreshes the active row for (user, provider, external id).
func (s *Service) UpsertConnectedAccount(ctx context.Context, acct models.ConnectedAccount) (store.UpsertResult, error) {
	if acct.UserId == "" || acct.Provider == "" || acct.ExternalAccountId == "" {
		return store.UpsertResult{}, fmt.Errorf("connected account requires user, provider and account id")
	}
	status := acct.Status
	if status == "" {
		status = models.AccountStatusConnected
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, queryFindActiveAccountId, acct.UserId, string(acct.Provider), acct.ExternalAccountId).Scan(&id)
	created := false
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, queryInsertConnectedAccount,
			acct.UserId, string(acct.Provider), acct.ExternalAccountId, acct.ConnectionId, acct.DisplayName,
			acct.InstitutionName, acct.Subtype, acct.MaskedNumber, acct.Currency, acct.Balance, status,
			acct.CredentialRef, nullTime(acct.LastSyncedAt), now, now)
		if err != nil {
			return store.UpsertResult{}, fmt.Errorf("failed to insert connected account: %w", err)
		}
		created = true
	case err != nil:
		return store.UpsertResult{}, fmt.Errorf("failed to look up connected account: %w", err)
	default:
		_, err = tx.ExecContext(ctx, queryUpdateConnectedAccount,
			acct.ConnectionId, acct.DisplayName, acct.InstitutionName, acct.Subtype, acct.MaskedNumber,
			acct.Currency, acct.Balance, status, acct.CredentialRef, nullTime(acct.LastSyncedAt), now, id)
		if err != nil {
			return store.UpsertResult{}, fmt.Errorf("failed to update connected account: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return store.UpsertResult{}, fmt.Errorf("failed to commit connected account: %w", err)
	}

	zap.L().Debug("Connected account upserted",
		zap.String("user_id", acct.UserId),
		zap.String("provider", string(acct.Provider)),
		zap.String("account_id", acct.ExternalAccountId),
		zap.Bool("created", created))
	return store.UpsertResult{Created: created}, nil
}

// FindConnectedAccount returns the active account; an empty provider matches any.
func (s *Service) FindConnectedAccount(ctx context.Context, userId string, provider models.Provider, accountId string) (*models.ConnectedAccount, error) {
	row := s.db.QueryRowContext(ctx, queryFindConnectedAccount, userId, accountId, string(provider), string(provider))
	acct, err := scanConnectedAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query connected account: %w", err)
	}
	return acct, nil
}

// ListConnectedAccounts returns active accounts; an empty provider lists all.
func (s *Service) ListConnectedAccounts(ctx context.Context, userId string, provider models.Provider) ([]models.ConnectedAccount, error) {
	rows, err := s.db.QueryContext(ctx, queryListConnectedAccounts, userId, string(provider), string(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to query connected accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.ConnectedAccount{}
	for rows.Next() {
		acct, err := scanConnectedAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connected account: %w", err)
		}
		accounts = append(accounts, *acct)
	}
	return accounts, rows.Err()
}

func (s *Service) CountActiveAccounts(ctx context.Context, userId string, provider models.Provider) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, queryCountActiveAccounts, userId, string(provider)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active accounts: %w", err)
	}
	return count, nil
}

func (s *Service) SetAccountStatus(ctx context.Context, userId string, provider models.Provider, accountId, status string) error {
	_, err := s.db.ExecContext(ctx, querySetAccountStatus, status, s.now(), userId, string(provider), accountId)
	if err != nil {
		return fmt.Errorf("failed to set account status: %w", err)
	}
	return nil
}

func (s *Service) UpdateAccountBalance(ctx context.Context, userId string, provider models.Provider, accountId string, balance decimal.Decimal, syncedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, queryUpdateAccountBalance, balance, syncedAt.UTC(), s.now(), userId, string(provider), accountId)
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}
	return nil
}

// DisconnectAccounts soft-removes the given active accounts, drops their mirrors
// and deletes the owning connection row, all in one transaction.
func (s *Service) DisconnectAccounts(ctx context.Context, userId string, provider models.Provider, connectionId string, accountIds []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var removed int64
	if len(accountIds) > 0 {
		args := append([]any{s.now(), userId, string(provider)}, stringArgs(accountIds)...)
		res, err := tx.ExecContext(ctx, querySoftRemoveAccountsPrefix+"("+placeholders(len(accountIds))+")", args...)
		if err != nil {
			return 0, fmt.Errorf("failed to soft-remove accounts: %w", err)
		}
		if removed, err = res.RowsAffected(); err != nil {
			return 0, fmt.Errorf("failed to read affected rows: %w", err)
		}
		if err := deleteAccountMirrors(ctx, tx, accountIds); err != nil {
			return 0, err
		}
	}

	if connectionId != "" {
		if _, err := tx.ExecContext(ctx, queryDeleteConnection, userId, string(provider), connectionId); err != nil {
			return 0, fmt.Errorf("failed to delete connection: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit disconnect: %w", err)
	}

	zap.L().Info("Accounts disconnected",
		zap.String("user_id", userId),
		zap.String("provider", string(provider)),
		zap.String("connection_id", connectionId),
		zap.Int64("accounts_removed", removed))
	return removed, nil
}

// deleteAccountMirrors removes every mirrored row for the accounts.
func deleteAccountMirrors(ctx context.Context, tx *sql.Tx, accountIds []string) error {
	in := "(" + placeholders(len(accountIds)) + ")"
	args := stringArgs(accountIds)
	for _, table := range []string{
		"provider_balances",
		"provider_positions",
		"provider_orders",
		"provider_activities",
		"mirror_sync_state",
		"account_snapshots",
		"provider_accounts",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE account_id IN "+in, args...); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	return nil
}
