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
)

// GetSyncedAt returns the last successful refresh of a resource. ok is false
// when the resource has never been mirrored or was invalidated.
func (s *Service) GetSyncedAt(ctx context.Context, accountId string, resource models.Resource) (time.Time, bool, error) {
	var syncedAt time.Time
	err := s.db.QueryRowContext(ctx, queryGetSyncedAt, accountId, string(resource)).Scan(&syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read sync state: %w", err)
	}
	return syncedAt, true, nil
}

func (s *Service) InvalidateResource(ctx context.Context, accountId string, resource models.Resource) error {
	if _, err := s.db.ExecContext(ctx, queryInvalidateResource, accountId, string(resource)); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", resource, err)
	}
	return nil
}

func markSynced(ctx context.Context, tx *sql.Tx, accountId string, resource models.Resource, syncedAt time.Time) error {
	if _, err := tx.ExecContext(ctx, queryMarkSynced, accountId, string(resource), syncedAt.UTC()); err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", resource, err)
	}
	return nil
}

// withMirrorTx runs fn and records the resource as synced in the same transaction.
func (s *Service) withMirrorTx(ctx context.Context, accountId string, resource models.Resource, syncedAt time.Time, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := markSynced(ctx, tx, accountId, resource, syncedAt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s mirror: %w", resource, err)
	}
	return nil
}

func (s *Service) GetProviderAccount(ctx context.Context, accountId string) (*models.ProviderAccount, error) {
	var acct models.ProviderAccount
	var provider string
	var balance decimal.NullDecimal
	err := s.db.QueryRowContext(ctx, queryGetProviderAccount, accountId).Scan(
		&acct.AccountId, &acct.UserId, &provider, &acct.ConnectionId, &acct.Name, &acct.InstitutionName,
		&acct.Subtype, &acct.MaskedNumber, &acct.Currency, &balance, &acct.Status, &acct.SyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("provider account %s: %w", accountId, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query provider account: %w", err)
	}
	acct.Provider = models.Provider(provider)
	acct.Balance = decimalPtr(balance)
	return &acct, nil
}

func (s *Service) SaveProviderAccount(ctx context.Context, acct models.ProviderAccount, syncedAt time.Time) error {
	return s.withMirrorTx(ctx, acct.AccountId, models.ResourceDetails, syncedAt, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, queryUpsertProviderAccount,
			acct.AccountId, acct.UserId, string(acct.Provider), acct.ConnectionId, acct.Name, acct.InstitutionName,
			acct.Subtype, acct.MaskedNumber, acct.Currency, nullDecimal(acct.Balance), acct.Status, syncedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert provider account: %w", err)
		}
		return nil
	})
}

var errAccountInactive = errors.New("connected account is not active")

func (s *Service) RefreshAccountDetails(ctx context.Context, details models.ProviderAccount, acct models.ConnectedAccount, syncedAt time.Time) (bool, error) {
	status := acct.Status
	if status == "" {
		status = models.AccountStatusConnected
	}
	err := s.withMirrorTx(ctx, details.AccountId, models.ResourceDetails, syncedAt, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, queryRefreshActiveAccount,
			acct.ConnectionId, acct.DisplayName, acct.InstitutionName, acct.Subtype, acct.MaskedNumber,
			acct.Currency, acct.Balance, status, acct.CredentialRef, nullTime(acct.LastSyncedAt), s.now(),
			acct.UserId, string(acct.Provider), acct.ExternalAccountId)
		if err != nil {
			return fmt.Errorf("failed to refresh connected account: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errAccountInactive
		}
		_, err = tx.ExecContext(ctx, queryUpsertProviderAccount,
			details.AccountId, details.UserId, string(details.Provider), details.ConnectionId, details.Name, details.InstitutionName,
			details.Subtype, details.MaskedNumber, details.Currency, nullDecimal(details.Balance), details.Status, syncedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert provider account: %w", err)
		}
		return nil
	})
	if errors.Is(err, errAccountInactive) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) ListBalances(ctx context.Context, accountId string) ([]models.ProviderBalance, error) {
	rows, err := s.db.QueryContext(ctx, queryListBalances, accountId)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	balances := []models.ProviderBalance{}
	for rows.Next() {
		var b models.ProviderBalance
		if err := rows.Scan(&b.AccountId, &b.Currency, &b.Cash, &b.BuyingPower, &b.SyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// ReplaceBalances makes the mirror equal to balances: rows missing from the new
// set are deleted, the rest are upserted.
func (s *Service) ReplaceBalances(ctx context.Context, accountId string, balances []models.ProviderBalance, syncedAt time.Time) error {
	keys := make([]string, 0, len(balances))
	for _, b := range balances {
		keys = append(keys, b.Currency)
	}
	return s.withMirrorTx(ctx, accountId, models.ResourceBalances, syncedAt, func(tx *sql.Tx) error {
		if err := deleteMissing(ctx, tx, "provider_balances", "currency", accountId, keys); err != nil {
			return err
		}
		for _, b := range balances {
			if _, err := tx.ExecContext(ctx, queryUpsertBalance, accountId, b.Currency, b.Cash, b.BuyingPower, syncedAt.UTC()); err != nil {
				return fmt.Errorf("failed to upsert balance %s: %w", b.Currency, err)
			}
		}
		return nil
	})
}

func (s *Service) ListPositions(ctx context.Context, accountId string) ([]models.ProviderPosition, error) {
	rows, err := s.db.QueryContext(ctx, queryListPositions, accountId)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := []models.ProviderPosition{}
	for rows.Next() {
		var p models.ProviderPosition
		if err := rows.Scan(&p.AccountId, &p.PositionId, &p.Symbol, &p.Description, &p.Units, &p.Price,
			&p.AverageCost, &p.Currency, &p.SyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *Service) ReplacePositions(ctx context.Context, accountId string, positions []models.ProviderPosition, syncedAt time.Time) error {
	keys := make([]string, 0, len(positions))
	for _, p := range positions {
		keys = append(keys, p.PositionId)
	}
	return s.withMirrorTx(ctx, accountId, models.ResourcePositions, syncedAt, func(tx *sql.Tx) error {
		if err := deleteMissing(ctx, tx, "provider_positions", "position_id", accountId, keys); err != nil {
			return err
		}
		for _, p := range positions {
			_, err := tx.ExecContext(ctx, queryUpsertPosition,
				accountId, p.PositionId, p.Symbol, p.Description, p.Units, p.Price, p.AverageCost, p.Currency, syncedAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to upsert position %s: %w", p.PositionId, err)
			}
		}
		return nil
	})
}

// deleteMissing removes rows of accountId whose key is not in keys.
func deleteMissing(ctx context.Context, tx *sql.Tx, table, keyColumn, accountId string, keys []string) error {
	query := "DELETE FROM " + table + " WHERE account_id = ?"
	args := []any{accountId}
	if len(keys) > 0 {
		query += " AND " + keyColumn + " NOT IN (" + placeholders(len(keys)) + ")"
		args = append(args, stringArgs(keys)...)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to prune %s: %w", table, err)
	}
	return nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func scanOrder(row rowScanner) (*models.ProviderOrder, error) {
	var o models.ProviderOrder
	var limit, exec decimal.NullDecimal
	err := row.Scan(&o.AccountId, &o.OrderId, &o.Symbol, &o.Side, &o.OrderType, &o.TimeInForce, &o.Status,
		&o.Quantity, &o.FilledQuantity, &limit, &exec, &o.PlacedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.LimitPrice = decimalPtr(limit)
	o.ExecutionPrice = decimalPtr(exec)
	return &o, nil
}

func (s *Service) ListOrders(ctx context.Context, accountId string) ([]models.ProviderOrder, error) {
	rows, err := s.db.QueryContext(ctx, queryListOrders, accountId)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []models.ProviderOrder{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *Service) GetOrder(ctx context.Context, accountId, orderId string) (*models.ProviderOrder, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, queryGetOrder, accountId, orderId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderId, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	return o, nil
}

// UpsertOrders keeps order history: orders missing from the new set are kept.
func (s *Service) UpsertOrders(ctx context.Context, accountId string, orders []models.ProviderOrder, syncedAt time.Time) error {
	return s.withMirrorTx(ctx, accountId, models.ResourceOrders, syncedAt, func(tx *sql.Tx) error {
		for _, o := range orders {
			placed := o.PlacedAt
			if placed.IsZero() {
				placed = syncedAt
			}
			updated := o.UpdatedAt
			if updated.IsZero() {
				updated = placed
			}
			_, err := tx.ExecContext(ctx, queryUpsertOrder,
				accountId, o.OrderId, o.Symbol, o.Side, o.OrderType, o.TimeInForce, o.Status, o.Quantity,
				o.FilledQuantity, nullDecimal(o.LimitPrice), nullDecimal(o.ExecutionPrice),
				placed.UTC(), updated.UTC(), syncedAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to upsert order %s: %w", o.OrderId, err)
			}
		}
		return nil
	})
}

func (s *Service) ListActivities(ctx context.Context, accountId string) ([]models.ProviderActivity, error) {
	rows, err := s.db.QueryContext(ctx, queryListActivities, accountId)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	activities := []models.ProviderActivity{}
	for rows.Next() {
		var a models.ProviderActivity
		if err := rows.Scan(&a.AccountId, &a.ActivityId, &a.Type, &a.Symbol, &a.Description, &a.Amount,
			&a.Units, &a.Price, &a.Currency, &a.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// AppendActivities inserts activities not yet mirrored; existing ids are left untouched.
func (s *Service) AppendActivities(ctx context.Context, accountId string, activities []models.ProviderActivity, syncedAt time.Time) error {
	return s.withMirrorTx(ctx, accountId, models.ResourceActivities, syncedAt, func(tx *sql.Tx) error {
		for _, a := range activities {
			occurred := a.OccurredAt
			if occurred.IsZero() {
				occurred = syncedAt
			}
			_, err := tx.ExecContext(ctx, queryInsertActivity,
				accountId, a.ActivityId, a.Type, a.Symbol, a.Description, a.Amount, a.Units, a.Price,
				a.Currency, occurred.UTC(), syncedAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to insert activity %s: %w", a.ActivityId, err)
			}
		}
		return nil
	})
}
