package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Service) SavePreview(ctx context.Context, preview models.TradePreview) error {
	payload, err := json.Marshal(preview)
	if err != nil {
		return fmt.Errorf("failed to encode preview: %w", err)
	}
	created := preview.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	if _, err := s.db.ExecContext(ctx, queryInsertPreview,
		preview.TradeId, preview.UserId, preview.AccountId, payload, created.UTC()); err != nil {
		return fmt.Errorf("failed to save preview: %w", err)
	}
	return nil
}

func (s *Service) GetPreview(ctx context.Context, userId, tradeId string) (*models.TradePreview, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, queryGetPreview, tradeId, userId).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrPreviewNotFound, tradeId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query preview: %w", err)
	}
	var preview models.TradePreview
	if err := json.Unmarshal(payload, &preview); err != nil {
		return nil, fmt.Errorf("failed to decode preview %s: %w", tradeId, err)
	}
	preview.UserId = userId
	preview.Order.UserId = userId
	return &preview, nil
}

func scanSubmission(row rowScanner) (*models.TradeSubmission, error) {
	var sub models.TradeSubmission
	err := row.Scan(&sub.IdempotencyKey, &sub.UserId, &sub.AccountId, &sub.TradeId, &sub.Fingerprint, &sub.Status, &sub.OrderId,
		&sub.Response, &sub.ErrorKind, &sub.ErrorMessage, &sub.Attempts, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// BeginSubmission reserves key for one placement attempt. The reservation is
// atomic so two concurrent retries of the same key cannot both reach the provider.
// A key already bound to a different order fails with store.ErrSubmissionMismatch
// and the stored row is left untouched.
func (s *Service) BeginSubmission(ctx context.Context, sub models.TradeSubmission, reclaimBefore time.Time) (store.BeginSubmissionResult, error) {
	if sub.IdempotencyKey == "" {
		return store.BeginSubmissionResult{}, fmt.Errorf("submission requires an idempotency key")
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.BeginSubmissionResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, queryReserveSubmission,
		sub.IdempotencyKey, sub.UserId, sub.AccountId, sub.TradeId, sub.Fingerprint, now, now)
	if err != nil {
		return store.BeginSubmissionResult{}, fmt.Errorf("failed to reserve submission: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return store.BeginSubmissionResult{}, err
	}

	result := store.BeginSubmissionResult{Reserved: inserted == 1}
	if inserted == 0 {
		existing, err := scanSubmission(tx.QueryRowContext(ctx, queryGetSubmission, sub.IdempotencyKey))
		if err != nil {
			return store.BeginSubmissionResult{}, fmt.Errorf("failed to load submission: %w", err)
		}
		result.Existing = existing
		if !sameOrder(existing, sub) {
			return store.BeginSubmissionResult{}, store.ErrSubmissionMismatch
		}

		retry := existing.Status == models.SubmissionFailed ||
			(existing.Status == models.SubmissionPending && existing.UpdatedAt.Before(reclaimBefore))
		if retry {
			if _, err := tx.ExecContext(ctx, queryRetrySubmission, now, sub.IdempotencyKey); err != nil {
				return store.BeginSubmissionResult{}, fmt.Errorf("failed to reserve retry: %w", err)
			}
			result.Reserved = true
		}
	}

	if err := tx.Commit(); err != nil {
		return store.BeginSubmissionResult{}, fmt.Errorf("failed to commit submission: %w", err)
	}
	return result, nil
}

func sameOrder(existing *models.TradeSubmission, sub models.TradeSubmission) bool {
	return existing.UserId == sub.UserId &&
		existing.AccountId == sub.AccountId &&
		existing.TradeId == sub.TradeId &&
		existing.Fingerprint == sub.Fingerprint
}

func (s *Service) CompleteSubmission(ctx context.Context, key, orderId string, response []byte) error {
	if _, err := s.db.ExecContext(ctx, queryCompleteSubmission, orderId, response, s.now(), key); err != nil {
		return fmt.Errorf("failed to complete submission: %w", err)
	}
	return nil
}

func (s *Service) FailSubmission(ctx context.Context, key, errorKind, message string) error {
	if _, err := s.db.ExecContext(ctx, queryFailSubmission, errorKind, message, s.now(), key); err != nil {
		return fmt.Errorf("failed to fail submission: %w", err)
	}
	return nil
}

func (s *Service) RecordTradeActivity(ctx context.Context, activity models.TradeActivity) error {
	if activity.Id == "" {
		activity.Id = uuid.New().String()
	}
	created := activity.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, queryInsertTradeActivity,
		activity.Id, activity.UserId, activity.AccountId, activity.Action, activity.Outcome, activity.OrderId,
		activity.TradeId, activity.IdempotencyKey, activity.Symbol, activity.ErrorKind, activity.Detail, created.UTC())
	if err != nil {
		zap.L().Error("Failed to record trade activity",
			zap.String("user_id", activity.UserId),
			zap.String("action", activity.Action),
			zap.Error(err))
		return fmt.Errorf("failed to record trade activity: %w", err)
	}
	return nil
}

func (s *Service) ListTradeActivities(ctx context.Context, userId, accountId string, limit int) ([]models.TradeActivity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, queryListTradeActivities, userId, accountId, accountId, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade activities: %w", err)
	}
	defer rows.Close()

	activities := []models.TradeActivity{}
	for rows.Next() {
		var a models.TradeActivity
		if err := rows.Scan(&a.Id, &a.UserId, &a.AccountId, &a.Action, &a.Outcome, &a.OrderId, &a.TradeId,
			&a.IdempotencyKey, &a.Symbol, &a.ErrorKind, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade activity: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}
