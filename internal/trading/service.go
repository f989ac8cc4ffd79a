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

// Package trading previews, places, cancels and replaces brokerage orders.
// Placement is idempotent per key and every mutation attempt is audited.
package trading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"
	"unified-portfolio-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultReclaimAfter is how long a PENDING submission may sit before a retry
// with the same key is allowed to resubmit it.
const DefaultReclaimAfter = 2 * time.Minute

// ActivitySink receives a copy of every trade activity record.
type ActivitySink interface {
	RecordTradeActivity(ctx context.Context, activity models.TradeActivity) error
}

// OrderResult is the outcome of a successful mutation.
type OrderResult struct {
	Order          *models.ProviderOrder `json:"order"`
	State          OrderState            `json:"state"`
	IdempotencyKey string                `json:"idempotencyKey,omitempty"`
	Deduplicated   bool                  `json:"deduplicated,omitempty"`
}

// ReplaceResult holds the superseded order and its replacement.
type ReplaceResult struct {
	Replaced *models.ProviderOrder `json:"replaced"`
	Order    *models.ProviderOrder `json:"order"`
	State    OrderState            `json:"state"`
}

type Service struct {
	store        store.Store
	trader       provider.Trader
	kind         models.Provider
	sink         ActivitySink
	retries      int
	reclaimAfter time.Duration
	now          func() time.Time
	newKey       func() string
}

func NewService(st store.Store, trader provider.Trader, retries int) *Service {
	if retries < 0 {
		retries = 0
	}
	return &Service{
		store:        st,
		trader:       trader,
		kind:         models.ProviderBrokerage,
		retries:      retries,
		reclaimAfter: DefaultReclaimAfter,
		now:          time.Now,
		newKey:       func() string { return uuid.New().String() },
	}
}

// SetActivitySink mirrors every activity record to sink in addition to the store.
func (s *Service) SetActivitySink(sink ActivitySink) {
	s.sink = sink
}

func (s *Service) credential(ctx context.Context, userId string) (provider.Credential, error) {
	cred, err := s.store.GetCredential(ctx, userId, s.kind)
	if errors.Is(err, store.ErrCredentialNotFound) {
		return nil, &provider.Error{Kind: provider.KindNotRegistered, Provider: s.kind, Message: "user is not registered with the brokerage"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credential: %w", err)
	}
	return cred, nil
}

// Preview validates a draft order, resolves its instrument and stores the
// provider's impact estimate under the returned trade id.
func (s *Service) Preview(ctx context.Context, req models.OrderRequest) (_ *models.TradePreview, err error) {
	defer s.auditFailure(ctx, models.TradeActionPreview, &req, "", &err)

	req = normalizeOrder(req)
	if err := validateOrder(req); err != nil {
		return nil, err
	}
	state := StateDraft

	cred, err := s.credential(ctx, req.UserId)
	if err != nil {
		return nil, err
	}
	instrument, err := s.resolve(ctx, cred, req)
	if err != nil {
		return nil, err
	}

	var impact *models.OrderImpact
	err = provider.Retry(ctx, "order_impact", s.retries, func(ctx context.Context) error {
		var err error
		impact, err = s.trader.PreviewOrder(ctx, cred, req, *instrument)
		return err
	})
	if err != nil {
		return nil, provider.Normalize(s.kind, "order_impact", err)
	}
	if impact == nil || impact.TradeId == "" {
		return nil, &provider.Error{Kind: provider.KindUnknown, Provider: s.kind, Op: "order_impact", Message: "impact returned no trade id"}
	}
	if state, err = state.Transition(StatePreviewed); err != nil {
		return nil, err
	}

	preview := models.TradePreview{
		TradeId:    impact.TradeId,
		UserId:     req.UserId,
		AccountId:  req.AccountId,
		Instrument: *instrument,
		Order:      req,
		Impact:     *impact,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.SavePreview(ctx, preview); err != nil {
		return nil, fmt.Errorf("failed to save preview: %w", err)
	}

	activity := activityFor(req, models.TradeActionPreview, nil)
	activity.TradeId = preview.TradeId
	s.record(ctx, activity)

	zap.L().Info("Order previewed",
		zap.String("user_id", req.UserId),
		zap.String("account_id", req.AccountId),
		zap.String("trade_id", preview.TradeId),
		zap.String("symbol", instrument.Symbol),
		zap.String("state", string(state)))
	return &preview, nil
}

func (s *Service) resolve(ctx context.Context, cred provider.Credential, req models.OrderRequest) (*models.Instrument, error) {
	var instrument *models.Instrument
	err := provider.Retry(ctx, "resolve_instrument", s.retries, func(ctx context.Context) error {
		var err error
		instrument, err = s.trader.ResolveInstrument(ctx, cred, req.AccountId, req.Symbol)
		return err
	})
	if err != nil {
		return nil, provider.Normalize(s.kind, "resolve_instrument", err)
	}
	return instrument, nil
}

// Place submits an order. With a trade id the previewed trade is executed as
// previewed; otherwise the order is validated and resolved first. Retrying
// with the same idempotency key never produces a second order.
func (s *Service) Place(ctx context.Context, req models.OrderRequest) (_ *OrderResult, err error) {
	defer s.auditFailure(ctx, models.TradeActionPlace, &req, "", &err)

	key := req.IdempotencyKey
	if key == "" {
		key = s.newKey()
	}
	req.IdempotencyKey = key

	var (
		preview    *models.TradePreview
		instrument *models.Instrument
		state      = StateDraft
	)
	if req.TradeId != "" {
		p, err := s.store.GetPreview(ctx, req.UserId, req.TradeId)
		if err != nil {
			return nil, err
		}
		if req.AccountId != "" && req.AccountId != p.AccountId {
			return nil, (&ValidationError{Violations: []string{"accountId does not match the previewed trade"}}).asError("place_order")
		}
		preview = p
		req.AccountId = p.AccountId
		req.Symbol = p.Instrument.Symbol
		state = StatePreviewed
	} else {
		req = normalizeOrder(req)
		if err := validateOrder(req); err != nil {
			return nil, err
		}
	}

	cred, err := s.credential(ctx, req.UserId)
	if err != nil {
		return nil, err
	}
	if preview == nil {
		if instrument, err = s.resolve(ctx, cred, req); err != nil {
			return nil, err
		}
	}

	begin, err := s.store.BeginSubmission(ctx, models.TradeSubmission{
		IdempotencyKey: key,
		UserId:         req.UserId,
		AccountId:      req.AccountId,
		TradeId:        req.TradeId,
		Fingerprint:    orderFingerprint(req),
		Status:         models.SubmissionPending,
	}, s.now().Add(-s.reclaimAfter))
	if errors.Is(err, store.ErrSubmissionMismatch) {
		return nil, (&ValidationError{Violations: []string{"idempotency key was already used for a different order"}}).asError("place_order")
	}
	if err != nil {
		return nil, err
	}
	if !begin.Reserved {
		return s.replay(ctx, req, begin.Existing)
	}

	// once the key is sent the placement must finish even if the caller goes away
	placeCtx := context.WithoutCancel(ctx)
	var order *models.ProviderOrder
	err = provider.Retry(placeCtx, "place_order", s.retries, func(ctx context.Context) error {
		var err error
		if preview != nil {
			order, err = s.trader.PlaceTrade(ctx, cred, preview.TradeId, key)
		} else {
			order, err = s.trader.PlaceOrder(ctx, cred, req, *instrument, key)
		}
		return err
	})
	if err != nil {
		err = provider.Normalize(s.kind, "place_order", err)
		if failErr := s.store.FailSubmission(placeCtx, key, string(provider.KindOf(err)), err.Error()); failErr != nil {
			zap.L().Error("Failed to record failed submission", zap.String("idempotency_key", key), zap.Error(failErr))
		}
		logMutationFailure(ctx, "place_order", req.UserId, req.AccountId, err)
		return nil, err
	}

	if order.AccountId == "" {
		order.AccountId = req.AccountId
	}
	if order.Symbol == "" {
		order.Symbol = req.Symbol
	}
	if state, err = state.Transition(StatePlaced); err != nil {
		return nil, err
	}
	if next := StateFromStatus(order.Status); next != StatePlaced {
		if state, err = state.Transition(next); err != nil {
			zap.L().Warn("Unexpected order status after placement",
				zap.String("order_id", order.OrderId),
				zap.String("status", order.Status))
			state = next
		}
	}

	response, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}
	if err := s.store.CompleteSubmission(placeCtx, key, order.OrderId, response); err != nil {
		zap.L().Error("Failed to complete submission", zap.String("idempotency_key", key), zap.Error(err))
	}
	s.afterMutation(placeCtx, req.AccountId, order)

	activity := activityFor(req, models.TradeActionPlace, nil)
	activity.OrderId = order.OrderId
	s.record(placeCtx, activity)

	zap.L().Info("Order placed",
		zap.String("user_id", req.UserId),
		zap.String("account_id", req.AccountId),
		zap.String("order_id", order.OrderId),
		zap.String("idempotency_key", key),
		zap.String("state", string(state)))
	return &OrderResult{Order: order, State: state, IdempotencyKey: key}, nil
}

// replay answers a retried placement from the stored submission.
func (s *Service) replay(ctx context.Context, req models.OrderRequest, existing *models.TradeSubmission) (*OrderResult, error) {
	if existing == nil || existing.Status != models.SubmissionCompleted {
		return nil, store.ErrSubmissionInFlight
	}
	var order models.ProviderOrder
	if err := json.Unmarshal(existing.Response, &order); err != nil {
		return nil, fmt.Errorf("failed to decode stored order: %w", err)
	}

	activity := activityFor(req, models.TradeActionPlace, nil)
	activity.Outcome = models.TradeOutcomeDeduplicated
	activity.OrderId = order.OrderId
	s.record(ctx, activity)

	zap.L().Info("Duplicate placement collapsed",
		zap.String("user_id", req.UserId),
		zap.String("order_id", order.OrderId),
		zap.String("idempotency_key", req.IdempotencyKey))
	return &OrderResult{Order: &order, State: StateFromStatus(order.Status), IdempotencyKey: req.IdempotencyKey, Deduplicated: true}, nil
}

// terminalOrder rejects mutations of an order the mirror already shows as final.
func (s *Service) terminalOrder(ctx context.Context, accountId, orderId string) (*models.ProviderOrder, error) {
	existing, err := s.store.GetOrder(ctx, accountId, orderId)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if state := StateFromStatus(existing.Status); state.IsTerminal() {
		return existing, (&ValidationError{Violations: []string{fmt.Sprintf("order %s is already %s", orderId, state)}}).asError("mutate_order")
	}
	return existing, nil
}

// Cancel cancels an open order. Cancels are not retried.
func (s *Service) Cancel(ctx context.Context, userId, accountId, orderId string) (_ *OrderResult, err error) {
	audit := models.OrderRequest{UserId: userId, AccountId: accountId}
	defer s.auditFailure(ctx, models.TradeActionCancel, &audit, orderId, &err)

	if accountId == "" || orderId == "" {
		return nil, (&ValidationError{Violations: []string{"accountId and orderId are required"}}).asError("cancel_order")
	}
	existing, err := s.terminalOrder(ctx, accountId, orderId)
	if err != nil {
		return nil, err
	}
	cred, err := s.credential(ctx, userId)
	if err != nil {
		return nil, err
	}

	order, err := s.trader.CancelOrder(ctx, cred, accountId, orderId)
	if err != nil {
		err = provider.Normalize(s.kind, "cancel_order", err)
		logMutationFailure(ctx, "cancel_order", userId, accountId, err)
		return nil, err
	}

	if order.Symbol == "" && existing != nil {
		order.Symbol = existing.Symbol
	}
	s.afterMutation(ctx, accountId, order)

	activity := activityFor(audit, models.TradeActionCancel, nil)
	activity.OrderId = order.OrderId
	activity.Symbol = order.Symbol
	s.record(ctx, activity)

	state := StateFromStatus(order.Status)
	zap.L().Info("Order cancelled",
		zap.String("user_id", userId),
		zap.String("account_id", accountId),
		zap.String("order_id", orderId),
		zap.String("state", string(state)))
	return &OrderResult{Order: order, State: state}, nil
}

// Replace supersedes an open order. The old order is recorded as REPLACED and
// the provider's new order is returned. Replacements are not retried.
func (s *Service) Replace(ctx context.Context, req models.ReplaceRequest) (_ *ReplaceResult, err error) {
	audit := models.OrderRequest{UserId: req.UserId, AccountId: req.AccountId}
	defer s.auditFailure(ctx, models.TradeActionReplace, &audit, req.OrderId, &err)

	existing, err := s.terminalOrder(ctx, req.AccountId, req.OrderId)
	if err != nil {
		return nil, err
	}

	req = fillReplaceDefaults(req, existing)
	if err := validateReplace(req); err != nil {
		return nil, err
	}
	cred, err := s.credential(ctx, req.UserId)
	if err != nil {
		return nil, err
	}

	order, err := s.trader.ReplaceOrder(ctx, cred, req)
	if err != nil {
		err = provider.Normalize(s.kind, "replace_order", err)
		logMutationFailure(ctx, "replace_order", req.UserId, req.AccountId, err)
		return nil, err
	}

	now := s.now().UTC()
	replaced := models.ProviderOrder{AccountId: req.AccountId, OrderId: req.OrderId, PlacedAt: now}
	if existing != nil {
		replaced = *existing
	}
	replaced.Status = string(StateReplaced)
	replaced.UpdatedAt = now
	if order.Symbol == "" {
		order.Symbol = replaced.Symbol
	}
	state, err := StatePlaced.Transition(StateFromStatus(order.Status))
	if err != nil {
		state = StateFromStatus(order.Status)
	}

	s.afterMutation(ctx, req.AccountId, &replaced, order)

	activity := activityFor(audit, models.TradeActionReplace, nil)
	activity.OrderId = order.OrderId
	activity.Symbol = order.Symbol
	activity.Detail = "replaces " + req.OrderId
	s.record(ctx, activity)

	zap.L().Info("Order replaced",
		zap.String("user_id", req.UserId),
		zap.String("account_id", req.AccountId),
		zap.String("old_order_id", req.OrderId),
		zap.String("new_order_id", order.OrderId))
	return &ReplaceResult{Replaced: &replaced, Order: order, State: state}, nil
}

func fillReplaceDefaults(req models.ReplaceRequest, existing *models.ProviderOrder) models.ReplaceRequest {
	if existing != nil {
		if req.Quantity.IsZero() {
			req.Quantity = existing.Quantity
		}
		if req.OrderType == "" {
			req.OrderType = existing.OrderType
		}
		if req.TimeInForce == "" {
			req.TimeInForce = existing.TimeInForce
		}
		if req.LimitPrice == nil && req.OrderType == models.OrderTypeLimit {
			req.LimitPrice = existing.LimitPrice
		}
	}
	if req.OrderType == "" {
		req.OrderType = models.OrderTypeMarket
		if req.LimitPrice != nil {
			req.OrderType = models.OrderTypeLimit
		}
	}
	if req.TimeInForce == "" {
		req.TimeInForce = models.TimeInForceDay
	}
	return req
}

// afterMutation mirrors the changed orders and forces the next view to
// refetch the order list.
func (s *Service) afterMutation(ctx context.Context, accountId string, orders ...*models.ProviderOrder) {
	batch := make([]models.ProviderOrder, 0, len(orders))
	for _, o := range orders {
		batch = append(batch, *o)
	}
	if err := s.store.UpsertOrders(ctx, accountId, batch, s.now().UTC()); err != nil {
		zap.L().Warn("Failed to mirror mutated orders", zap.String("account_id", accountId), zap.Error(err))
	}
	if err := s.store.InvalidateResource(ctx, accountId, models.ResourceOrders); err != nil {
		zap.L().Warn("Failed to invalidate orders mirror", zap.String("account_id", accountId), zap.Error(err))
	}
	if err := s.store.DeleteSnapshot(ctx, accountId); err != nil {
		zap.L().Warn("Failed to drop account snapshot", zap.String("account_id", accountId), zap.Error(err))
	}
}

func activityFor(req models.OrderRequest, action string, err error) models.TradeActivity {
	activity := models.TradeActivity{
		UserId:         req.UserId,
		AccountId:      req.AccountId,
		Action:         action,
		Outcome:        models.TradeOutcomeSucceeded,
		TradeId:        req.TradeId,
		IdempotencyKey: req.IdempotencyKey,
		Symbol:         req.Symbol,
	}
	if err != nil {
		activity.Outcome = models.TradeOutcomeFailed
		activity.ErrorKind = string(provider.KindOf(err))
		activity.Detail = err.Error()
	}
	return activity
}

// auditFailure records a failed attempt once the calling operation has
// returned. req is read at that point so it reflects any normalization.
func (s *Service) auditFailure(ctx context.Context, action string, req *models.OrderRequest, orderId string, errp *error) {
	if *errp == nil {
		return
	}
	activity := activityFor(*req, action, *errp)
	activity.OrderId = orderId
	s.record(context.WithoutCancel(ctx), activity)
}

// record writes the audit entry and mirrors it to the sink. Neither failure
// affects the trade outcome.
func (s *Service) record(ctx context.Context, activity models.TradeActivity) {
	if activity.Id == "" {
		activity.Id = uuid.New().String()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = s.now().UTC()
	}
	if err := s.store.RecordTradeActivity(ctx, activity); err != nil {
		zap.L().Error("Failed to record trade activity",
			zap.String("user_id", activity.UserId),
			zap.String("action", activity.Action),
			zap.Error(err))
	}
	if s.sink == nil {
		return
	}
	if err := s.sink.RecordTradeActivity(ctx, activity); err != nil {
		zap.L().Warn("Failed to mirror trade activity",
			zap.String("activity_id", activity.Id),
			zap.Error(err))
	}
}

func logMutationFailure(ctx context.Context, op, userId, accountId string, err error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("user_id", userId),
		zap.String("account_id", accountId),
		zap.String("kind", string(provider.KindOf(err))),
		zap.Error(err),
	}
	if rc := models.GetRequestContext(ctx); rc != nil {
		fields = append(fields, zap.String("request_id", rc.RequestId))
	}
	zap.L().Error("Order mutation failed", fields...)
}
