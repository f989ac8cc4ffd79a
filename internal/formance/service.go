// Package formance mirrors trade activity records into a Formance ledger as
// account metadata, giving support an external audit trail.
package formance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"unified-portfolio-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

const defaultLedger = "unified-portfolio-audit"

// Service writes trade activity to a Formance Stack ledger.
type Service struct {
	client *v3.Formance
	ledger string

	// addMetadata is swapped in tests.
	addMetadata func(ctx context.Context, address string, metadata map[string]string) error
}

// NewService connects to the stack and creates the audit ledger if it doesn't already exist.
func NewService(ctx context.Context, cfg models.FormanceConfig) (*Service, error) {
	if cfg.ServerURL == "" || cfg.ClientId == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires FORMANCE_STACK_URL, FORMANCE_CLIENT_ID, and FORMANCE_CLIENT_SECRET")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = defaultLedger
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.ServerURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.ServerURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientId),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	svc := &Service{client: client, ledger: cfg.LedgerName}
	svc.addMetadata = svc.addAccountMetadata

	if err := svc.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	zap.L().Info("Formance audit sink initialized", zap.String("ledger", cfg.LedgerName))
	return svc, nil
}

// ensureLedger creates the ledger if it does not already exist.
func (s *Service) ensureLedger(ctx context.Context) error {
	_, err := s.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: s.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "unified-portfolio",
			},
		},
	})
	if err != nil {
		if isLedgerExistsError(err) {
			zap.L().Info("Ledger already exists", zap.String("ledger", s.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", s.ledger))
	return nil
}

func (s *Service) addAccountMetadata(ctx context.Context, address string, metadata map[string]string) error {
	_, err := s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:      s.ledger,
		Address:     address,
		RequestBody: metadata,
	})
	return err
}

// RecordTradeActivity stores the activity as metadata on trades:<user>:<account>.
// Each record lands under its own key so the account accumulates the history.
func (s *Service) RecordTradeActivity(ctx context.Context, activity models.TradeActivity) error {
	payload, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to encode activity: %w", err)
	}

	addr := tradeAddress(activity.UserId, activity.AccountId)
	metadata := map[string]string{
		"entity_type":            "trade_audit",
		"last_action":            activity.Action,
		"last_outcome":           activity.Outcome,
		"last_activity_at":       activity.CreatedAt.UTC().Format(time.RFC3339),
		"activity_" + activity.Id: string(payload),
	}

	if err := s.addMetadata(ctx, addr, metadata); err != nil {
		return fmt.Errorf("failed to add trade metadata to %s: %w", addr, err)
	}
	zap.L().Debug("Trade activity mirrored to ledger",
		zap.String("address", addr),
		zap.String("activity_id", activity.Id))
	return nil
}

// Close is a no-op for the Formance backend (HTTP client needs no teardown).
func (s *Service) Close() {}

// ---------- helpers ----------

// tradeAddress builds a ledger address. Formance segments only allow
// letters, digits, '_' and '-', anything else becomes '_'.
func tradeAddress(userId, accountId string) string {
	return "trades:" + addressSegment(userId) + ":" + addressSegment(accountId)
}

func addressSegment(s string) string {
	if s == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func isLedgerExistsError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists
}
