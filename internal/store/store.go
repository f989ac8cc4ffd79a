package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"unified-portfolio-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations. The specific
// not-found errors all match ErrNotFound.
var (
	ErrNotFound           = errors.New("not found")
	ErrAccountNotFound    = fmt.Errorf("connected account %w", ErrNotFound)
	ErrCredentialNotFound = fmt.Errorf("provider credential %w", ErrNotFound)
	ErrPreviewNotFound    = fmt.Errorf("trade preview %w", ErrNotFound)
	ErrSubmissionInFlight = errors.New("submission with this idempotency key is in flight")
	ErrSubmissionMismatch = errors.New("idempotency key was used for a different order")
)

// CleanupStep names one stage of a provider cleanup, in execution order.
const (
	StepBalances          = "balances"
	StepPositions         = "positions"
	StepOrders            = "orders"
	StepActivities        = "activities"
	StepProviderAccounts  = "provider_accounts"
	StepConnectedAccounts = "connected_accounts"
	StepConnections       = "connections"
)

// UpsertResult reports whether an upsert inserted a new row.
type UpsertResult struct {
	Created bool
}

// BeginSubmissionResult is returned when reserving an idempotency key.
type BeginSubmissionResult struct {
	// Reserved is true when the caller owns this attempt and must complete or fail it.
	Reserved bool
	// Existing is the row as found before reservation, nil for a new key.
	Existing *models.TradeSubmission
}

// AccountStore holds the local ConnectedAccount records.
type AccountStore interface {
	UpsertConnectedAccount(ctx context.Context, acct models.ConnectedAccount) (UpsertResult, error)
	FindConnectedAccount(ctx context.Context, userId string, provider models.Provider, accountId string) (*models.ConnectedAccount, error)
	ListConnectedAccounts(ctx context.Context, userId string, provider models.Provider) ([]models.ConnectedAccount, error)
	CountActiveAccounts(ctx context.Context, userId string, provider models.Provider) (int, error)
	// DisconnectAccounts soft-removes the active accounts, drops their mirrors and
	// the owning connection row in one transaction. Repeating it is a no-op.
	DisconnectAccounts(ctx context.Context, userId string, provider models.Provider, connectionId string, accountIds []string) (int64, error)
	SetAccountStatus(ctx context.Context, userId string, provider models.Provider, accountId, status string) error
	UpdateAccountBalance(ctx context.Context, userId string, provider models.Provider, accountId string, balance decimal.Decimal, syncedAt time.Time) error
}

// ConnectionStore holds mirrored provider authorizations.
type ConnectionStore interface {
	ListConnections(ctx context.Context, userId string, provider models.Provider) ([]models.ProviderConnection, error)
	UpsertConnection(ctx context.Context, conn models.ProviderConnection) (UpsertResult, error)
	// CleanupProvider removes every mirrored row for a user and provider in a single transaction.
	CleanupProvider(ctx context.Context, userId string, provider models.Provider) (*models.CleanupResult, error)
}

// MirrorStore holds the local copy of provider data and its freshness.
type MirrorStore interface {
	GetSyncedAt(ctx context.Context, accountId string, resource models.Resource) (time.Time, bool, error)
	InvalidateResource(ctx context.Context, accountId string, resource models.Resource) error

	GetProviderAccount(ctx context.Context, accountId string) (*models.ProviderAccount, error)
	SaveProviderAccount(ctx context.Context, acct models.ProviderAccount, syncedAt time.Time) error
	// RefreshAccountDetails mirrors fetched details and refreshes the connected
	// account row only while that row is still active. It never inserts one.
	RefreshAccountDetails(ctx context.Context, details models.ProviderAccount, acct models.ConnectedAccount, syncedAt time.Time) (bool, error)
	ListBalances(ctx context.Context, accountId string) ([]models.ProviderBalance, error)
	ReplaceBalances(ctx context.Context, accountId string, balances []models.ProviderBalance, syncedAt time.Time) error
	ListPositions(ctx context.Context, accountId string) ([]models.ProviderPosition, error)
	ReplacePositions(ctx context.Context, accountId string, positions []models.ProviderPosition, syncedAt time.Time) error
	ListOrders(ctx context.Context, accountId string) ([]models.ProviderOrder, error)
	GetOrder(ctx context.Context, accountId, orderId string) (*models.ProviderOrder, error)
	UpsertOrders(ctx context.Context, accountId string, orders []models.ProviderOrder, syncedAt time.Time) error
	ListActivities(ctx context.Context, accountId string) ([]models.ProviderActivity, error)
	AppendActivities(ctx context.Context, accountId string, activities []models.ProviderActivity, syncedAt time.Time) error
}

// SnapshotStore caches assembled account views.
type SnapshotStore interface {
	// GetSnapshot returns ErrNotFound when no unexpired snapshot exists at now.
	GetSnapshot(ctx context.Context, accountId string, now time.Time) (*models.AccountSnapshot, error)
	SaveSnapshot(ctx context.Context, snap models.AccountSnapshot) error
	DeleteSnapshot(ctx context.Context, accountId string) error
	PurgeExpiredSnapshots(ctx context.Context, now time.Time) (int64, error)
}

// CredentialStore holds per-user provider credentials.
type CredentialStore interface {
	GetCredential(ctx context.Context, userId string, provider models.Provider) (*models.ProviderCredential, error)
	SaveCredential(ctx context.Context, cred models.ProviderCredential) error
	DeleteCredential(ctx context.Context, userId string, provider models.Provider) (bool, error)
	ListCredentialUsers(ctx context.Context, provider models.Provider) ([]string, error)
}

// TradeStore holds previews, idempotency keys and the trade audit log.
type TradeStore interface {
	SavePreview(ctx context.Context, preview models.TradePreview) error
	GetPreview(ctx context.Context, userId, tradeId string) (*models.TradePreview, error)
	// BeginSubmission reserves an idempotency key. A failed key, or a pending key
	// last touched before reclaimBefore, is reserved again for a retry. Reusing
	// a key for a different owner or payload returns ErrSubmissionMismatch.
	BeginSubmission(ctx context.Context, sub models.TradeSubmission, reclaimBefore time.Time) (BeginSubmissionResult, error)
	CompleteSubmission(ctx context.Context, key, orderId string, response []byte) error
	FailSubmission(ctx context.Context, key, errorKind, message string) error
	RecordTradeActivity(ctx context.Context, activity models.TradeActivity) error
	ListTradeActivities(ctx context.Context, userId, accountId string, limit int) ([]models.TradeActivity, error)
}

// Store is the full contract of the SQLite backend.
type Store interface {
	AccountStore
	ConnectionStore
	MirrorStore
	SnapshotStore
	CredentialStore
	TradeStore

	// --- Lifecycle ---
	Close()
}
