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

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

type Service struct {
	db  *sql.DB
	now func() time.Time

	// afterCleanupStep runs after each cleanup stage inside the transaction.
	// Returning an error aborts and rolls back the cleanup.
	afterCleanupStep func(step string) error
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := newService(db)
	if err := service.initSchema(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func newService(db *sql.DB) *Service {
	return &Service{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

const schema = `
	-- Accounts a user linked, one active row per (user, provider, external id)
	CREATE TABLE IF NOT EXISTS connected_accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		external_account_id TEXT NOT NULL,
		connection_id TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		institution_name TEXT NOT NULL DEFAULT '',
		subtype TEXT NOT NULL DEFAULT '',
		masked_number TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT '',
		balance TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'connected',
		active BOOLEAN NOT NULL DEFAULT 1,
		credential_ref TEXT NOT NULL DEFAULT '',
		last_synced_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_connected_accounts_active
		ON connected_accounts(user_id, provider, external_account_id) WHERE active = 1;
	CREATE INDEX IF NOT EXISTS idx_connected_accounts_user ON connected_accounts(user_id, active);

	-- Upstream authorizations (one brokerage login can yield several accounts)
	CREATE TABLE IF NOT EXISTS provider_connections (
		provider TEXT NOT NULL,
		authorization_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		institution_name TEXT NOT NULL DEFAULT '',
		disabled BOOLEAN NOT NULL DEFAULT 0,
		refreshed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (provider, authorization_id)
	);

	CREATE INDEX IF NOT EXISTS idx_provider_connections_user ON provider_connections(user_id, provider);

	CREATE TABLE IF NOT EXISTS provider_accounts (
		account_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		connection_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		institution_name TEXT NOT NULL DEFAULT '',
		subtype TEXT NOT NULL DEFAULT '',
		masked_number TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT '',
		balance TEXT,
		status TEXT NOT NULL DEFAULT '',
		synced_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_provider_accounts_user ON provider_accounts(user_id, provider);
	CREATE INDEX IF NOT EXISTS idx_provider_accounts_connection ON provider_accounts(connection_id);

	CREATE TABLE IF NOT EXISTS provider_balances (
		account_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		cash TEXT NOT NULL,
		buying_power TEXT NOT NULL,
		synced_at TIMESTAMP NOT NULL,
		PRIMARY KEY (account_id, currency)
	);

	CREATE TABLE IF NOT EXISTS provider_positions (
		account_id TEXT NOT NULL,
		position_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		units TEXT NOT NULL,
		price TEXT NOT NULL,
		average_cost TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT '',
		synced_at TIMESTAMP NOT NULL,
		PRIMARY KEY (account_id, position_id)
	);

	CREATE TABLE IF NOT EXISTS provider_orders (
		account_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		time_in_force TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		quantity TEXT NOT NULL,
		filled_quantity TEXT NOT NULL DEFAULT '0',
		limit_price TEXT,
		execution_price TEXT,
		placed_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		synced_at TIMESTAMP NOT NULL,
		PRIMARY KEY (account_id, order_id)
	);

	CREATE INDEX IF NOT EXISTS idx_provider_orders_placed ON provider_orders(account_id, placed_at);

	CREATE TABLE IF NOT EXISTS provider_activities (
		account_id TEXT NOT NULL,
		activity_id TEXT NOT NULL,
		type TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		units TEXT NOT NULL DEFAULT '0',
		price TEXT NOT NULL DEFAULT '0',
		currency TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMP NOT NULL,
		synced_at TIMESTAMP NOT NULL,
		PRIMARY KEY (account_id, activity_id)
	);

	CREATE INDEX IF NOT EXISTS idx_provider_activities_occurred ON provider_activities(account_id, occurred_at);

	-- Last successful refresh per (account, resource); empty results still count
	CREATE TABLE IF NOT EXISTS mirror_sync_state (
		account_id TEXT NOT NULL,
		resource TEXT NOT NULL,
		synced_at TIMESTAMP NOT NULL,
		PRIMARY KEY (account_id, resource)
	);

	CREATE TABLE IF NOT EXISTS account_snapshots (
		account_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_account_snapshots_expires ON account_snapshots(expires_at);

	CREATE TABLE IF NOT EXISTS provider_credentials (
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_user_id TEXT NOT NULL,
		secret TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, provider)
	);

	CREATE TABLE IF NOT EXISTS trade_previews (
		trade_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	-- One row per idempotency key; guards duplicate placements
	CREATE TABLE IF NOT EXISTS trade_submissions (
		idempotency_key TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		trade_id TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		response BLOB,
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_activity_log (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		action TEXT NOT NULL,
		outcome TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		trade_id TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trade_activity_account ON trade_activity_log(user_id, account_id, created_at);
`

// Ping reports whether the database is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
