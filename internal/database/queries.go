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

const (
	// Connected account queries
	connectedAccountColumns = `
		id, user_id, provider, external_account_id, connection_id, display_name,
		institution_name, subtype, masked_number, currency, balance, status, active,
		credential_ref, last_synced_at, created_at, updated_at`

	queryFindActiveAccountId = `
		SELECT id FROM connected_accounts
		WHERE user_id = ? AND provider = ? AND external_account_id = ? AND active = 1`

	queryInsertConnectedAccount = `
		INSERT INTO connected_accounts (
			user_id, provider, external_account_id, connection_id, display_name,
			institution_name, subtype, masked_number, currency, balance, status, active,
			credential_ref, last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)`

	queryUpdateConnectedAccount = `
		UPDATE connected_accounts
		SET connection_id = ?, display_name = ?, institution_name = ?, subtype = ?,
			masked_number = ?, currency = ?, balance = ?, status = ?, credential_ref = ?,
			last_synced_at = COALESCE(?, last_synced_at), updated_at = ?
		WHERE id = ?`

	queryRefreshActiveAccount = `
		UPDATE connected_accounts
		SET connection_id = ?, display_name = ?, institution_name = ?, subtype = ?,
			masked_number = ?, currency = ?, balance = ?, status = ?, credential_ref = ?,
			last_synced_at = COALESCE(?, last_synced_at), updated_at = ?
		WHERE user_id = ? AND provider = ? AND external_account_id = ? AND active = 1`

	queryFindConnectedAccount = `
		SELECT ` + connectedAccountColumns + `
		FROM connected_accounts
		WHERE user_id = ? AND external_account_id = ? AND active = 1 AND (? = '' OR provider = ?)
		ORDER BY provider
		LIMIT 1`

	queryListConnectedAccounts = `
		SELECT ` + connectedAccountColumns + `
		FROM connected_accounts
		WHERE user_id = ? AND active = 1 AND (? = '' OR provider = ?)
		ORDER BY provider, display_name, external_account_id`

	queryCountActiveAccounts = `
		SELECT COUNT(*) FROM connected_accounts
		WHERE user_id = ? AND provider = ? AND active = 1`

	querySetAccountStatus = `
		UPDATE connected_accounts SET status = ?, updated_at = ?
		WHERE user_id = ? AND provider = ? AND external_account_id = ? AND active = 1`

	queryUpdateAccountBalance = `
		UPDATE connected_accounts
		SET balance = ?, last_synced_at = ?, status = 'connected', updated_at = ?
		WHERE user_id = ? AND provider = ? AND external_account_id = ? AND active = 1`

	// Soft removal; the IN list is appended by the caller
	querySoftRemoveAccountsPrefix = `
		UPDATE connected_accounts SET active = 0, status = 'disconnected', updated_at = ?
		WHERE user_id = ? AND provider = ? AND active = 1 AND external_account_id IN `

	// Connection queries
	queryListConnections = `
		SELECT user_id, provider, authorization_id, institution_name, disabled, refreshed_at, created_at, updated_at
		FROM provider_connections
		WHERE user_id = ? AND provider = ?
		ORDER BY authorization_id`

	queryConnectionExists = `
		SELECT COUNT(*) FROM provider_connections WHERE provider = ? AND authorization_id = ?`

	queryUpsertConnection = `
		INSERT INTO provider_connections (
			provider, authorization_id, user_id, institution_name, disabled, refreshed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, authorization_id) DO UPDATE SET
			institution_name = excluded.institution_name,
			disabled = excluded.disabled,
			refreshed_at = excluded.refreshed_at,
			updated_at = excluded.updated_at`

	queryDeleteConnection = `
		DELETE FROM provider_connections WHERE user_id = ? AND provider = ? AND authorization_id = ?`

	// Cleanup queries; every account id owned by the user under the provider
	cleanupAccountIds = `(
		SELECT account_id FROM provider_accounts WHERE user_id = ? AND provider = ?
		UNION
		SELECT external_account_id FROM connected_accounts WHERE user_id = ? AND provider = ?)`

	queryCleanupBalances   = `DELETE FROM provider_balances WHERE account_id IN ` + cleanupAccountIds
	queryCleanupPositions  = `DELETE FROM provider_positions WHERE account_id IN ` + cleanupAccountIds
	queryCleanupOrders     = `DELETE FROM provider_orders WHERE account_id IN ` + cleanupAccountIds
	queryCleanupActivities = `DELETE FROM provider_activities WHERE account_id IN ` + cleanupAccountIds
	queryCleanupSyncState  = `DELETE FROM mirror_sync_state WHERE account_id IN ` + cleanupAccountIds
	queryCleanupSnapshots  = `DELETE FROM account_snapshots WHERE account_id IN ` + cleanupAccountIds

	queryCleanupProviderAccounts  = `DELETE FROM provider_accounts WHERE user_id = ? AND provider = ?`
	queryCleanupConnectedAccounts = `DELETE FROM connected_accounts WHERE user_id = ? AND provider = ?`
	queryCleanupConnections       = `DELETE FROM provider_connections WHERE user_id = ? AND provider = ?`

	// Mirror queries
	queryGetSyncedAt = `
		SELECT synced_at FROM mirror_sync_state WHERE account_id = ? AND resource = ?`

	queryMarkSynced = `
		INSERT INTO mirror_sync_state (account_id, resource, synced_at) VALUES (?, ?, ?)
		ON CONFLICT(account_id, resource) DO UPDATE SET synced_at = excluded.synced_at`

	queryInvalidateResource = `
		DELETE FROM mirror_sync_state WHERE account_id = ? AND resource = ?`

	queryGetProviderAccount = `
		SELECT account_id, user_id, provider, connection_id, name, institution_name, subtype,
			masked_number, currency, balance, status, synced_at
		FROM provider_accounts WHERE account_id = ?`

	queryUpsertProviderAccount = `
		INSERT INTO provider_accounts (
			account_id, user_id, provider, connection_id, name, institution_name, subtype,
			masked_number, currency, balance, status, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			user_id = excluded.user_id,
			provider = excluded.provider,
			connection_id = excluded.connection_id,
			name = excluded.name,
			institution_name = excluded.institution_name,
			subtype = excluded.subtype,
			masked_number = excluded.masked_number,
			currency = excluded.currency,
			balance = excluded.balance,
			status = excluded.status,
			synced_at = excluded.synced_at`

	queryListBalances = `
		SELECT account_id, currency, cash, buying_power, synced_at
		FROM provider_balances WHERE account_id = ? ORDER BY currency`

	queryUpsertBalance = `
		INSERT INTO provider_balances (account_id, currency, cash, buying_power, synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, currency) DO UPDATE SET
			cash = excluded.cash,
			buying_power = excluded.buying_power,
			synced_at = excluded.synced_at`

	queryDeleteAllBalances = `DELETE FROM provider_balances WHERE account_id = ?`

	queryListPositions = `
		SELECT account_id, position_id, symbol, description, units, price, average_cost, currency, synced_at
		FROM provider_positions WHERE account_id = ? ORDER BY symbol, position_id`

	queryUpsertPosition = `
		INSERT INTO provider_positions (
			account_id, position_id, symbol, description, units, price, average_cost, currency, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, position_id) DO UPDATE SET
			symbol = excluded.symbol,
			description = excluded.description,
			units = excluded.units,
			price = excluded.price,
			average_cost = excluded.average_cost,
			currency = excluded.currency,
			synced_at = excluded.synced_at`

	queryDeleteAllPositions = `DELETE FROM provider_positions WHERE account_id = ?`

	orderColumns = `
		account_id, order_id, symbol, side, order_type, time_in_force, status, quantity,
		filled_quantity, limit_price, execution_price, placed_at, updated_at`

	queryListOrders = `
		SELECT ` + orderColumns + `
		FROM provider_orders WHERE account_id = ? ORDER BY placed_at DESC, order_id`

	queryGetOrder = `
		SELECT ` + orderColumns + `
		FROM provider_orders WHERE account_id = ? AND order_id = ?`

	queryUpsertOrder = `
		INSERT INTO provider_orders (` + orderColumns + `, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, order_id) DO UPDATE SET
			status = excluded.status,
			quantity = excluded.quantity,
			filled_quantity = excluded.filled_quantity,
			limit_price = excluded.limit_price,
			execution_price = excluded.execution_price,
			time_in_force = excluded.time_in_force,
			updated_at = excluded.updated_at,
			synced_at = excluded.synced_at`

	queryListActivities = `
		SELECT account_id, activity_id, type, symbol, description, amount, units, price, currency, occurred_at
		FROM provider_activities WHERE account_id = ? ORDER BY occurred_at DESC, activity_id`

	queryInsertActivity = `
		INSERT OR IGNORE INTO provider_activities (
			account_id, activity_id, type, symbol, description, amount, units, price, currency, occurred_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// Snapshot queries
	queryGetSnapshot = `
		SELECT account_id, user_id, payload, expires_at, created_at
		FROM account_snapshots WHERE account_id = ?`

	queryUpsertSnapshot = `
		INSERT INTO account_snapshots (account_id, user_id, payload, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			user_id = excluded.user_id,
			payload = excluded.payload,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at`

	queryDeleteSnapshot       = `DELETE FROM account_snapshots WHERE account_id = ?`
	queryPurgeExpiredSnapshot = `DELETE FROM account_snapshots WHERE expires_at <= ?`

	// Credential queries
	queryGetCredential = `
		SELECT user_id, provider, provider_user_id, secret, created_at, updated_at
		FROM provider_credentials WHERE user_id = ? AND provider = ?`

	queryUpsertCredential = `
		INSERT INTO provider_credentials (user_id, provider, provider_user_id, secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			provider_user_id = excluded.provider_user_id,
			secret = excluded.secret,
			updated_at = excluded.updated_at`

	queryDeleteCredential    = `DELETE FROM provider_credentials WHERE user_id = ? AND provider = ?`
	queryListCredentialUsers = `SELECT user_id FROM provider_credentials WHERE provider = ? ORDER BY user_id`

	// Trade queries
	queryInsertPreview = `
		INSERT OR REPLACE INTO trade_previews (trade_id, user_id, account_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`

	queryGetPreview = `
		SELECT payload FROM trade_previews WHERE trade_id = ? AND user_id = ?`

	queryReserveSubmission = `
		INSERT OR IGNORE INTO trade_submissions (
			idempotency_key, user_id, account_id, trade_id, fingerprint, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'PENDING', 1, ?, ?)`

	queryGetSubmission = `
		SELECT idempotency_key, user_id, account_id, trade_id, fingerprint, status, order_id, response,
			error_kind, error_message, attempts, created_at, updated_at
		FROM trade_submissions WHERE idempotency_key = ?`

	queryRetrySubmission = `
		UPDATE trade_submissions
		SET status = 'PENDING', attempts = attempts + 1, error_kind = '', error_message = '', updated_at = ?
		WHERE idempotency_key = ?`

	queryCompleteSubmission = `
		UPDATE trade_submissions
		SET status = 'COMPLETED', order_id = ?, response = ?, error_kind = '', error_message = '', updated_at = ?
		WHERE idempotency_key = ?`

	queryFailSubmission = `
		UPDATE trade_submissions
		SET status = 'FAILED', error_kind = ?, error_message = ?, updated_at = ?
		WHERE idempotency_key = ?`

	queryInsertTradeActivity = `
		INSERT INTO trade_activity_log (
			id, user_id, account_id, action, outcome, order_id, trade_id, idempotency_key,
			symbol, error_kind, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryListTradeActivities = `
		SELECT id, user_id, account_id, action, outcome, order_id, trade_id, idempotency_key,
			symbol, error_kind, detail, created_at
		FROM trade_activity_log
		WHERE user_id = ? AND (? = '' OR account_id = ?)
		ORDER BY created_at DESC, id
		LIMIT ?`
)
