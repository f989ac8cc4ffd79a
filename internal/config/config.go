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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"unified-portfolio-go/internal/models"
)

// Load reads configuration from the environment, then applies PROVIDERS_FILE
// overrides when that file is set.
func Load() (*models.Config, error) {
	d := durations{}

	connMaxLifetime := d.get("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	connMaxIdleTime := d.get("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	pingTimeout := d.get("DB_PING_TIMEOUT", 5*time.Second)

	mirrorTTL := d.get("MIRROR_TTL", 5*time.Minute)
	snapshotTTL := d.get("SNAPSHOT_TTL", time.Minute)
	sectionTimeout := d.get("SECTION_TIMEOUT", 20*time.Second)

	readTimeout := d.get("SERVER_READ_TIMEOUT", 15*time.Second)
	writeTimeout := d.get("SERVER_WRITE_TIMEOUT", 60*time.Second)
	shutdownTimeout := d.get("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)

	syncInterval := d.get("SYNC_INTERVAL", 15*time.Minute)
	purgeInterval := d.get("SNAPSHOT_PURGE_INTERVAL", 5*time.Minute)

	providerTimeout := d.get("PROVIDER_TIMEOUT", 15*time.Second)

	if d.err != nil {
		return nil, d.err
	}

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "portfolio.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Cache: models.CacheConfig{
			MirrorTTL:        mirrorTTL,
			SnapshotTTL:      snapshotTTL,
			SectionTimeout:   sectionTimeout,
			TransientRetries: getEnvInt("TRANSIENT_RETRIES", 2),
		},
		Server: models.ServerConfig{
			Addr:            getEnvString("SERVER_ADDR", ":8080"),
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
		Listener: models.ListenerConfig{
			Enabled:       getEnvBool("SYNC_ENABLED", false),
			SyncInterval:  syncInterval,
			PurgeInterval: purgeInterval,
		},
		Banking: models.BankingConfig{
			BaseURL: getEnvString("BANKING_BASE_URL", ""),
			AppId:   getEnvString("BANKING_APP_ID", ""),
			Timeout: providerTimeout,
		},
		Brokerage: models.BrokerageConfig{
			BaseURL:     getEnvString("BROKERAGE_BASE_URL", ""),
			ClientId:    getEnvString("BROKERAGE_CLIENT_ID", ""),
			ConsumerKey: getEnvString("BROKERAGE_CONSUMER_KEY", ""),
			Timeout:     providerTimeout,
		},
		Prime: models.PrimeConfig{
			AccessKey:   getEnvString("PRIME_ACCESS_KEY", ""),
			Passphrase:  getEnvString("PRIME_PASSPHRASE", ""),
			SigningKey:  getEnvString("PRIME_SIGNING_KEY", ""),
			PortfolioId: getEnvString("PRIME_PORTFOLIO_ID", ""),
			Timeout:     providerTimeout,
		},
		Formance: models.FormanceConfig{
			ServerURL:    getEnvString("FORMANCE_STACK_URL", ""),
			ClientId:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "unified-portfolio-audit"),
		},
		ProvidersFile: getEnvString("PROVIDERS_FILE", ""),
	}
	cfg.Formance.Enabled = cfg.Formance.ServerURL != ""

	if cfg.Cache.TransientRetries < 0 {
		return nil, fmt.Errorf("TRANSIENT_RETRIES must not be negative: %d", cfg.Cache.TransientRetries)
	}

	if cfg.ProvidersFile != "" {
		overrides, err := LoadProvidersFile(cfg.ProvidersFile)
		if err != nil {
			return nil, err
		}
		if err := overrides.Apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// durations collects the first parse error so Load can read every key in sequence.
type durations struct {
	err error
}

func (d *durations) get(key string, defaultValue time.Duration) time.Duration {
	v, err := getEnvDuration(key, defaultValue)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
