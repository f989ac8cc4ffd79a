package models

import "time"

// Config represents the application configuration
type Config struct {
	Database      DatabaseConfig
	Cache         CacheConfig
	Server        ServerConfig
	Listener      ListenerConfig
	Banking       BankingConfig
	Brokerage     BrokerageConfig
	Prime         PrimeConfig
	Formance      FormanceConfig
	ProvidersFile string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// CacheConfig controls mirror freshness and snapshot lifetime
type CacheConfig struct {
	MirrorTTL        time.Duration
	SnapshotTTL      time.Duration
	SectionTimeout   time.Duration
	TransientRetries int
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ListenerConfig holds background sync settings
type ListenerConfig struct {
	Enabled       bool
	SyncInterval  time.Duration
	PurgeInterval time.Duration
}

// BankingConfig holds banking aggregator settings
type BankingConfig struct {
	BaseURL string
	AppId   string
	Timeout time.Duration
}

// BrokerageConfig holds brokerage aggregator settings
type BrokerageConfig struct {
	BaseURL     string
	ClientId    string
	ConsumerKey string
	Timeout     time.Duration
}

// PrimeConfig holds custody wallet settings
type PrimeConfig struct {
	AccessKey   string
	Passphrase  string
	SigningKey  string
	PortfolioId string
	Timeout     time.Duration
}

// FormanceConfig holds audit ledger settings
type FormanceConfig struct {
	Enabled      bool
	ServerURL    string
	ClientId     string
	ClientSecret string
	LedgerName   string
}
