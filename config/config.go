package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	ServerConfig       ServerConfig       `json:"server"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	ExchangeConfig     ExchangeConfig     `json:"exchange"`
	SettlementConfig   SettlementConfig   `json:"settlement"`
	ChainConfigs       []ChainConfig      `json:"chains"`
	AssetConfigs       []AssetConfig      `json:"assets"`
	NotificationConfig NotificationConfig `json:"notification"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	VaultConfig        VaultConfig        `json:"vault"`
	AuthConfig         AuthConfig         `json:"auth"`
	BreakerConfig      BreakerConfig      `json:"circuit_breaker"`
}

// ServerConfig holds the operational HTTP API configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

type LoggingConfig struct {
	Level      string `json:"level"`       // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // Output as JSON
}

// ExchangeConfig holds the centralized exchange API configuration.
// API credentials are loaded from Vault when Vault is enabled; the
// plain key fields are the development fallback.
type ExchangeConfig struct {
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	MockMode  bool   `json:"mock_mode"` // Use the in-memory mock client
}

// SettlementConfig holds the rebalancing engine configuration
type SettlementConfig struct {
	Enabled           bool            `json:"enabled"`
	Schedule          string          `json:"schedule"`            // Cron expression for settlement cycles
	MinimumAmount     decimal.Decimal `json:"minimum_amount"`      // Floor below which no transfer is executed
	AmountTolerance   decimal.Decimal `json:"amount_tolerance"`    // Acceptable verification drift in coin units
	PollInterval      time.Duration   `json:"poll_interval"`       // Delay between verification polls
	VerifyTimeout     time.Duration   `json:"verify_timeout"`      // Overall verification budget per transfer
	MaxConcurrent     int             `json:"max_concurrent"`      // Concurrent (chain, asset) pairs per cycle
	BalanceQueryLimit int             `json:"balance_query_limit"` // Concurrent read-only balance queries
}

// Chain families supported by the adapter layer
const (
	ChainFamilyUTXO   = "utxo"
	ChainFamilyEVM    = "evm"
	ChainFamilySolana = "solana"
)

// ChainConfig holds per-chain connection and wallet configuration.
// Family selects the adapter implementation; EVM networks share one
// implementation and differ only in this config.
type ChainConfig struct {
	ChainKey         string          `json:"chain_key"`          // e.g. BTC, ETH, POLYGON, SOL
	Family           string          `json:"family"`             // utxo, evm, solana
	RPCEndpoint      string          `json:"rpc_endpoint"`
	HotWalletAddress string          `json:"hot_wallet_address"`
	Confirmations    uint64          `json:"confirmations"`      // Required confirmation depth
	SignerEndpoint   string          `json:"signer_endpoint"`    // Signing sidecar base URL
	Reserve          decimal.Decimal `json:"reserve"`            // Fee/rent reserve withheld from transfers, in coin units
	ChainID          int64           `json:"chain_id"`           // EVM only
	Network          string          `json:"network"`            // utxo only: mainnet, testnet3
}

// AssetConfig maps an on-chain token to an exchange asset/network pair
type AssetConfig struct {
	ChainKey        string `json:"chain_key"`
	TokenID         string `json:"token_id"` // Native coin symbol on that chain
	ExchangeAsset   string `json:"exchange_asset"`
	ExchangeNetwork string `json:"exchange_network"`
	Decimals        int32  `json:"decimals"` // Base-unit precision (8 BTC, 18 ETH, 9 SOL)
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the deposit-address cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// VaultConfig holds HashiCorp Vault configuration for exchange credentials
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	Enabled   bool   `json:"enabled"`
	JWTSecret string `json:"jwt_secret"`
}

// BreakerConfig holds endpoint circuit breaker configuration
type BreakerConfig struct {
	Enabled         bool `json:"enabled"`
	FailureLimit    int  `json:"failure_limit"`    // Consecutive failures before the breaker opens
	CooldownSeconds int  `json:"cooldown_seconds"` // Open duration before a half-open probe
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Chain and asset tables are structural and come from the config file only.
func applyEnvOverrides(cfg *Config) {
	// Exchange config
	cfg.ExchangeConfig.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", cfg.ExchangeConfig.BaseURL)
	if cfg.ExchangeConfig.BaseURL == "" {
		cfg.ExchangeConfig.BaseURL = "https://api.binance.com"
	}
	cfg.ExchangeConfig.APIKey = getEnvOrDefault("EXCHANGE_API_KEY", cfg.ExchangeConfig.APIKey)
	cfg.ExchangeConfig.SecretKey = getEnvOrDefault("EXCHANGE_SECRET_KEY", cfg.ExchangeConfig.SecretKey)
	cfg.ExchangeConfig.MockMode = getEnvOrDefault("EXCHANGE_MOCK_MODE", "false") == "true"

	// Settlement config
	cfg.SettlementConfig.Enabled = getEnvOrDefault("SETTLEMENT_ENABLED", "true") == "true"
	cfg.SettlementConfig.Schedule = getEnvOrDefault("SETTLEMENT_SCHEDULE", defaultString(cfg.SettlementConfig.Schedule, "0 * * * *"))
	if cfg.SettlementConfig.MinimumAmount.IsZero() {
		cfg.SettlementConfig.MinimumAmount = decimal.RequireFromString("0.001")
	}
	cfg.SettlementConfig.PollInterval = getEnvDurationOrDefault("SETTLEMENT_POLL_INTERVAL", defaultDuration(cfg.SettlementConfig.PollInterval, 15*time.Second))
	cfg.SettlementConfig.VerifyTimeout = getEnvDurationOrDefault("SETTLEMENT_VERIFY_TIMEOUT", defaultDuration(cfg.SettlementConfig.VerifyTimeout, 10*time.Minute))
	cfg.SettlementConfig.MaxConcurrent = getEnvIntOrDefault("SETTLEMENT_MAX_CONCURRENT", defaultInt(cfg.SettlementConfig.MaxConcurrent, 4))
	cfg.SettlementConfig.BalanceQueryLimit = getEnvIntOrDefault("SETTLEMENT_BALANCE_QUERY_LIMIT", defaultInt(cfg.SettlementConfig.BalanceQueryLimit, 8))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", defaultString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	// Notification config
	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvOrDefault("DISCORD_ENABLED", "false") == "true"
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", defaultString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", defaultInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", defaultInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Auth config
	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", "false") == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultString(cfg.VaultConfig.SecretPath, "settlement/exchange-keys"))
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultString(cfg.DatabaseConfig.User, "settlement"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultString(cfg.DatabaseConfig.Database, "settlement"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Circuit breaker config
	cfg.BreakerConfig.Enabled = getEnvOrDefault("CIRCUIT_BREAKER_ENABLED", "true") == "true"
	cfg.BreakerConfig.FailureLimit = getEnvIntOrDefault("CIRCUIT_FAILURE_LIMIT", defaultInt(cfg.BreakerConfig.FailureLimit, 5))
	cfg.BreakerConfig.CooldownSeconds = getEnvIntOrDefault("CIRCUIT_COOLDOWN_SECONDS", defaultInt(cfg.BreakerConfig.CooldownSeconds, 60))
}

// Validate checks configuration consistency that cannot be defaulted away
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, chain := range c.ChainConfigs {
		if chain.ChainKey == "" {
			return fmt.Errorf("chain config with empty chain_key")
		}
		if seen[chain.ChainKey] {
			return fmt.Errorf("duplicate chain config for %s", chain.ChainKey)
		}
		seen[chain.ChainKey] = true

		switch chain.Family {
		case ChainFamilyUTXO, ChainFamilyEVM, ChainFamilySolana:
		default:
			return fmt.Errorf("chain %s: unknown family %q", chain.ChainKey, chain.Family)
		}
		if chain.HotWalletAddress == "" {
			return fmt.Errorf("chain %s: missing hot_wallet_address", chain.ChainKey)
		}
		if chain.Reserve.IsNegative() {
			return fmt.Errorf("chain %s: negative reserve", chain.ChainKey)
		}
	}

	for _, asset := range c.AssetConfigs {
		if !seen[asset.ChainKey] {
			return fmt.Errorf("asset %s/%s references unknown chain", asset.ChainKey, asset.TokenID)
		}
		if asset.ExchangeAsset == "" || asset.ExchangeNetwork == "" {
			return fmt.Errorf("asset %s/%s: missing exchange mapping", asset.ChainKey, asset.TokenID)
		}
		if asset.Decimals <= 0 {
			return fmt.Errorf("asset %s/%s: decimals must be positive", asset.ChainKey, asset.TokenID)
		}
	}

	if c.SettlementConfig.MinimumAmount.IsNegative() {
		return fmt.Errorf("settlement minimum_amount must not be negative")
	}

	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("auth enabled but AUTH_JWT_SECRET is empty")
	}

	return nil
}

// ChainConfigFor returns the chain config for a chain key
func (c *Config) ChainConfigFor(chainKey string) (*ChainConfig, bool) {
	for i := range c.ChainConfigs {
		if c.ChainConfigs[i].ChainKey == chainKey {
			return &c.ChainConfigs[i], true
		}
	}
	return nil, false
}

func loadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	return &cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func defaultString(current, fallback string) string {
	if current != "" {
		return current
	}
	return fallback
}

func defaultInt(current, fallback int) int {
	if current != 0 {
		return current
	}
	return fallback
}

func defaultDuration(current, fallback time.Duration) time.Duration {
	if current != 0 {
		return current
	}
	return fallback
}
