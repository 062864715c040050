package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Env        string
	Server     ServerConfig
	MongoDB    MongoDBConfig
	Redis      RedisConfig
	Telegram   TelegramConfig
	Wallet     WalletConfig
	Oracle     OracleConfig
	Settlement SettlementConfig
	Queue      QueueConfig
	JWT        JWTConfig
	Admin      AdminConfig
}

// ServerConfig holds the ops/admin HTTP server configuration
type ServerConfig struct {
	Port string
}

// MongoDBConfig holds MongoDB-specific configuration
type MongoDBConfig struct {
	URI      string
	Database string
}

// RedisConfig holds the queue backing store configuration
type RedisConfig struct {
	Addr string
}

// TelegramConfig holds bot configuration
type TelegramConfig struct {
	BotToken     string
	AdminUserIDs []int64
}

// WalletConfig holds the custodial wallet provider configuration.
// AgentWalletKey is the pool wallet's private key; every refund and payout
// is funded from it. EncryptionKey (hex, 32 bytes) encrypts user keys at
// rest.
type WalletConfig struct {
	BaseURL         string
	APIKey          string
	AgentWalletKey  string
	AgentAddress    string
	PlatformAddress string
	EncryptionKey   string
	Mock            bool
}

// OracleConfig holds the outcome-verification pipeline configuration
type OracleConfig struct {
	SearchBaseURL string
	SearchAPIKey  string
	SearchModel   string
	LLMBaseURL    string
	LLMAPIKey     string
	LLMModel      string
	Mock          bool
}

// SettlementConfig holds the resolution pipeline timings and fee policy
type SettlementConfig struct {
	SweepInterval      time.Duration
	RatificationWindow time.Duration
	ManualPollWindow   time.Duration
	PollLockTimeout    time.Duration
	FeeRate            float64
}

// QueueConfig holds retry and throughput policy for the two job queues
type QueueConfig struct {
	Attempts        int
	BackoffBase     time.Duration
	PayoutRateEvery time.Duration
	PollRateEvery   time.Duration
}

// JWTConfig holds admin token configuration
type JWTConfig struct {
	Secret    string
	ExpiresIn int
}

// AdminConfig holds the single operator account for the admin API
type AdminConfig struct {
	Username     string
	PasswordHash string
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// .env is optional; real deployments set env vars directly
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaults sets default values for configuration
func setDefaults() {
	viper.SetDefault("Env", "development")
	viper.SetDefault("Server.Port", "4000")
	viper.SetDefault("MongoDB.URI", "mongodb://localhost:27017")
	viper.SetDefault("MongoDB.Database", "predo")
	viper.SetDefault("Redis.Addr", "localhost:6379")

	viper.SetDefault("Wallet.Mock", true)
	// dev-only key, overridden by any real deployment
	viper.SetDefault("Wallet.EncryptionKey", "6368616e676520746869732064657620656e6372797074696f6e206b65792121")
	viper.SetDefault("Oracle.Mock", true)
	viper.SetDefault("Oracle.SearchModel", "sonar-pro")
	viper.SetDefault("Oracle.LLMModel", "gemini-2.0-flash-exp")

	viper.SetDefault("Settlement.SweepInterval", 5*time.Minute)
	viper.SetDefault("Settlement.RatificationWindow", time.Hour)
	viper.SetDefault("Settlement.ManualPollWindow", 3*time.Hour)
	viper.SetDefault("Settlement.PollLockTimeout", 5*time.Minute)
	viper.SetDefault("Settlement.FeeRate", 0.05)

	viper.SetDefault("Queue.Attempts", 3)
	viper.SetDefault("Queue.BackoffBase", time.Second)
	viper.SetDefault("Queue.PayoutRateEvery", time.Minute)
	viper.SetDefault("Queue.PollRateEvery", 12*time.Second)

	viper.SetDefault("JWT.ExpiresIn", 24*60*60) // 24 hours
}

// Validate fails fast on missing credentials so a misconfigured instance
// never reaches the settlement loop.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("config: Telegram.BotToken is required")
	}
	if c.Settlement.FeeRate < 0 || c.Settlement.FeeRate >= 1 {
		return fmt.Errorf("config: Settlement.FeeRate must be in [0, 1), got %v", c.Settlement.FeeRate)
	}
	if !c.Wallet.Mock {
		switch {
		case c.Wallet.BaseURL == "":
			return fmt.Errorf("config: Wallet.BaseURL is required when Wallet.Mock is false")
		case c.Wallet.APIKey == "":
			return fmt.Errorf("config: Wallet.APIKey is required when Wallet.Mock is false")
		case c.Wallet.AgentWalletKey == "":
			return fmt.Errorf("config: Wallet.AgentWalletKey is required when Wallet.Mock is false")
		case c.Wallet.PlatformAddress == "":
			return fmt.Errorf("config: Wallet.PlatformAddress is required when Wallet.Mock is false")
		case c.Wallet.EncryptionKey == "":
			return fmt.Errorf("config: Wallet.EncryptionKey is required when Wallet.Mock is false")
		}
	}
	if !c.Oracle.Mock {
		if c.Oracle.SearchAPIKey == "" || c.Oracle.LLMAPIKey == "" {
			return fmt.Errorf("config: oracle API keys are required when Oracle.Mock is false")
		}
	}
	return nil
}
