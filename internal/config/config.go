package config

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/v3-keepers/keepers/internal/chain"
)

// Commitment levels accepted by the RPC node.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// Config holds all keeper configuration.
type Config struct {
	Env                string `mapstructure:"env"`
	LocalStackEndpoint string `mapstructure:"localstack_endpoint"`
	RPCURL             string `mapstructure:"rpc_url"`
	Commitment         string `mapstructure:"commitment"`
	IntervalSec        int    `mapstructure:"interval"`
	ExchangeIndex      uint64 `mapstructure:"exchange_index"`
	LogLevel           string `mapstructure:"log_level"`
	MetricsAddr        string `mapstructure:"metrics_addr"`
	HealthSocket       string `mapstructure:"health_socket"`
	Keeper             KeeperConfig
	Redis              RedisConfig
}

// KeeperConfig holds the keeper identity and transaction settings.
type KeeperConfig struct {
	PrivateKey              string `mapstructure:"private_key"`
	KMSKeyCiphertext        string `mapstructure:"kms_key_ciphertext"`
	KMSRegion               string `mapstructure:"kms_region"`
	LiquidatorMarginAccount string `mapstructure:"liquidator_margin_account"`
	PriorityFee             uint64 `mapstructure:"priority_fee"`
	ConfirmTimeoutSec       int    `mapstructure:"confirm_timeout_sec"`
	MaxPriceAgeSec          int    `mapstructure:"max_price_age_sec"`
}

// RedisConfig holds settings for the optional outcome sink. An empty Addr
// disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Load reads configuration from environment variables prefixed with KEEPER_.
// It never fails on missing fields; call ValidateLiquidator or
// ValidateSettler for the service being started.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "development")
	v.SetDefault("interval", 300)
	v.SetDefault("exchange_index", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", ":9100")

	v.SetDefault("kms_region", "us-east-1")
	v.SetDefault("confirm_timeout_sec", 60)
	v.SetDefault("max_price_age_sec", 60)

	v.SetDefault("redis.db", 0)

	cfg := &Config{}

	cfg.Env = v.GetString("env")
	cfg.LocalStackEndpoint = v.GetString("localstack_endpoint")
	cfg.RPCURL = v.GetString("rpc_url")
	cfg.Commitment = v.GetString("commitment")
	cfg.IntervalSec = v.GetInt("interval")
	cfg.ExchangeIndex = v.GetUint64("exchange_index")
	cfg.LogLevel = v.GetString("log_level")
	cfg.MetricsAddr = v.GetString("metrics_addr")
	cfg.HealthSocket = v.GetString("health_socket")

	cfg.Keeper = KeeperConfig{
		PrivateKey:              v.GetString("private_key"),
		KMSKeyCiphertext:        v.GetString("kms_key_ciphertext"),
		KMSRegion:               v.GetString("kms_region"),
		LiquidatorMarginAccount: v.GetString("liquidator_margin_account"),
		PriorityFee:             v.GetUint64("priority_fee"),
		ConfirmTimeoutSec:       v.GetInt("confirm_timeout_sec"),
		MaxPriceAgeSec:          v.GetInt("max_price_age_sec"),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	return cfg, nil
}

// Interval returns the cool-down between cycles.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// ConfirmTimeout bounds how long a submitted transaction is awaited.
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Keeper.ConfirmTimeoutSec) * time.Second
}

// MaxPriceAge is the oldest price feed the liquidator will act on.
func (c *Config) MaxPriceAge() time.Duration {
	return time.Duration(c.Keeper.MaxPriceAgeSec) * time.Second
}

// ExchangeAddress derives the single exchange this process serves.
func (c *Config) ExchangeAddress() chain.Address {
	return chain.ExchangeAddress(c.ExchangeIndex)
}

// LiquidatorMarginAccount parses the keeper's own margin account.
func (c *Config) LiquidatorMarginAccount() chain.Address {
	return common.HexToAddress(c.Keeper.LiquidatorMarginAccount)
}

// ValidateSettler checks the fields every keeper needs.
func (c *Config) ValidateSettler() error {
	if c.RPCURL == "" {
		return &chain.ConfigurationError{Field: "KEEPER_RPC_URL", Reason: "missing rpc url"}
	}
	if c.Keeper.PrivateKey == "" && c.Keeper.KMSKeyCiphertext == "" {
		return &chain.ConfigurationError{Field: "KEEPER_PRIVATE_KEY", Reason: "missing keeper signer"}
	}
	if c.IntervalSec <= 0 {
		return &chain.ConfigurationError{Field: "KEEPER_INTERVAL", Reason: "must be a positive number of seconds"}
	}
	if c.Keeper.ConfirmTimeoutSec <= 0 {
		return &chain.ConfigurationError{Field: "KEEPER_CONFIRM_TIMEOUT_SEC", Reason: "must be positive"}
	}
	switch c.Commitment {
	case "", CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
	default:
		return &chain.ConfigurationError{Field: "KEEPER_COMMITMENT", Reason: "unknown commitment " + c.Commitment}
	}
	return nil
}

// ValidateLiquidator additionally requires the liquidator margin account.
func (c *Config) ValidateLiquidator() error {
	if err := c.ValidateSettler(); err != nil {
		return err
	}
	if c.Keeper.LiquidatorMarginAccount == "" {
		return &chain.ConfigurationError{Field: "KEEPER_LIQUIDATOR_MARGIN_ACCOUNT", Reason: "missing liquidator margin account"}
	}
	if !common.IsHexAddress(c.Keeper.LiquidatorMarginAccount) {
		return &chain.ConfigurationError{Field: "KEEPER_LIQUIDATOR_MARGIN_ACCOUNT", Reason: "not a valid address"}
	}
	if c.Keeper.MaxPriceAgeSec <= 0 {
		return &chain.ConfigurationError{Field: "KEEPER_MAX_PRICE_AGE_SEC", Reason: "must be positive"}
	}
	return nil
}
