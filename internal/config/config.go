/**
 * @description
 * This package handles configuration management for the payment service. It uses
 * the Viper library to read configuration from environment variables (with an
 * optional .env file), providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// DefaultRPCURL is used when no Solana RPC endpoint is configured. A default
// RPC endpoint is acceptable; a default merchant wallet is not, since that
// would misroute funds.
const DefaultRPCURL = "https://api.mainnet-beta.solana.com"

// Config holds all the configuration variables for the payment service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	SolanaRPCURL             string `mapstructure:"SOLANA_RPC_URL"`
	MerchantWallet           string `mapstructure:"MERCHANT_WALLET"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	PaymentEventExchange     string `mapstructure:"PAYMENT_EVENT_EXCHANGE"`
	VerifyRateLimitPerMinute int    `mapstructure:"VERIFY_RATE_LIMIT_PER_MINUTE"`
	RPCTimeoutSeconds        int    `mapstructure:"RPC_TIMEOUT_SECONDS"`
	LogLevel                 string `mapstructure:"LOG_LEVEL"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values.
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SOLANA_RPC_URL", DefaultRPCURL)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "boostera:rate_limit")
	viper.SetDefault("PAYMENT_EVENT_EXCHANGE", "boostera.events")
	viper.SetDefault("VERIFY_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("RPC_TIMEOUT_SECONDS", 30)
	viper.SetDefault("LOG_LEVEL", "info")

	// Bind environment variables explicitly to ensure they appear in Unmarshal.
	// SOLANA_RPC_URL keeps its NEXT_PUBLIC_ alias from the original frontend
	// deployment so existing environments keep working.
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("SOLANA_RPC_URL", "SOLANA_RPC_URL", "NEXT_PUBLIC_SOLANA_RPC_URL")
	_ = viper.BindEnv("MERCHANT_WALLET")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYMENT_EVENT_EXCHANGE")
	_ = viper.BindEnv("VERIFY_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RPC_TIMEOUT_SECONDS")
	_ = viper.BindEnv("LOG_LEVEL")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config, fmt.Errorf("failed to read config file: %w", err)
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	// PORT (platform convention) overrides SERVER_PORT when set.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.SolanaRPCURL = strings.TrimSpace(config.SolanaRPCURL)
	if config.SolanaRPCURL == "" {
		config.SolanaRPCURL = DefaultRPCURL
	}
	config.MerchantWallet = strings.TrimSpace(config.MerchantWallet)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "boostera:rate_limit"
	}

	if config.VerifyRateLimitPerMinute < 0 {
		config.VerifyRateLimitPerMinute = 0
	}
	if config.RPCTimeoutSeconds <= 0 {
		config.RPCTimeoutSeconds = 30
	}

	return
}
