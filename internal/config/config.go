/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the billing-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	GatewayAPIBaseURL        string `mapstructure:"GATEWAY_API_BASE_URL"`
	GatewayAccessToken       string `mapstructure:"GATEWAY_ACCESS_TOKEN"`
	InternalAPIKey           string `mapstructure:"INTERNAL_API_KEY"`
	PublicBaseURL            string `mapstructure:"PUBLIC_BASE_URL"`
	CurrencyID               string `mapstructure:"CURRENCY_ID"`
	PublicRateLimitPerMinute int    `mapstructure:"PUBLIC_RATE_LIMIT_PER_MINUTE"`
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

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("GATEWAY_API_BASE_URL", "https://api.mercadopago.com")
	viper.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	viper.SetDefault("CURRENCY_ID", "ARS")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "billing:rate_limit")
	viper.SetDefault("PUBLIC_RATE_LIMIT_PER_MINUTE", 120)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "BILLING_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("GATEWAY_API_BASE_URL")
	_ = viper.BindEnv("GATEWAY_ACCESS_TOKEN", "GATEWAY_ACCESS_TOKEN", "MERCADOPAGO_ACCESS_TOKEN")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "BILLING_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PUBLIC_BASE_URL")
	_ = viper.BindEnv("CURRENCY_ID")
	_ = viper.BindEnv("PUBLIC_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("BILLING_SERVICE_INTERNAL_API_KEY"))
	}
	if strings.TrimSpace(config.GatewayAccessToken) == "" {
		config.GatewayAccessToken = strings.TrimSpace(os.Getenv("MERCADOPAGO_ACCESS_TOKEN"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "billing:rate_limit"
	}
	config.PublicBaseURL = strings.TrimRight(strings.TrimSpace(config.PublicBaseURL), "/")

	if config.PublicRateLimitPerMinute <= 0 {
		config.PublicRateLimitPerMinute = 120
	}

	return
}
