package config

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ValidatorOptions contains options for configuration validation.
type ValidatorOptions struct {
	VerifyConnectivity bool // Check Redis connectivity
	VerifyAPIKeys      bool // Verify exchange API keys with a live ping
	Timeout            time.Duration
}

// DefaultValidatorOptions returns default validator options for startup.
func DefaultValidatorOptions() ValidatorOptions {
	return ValidatorOptions{
		VerifyConnectivity: true,
		VerifyAPIKeys:      false,
		Timeout:            5 * time.Second,
	}
}

// Validator handles configuration validation at startup.
type Validator struct {
	config  *ArbitrageConfig
	options ValidatorOptions
}

// NewValidator creates a new configuration validator.
func NewValidator(config *ArbitrageConfig, options ValidatorOptions) *Validator {
	return &Validator{config: config, options: options}
}

// ValidateStartup performs comprehensive startup validation. Should be
// called once before the first snapshot refresh.
func (v *Validator) ValidateStartup(ctx context.Context) error {
	log.Info().Msg("validating configuration")

	if err := v.validateAPIKeysPresence(); err != nil {
		return fmt.Errorf("API key validation failed: %w", err)
	}

	if v.options.VerifyConnectivity {
		if err := v.checkRedisConnectivity(ctx); err != nil {
			return fmt.Errorf("redis connectivity check failed: %w", err)
		}
	}

	if v.options.VerifyAPIKeys {
		if err := v.verifyAPIKeys(ctx); err != nil {
			return fmt.Errorf("API key verification failed: %w", err)
		}
	}

	log.Info().Msg("configuration validation completed")
	return nil
}

// validateAPIKeysPresence checks that live-trading exchanges carry non-placeholder keys.
func (v *Validator) validateAPIKeysPresence() error {
	var errors []string

	for exchangeName, exchangeConfig := range v.config.Exchanges {
		if exchangeConfig.Testnet {
			continue
		}
		if exchangeConfig.APIKey == "" {
			errors = append(errors, fmt.Sprintf("%s API key is empty", exchangeName))
		} else if isPlaceholderValue(exchangeConfig.APIKey) {
			errors = append(errors, fmt.Sprintf("%s API key appears to be a placeholder value", exchangeName))
		}

		if exchangeConfig.SecretKey == "" {
			errors = append(errors, fmt.Sprintf("%s API secret is empty", exchangeName))
		} else if isPlaceholderValue(exchangeConfig.SecretKey) {
			errors = append(errors, fmt.Sprintf("%s API secret appears to be a placeholder value", exchangeName))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}
	return nil
}

// checkRedisConnectivity tests the Redis connection used for oracle caching.
func (v *Validator) checkRedisConnectivity(ctx context.Context) error {
	connCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     v.config.Redis.GetRedisAddr(),
		Password: v.config.Redis.Password,
		DB:       v.config.Redis.DB,
	})
	defer client.Close()

	if err := client.Ping(connCtx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info().Str("addr", v.config.Redis.GetRedisAddr()).Msg("redis connectivity check passed")
	return nil
}

// verifyAPIKeys performs a lightweight, unauthenticated reachability check
// against each configured exchange, so far implemented only for Binance.
func (v *Validator) verifyAPIKeys(ctx context.Context) error {
	var errors []string

	for exchangeName, exchangeConfig := range v.config.Exchanges {
		if exchangeConfig.APIKey == "" || exchangeConfig.SecretKey == "" {
			continue
		}
		if exchangeName != "binance" {
			log.Warn().Str("exchange", exchangeName).Msg("API key verification not implemented for this exchange")
			continue
		}
		if err := v.verifyBinanceAPIKey(ctx, exchangeConfig); err != nil {
			errors = append(errors, fmt.Sprintf("binance API key verification failed: %v", err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}
	return nil
}

func (v *Validator) verifyBinanceAPIKey(ctx context.Context, cfg ExchangeConfig) error {
	baseURL := "https://api.binance.com"
	if cfg.Testnet {
		baseURL = "https://testnet.binance.vision"
	}

	reqCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL+"/api/v3/ping", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to ping binance API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("binance API ping failed with status %d", resp.StatusCode)
	}

	log.Info().Str("base_url", baseURL).Bool("testnet", cfg.Testnet).Msg("binance API connectivity verified")
	return nil
}

// isPlaceholderValue checks if a value is likely a placeholder.
func isPlaceholderValue(value string) bool {
	lowerValue := strings.ToLower(value)
	placeholders := []string{"your_api_key", "your_secret", "changeme", "placeholder", "example", "test", "sample", "demo"}
	for _, placeholder := range placeholders {
		if strings.Contains(lowerValue, placeholder) {
			return true
		}
	}
	return false
}
