package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// Validate performs comprehensive configuration validation.
func (c *ArbitrageConfig) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateCore()...)
	errors = append(errors, c.validateExchanges()...)
	errors = append(errors, c.validateEnvironmentRequirements()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *ArbitrageConfig) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{Field: "app.name", Message: "application name is required"})
	}

	if c.App.Environment == "" {
		errors = append(errors, ValidationError{Field: "app.environment", Message: "environment is required"})
	} else {
		valid := map[string]bool{"development": true, "staging": true, "production": true}
		if !valid[c.App.Environment] {
			errors = append(errors, ValidationError{
				Field:   "app.environment",
				Message: fmt.Sprintf("invalid environment %q, must be development, staging, or production", c.App.Environment),
			})
		}
	}

	return errors
}

func (c *ArbitrageConfig) validateCore() ValidationErrors {
	var errors ValidationErrors

	if c.PathLength < 2 {
		errors = append(errors, ValidationError{Field: "path_length", Message: "path_length must be at least 2"})
	}

	if c.OrderbookN < 1 {
		errors = append(errors, ValidationError{Field: "orderbook_n", Message: "orderbook_n must be at least 1"})
	}

	if c.InterexTradingSize <= 0 {
		errors = append(errors, ValidationError{Field: "interex_trading_size", Message: "interex_trading_size must be positive"})
	}

	if c.MinTradingLimit < 0 {
		errors = append(errors, ValidationError{Field: "min_trading_limit", Message: "min_trading_limit must be non-negative"})
	}

	if c.RefreshTime < 1 {
		errors = append(errors, ValidationError{Field: "refresh_time", Message: "refresh_time must be at least 1"})
	}

	if c.TradeAmtPtc <= 0 || c.TradeAmtPtc > 1 {
		errors = append(errors, ValidationError{Field: "trade_amt_ptc", Message: "trade_amt_ptc must be in (0, 1]"})
	}

	return errors
}

func (c *ArbitrageConfig) validateExchanges() ValidationErrors {
	var errors ValidationErrors

	if len(c.Exchanges) == 0 {
		errors = append(errors, ValidationError{Field: "exchanges", Message: "at least one exchange must be configured"})
	}

	for name, ex := range c.Exchanges {
		if ex.RateLimitMS < 0 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("exchanges.%s.rate_limit_ms", name),
				Message: "rate_limit_ms must be non-negative",
			})
		}
	}

	return errors
}

func (c *ArbitrageConfig) validateEnvironmentRequirements() ValidationErrors {
	var errors ValidationErrors

	if c.App.Environment != "production" {
		return errors
	}

	secretErrors := ValidateProductionSecrets(c)
	errors = append(errors, secretErrors...)

	for name, ex := range c.Exchanges {
		if ex.Testnet {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("exchanges.%s.testnet", name),
				Message: "testnet mode must be disabled in production",
			})
		}
		if ex.APIKey == "" || ex.SecretKey == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("exchanges.%s", name),
				Message: "api_key and secret_key are required in production",
			})
		}
	}

	return errors
}

// ValidateAndLoad loads and validates configuration.
func ValidateAndLoad(configPath string) (*ArbitrageConfig, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
