package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Solver-wide constants from the original optimization formulation. These
// are not user-tunable; they are named here so every package that needs
// them imports one source of truth.
const (
	// BigM is the large constant used to linearize the amount optimizer's
	// layer-selection constraint (x <= BigM*y) and to size the synthetic
	// inter-exchange order book.
	BigM = 1e10
	// Amplifier scales the amount optimizer's objective into a stable numeric range.
	Amplifier = 1e-10
	// DefaultPrecision is the fallback amount decimal precision when a market
	// reports none.
	DefaultPrecision = 3
	// InterExchangePrecisionStep is the fixed precision used for inter-exchange legs.
	InterExchangePrecisionStep = 5
)

// ExchangeConfig contains exchange-specific settings.
type ExchangeConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	SecretKey   string  `mapstructure:"secret_key"`
	Testnet     bool    `mapstructure:"testnet"`
	RateLimitMS int     `mapstructure:"rate_limit_ms"`
	// TradingFeePct is the maker/taker fee rate charged on this exchange's
	// intra-exchange trades, applied as the commission on every edge whose
	// endpoints share this exchange.
	TradingFeePct float64 `mapstructure:"trading_fee_pct"`
}

// OracleConfig contains price and withdrawal-fee oracle settings.
type OracleConfig struct {
	PriceAPIURL       string `mapstructure:"price_api_url"`
	PriceAPIKeyHeader string `mapstructure:"price_api_key_header"`
	PriceAPIKey       string `mapstructure:"price_api_key"`
	WithdrawalFeeURL  string `mapstructure:"withdrawal_fee_url"`
}

// RedisConfig contains Redis cache settings used to memoize oracle calls.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTLSec   int    `mapstructure:"ttl_seconds"`
}

// MonitoringConfig contains monitoring settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// RunLogConfig configures the append-only per-invocation text log.
type RunLogConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig configures the optional publish of a built execution plan to an
// external dispatcher. A dispatcher that executes the plan is out of scope;
// only the publish step lives here.
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// ArbitrageConfig is the single validated, immutable configuration record for
// the arbitrage core. Every field enumerated in the external-interfaces
// section of the specification this module implements has a home here.
type ArbitrageConfig struct {
	App AppConfig `mapstructure:"app"`

	// PathLength bounds the length of any cycle C3 may return.
	PathLength int `mapstructure:"path_length"`
	// OrderbookN is the number of order book layers C4 considers per leg.
	OrderbookN int `mapstructure:"orderbook_n"`
	// IncludeFiat controls whether fiat-currency nodes are present in the graph.
	IncludeFiat bool `mapstructure:"include_fiat"`
	// InterExchangeTrading enables inter-exchange transfer edges.
	InterExchangeTrading bool `mapstructure:"inter_exchange_trading"`
	// InterexTradingSize is the USD notional used to normalize withdrawal fees
	// into a per-unit rate.
	InterexTradingSize float64 `mapstructure:"interex_trading_size"`
	// MinTradingLimit is the USD volume gate and "is-funded" threshold.
	MinTradingLimit float64 `mapstructure:"min_trading_limit"`
	// RefreshTime is the tick period, in Refresh() calls, between fee/price updates.
	RefreshTime int `mapstructure:"refresh_time"`
	// ConsiderInitBal gates whether the required-currency constraint is added at all.
	ConsiderInitBal bool `mapstructure:"consider_init_bal"`
	// ConsiderInterExcBal gates whether live balances cap inter-exchange edge volume.
	ConsiderInterExcBal bool `mapstructure:"consider_inter_exc_bal"`
	// TradeAmtPtc is the fraction of a chosen order-book layer's depth usable by C4.
	TradeAmtPtc float64 `mapstructure:"trade_amt_ptc"`
	// SimulatedBal, when non-nil, replaces live balance fetches with fixed values
	// keyed "EXCHANGE.CURRENCY" -> amount.
	SimulatedBal map[string]float64 `mapstructure:"simulated_bal"`
	// RequiredCurrencies seeds the changeable required-currency constraint.
	RequiredCurrencies []string `mapstructure:"required_currencies"`

	Exchanges map[string]ExchangeConfig `mapstructure:"exchanges"`
	Oracle    OracleConfig              `mapstructure:"oracle"`
	Redis     RedisConfig               `mapstructure:"redis"`
	Monitoring MonitoringConfig         `mapstructure:"monitoring"`
	RunLog    RunLogConfig              `mapstructure:"run_log"`
	NATS      NATSConfig                `mapstructure:"nats"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// Load reads configuration from file and environment variables, applies
// defaults, rejects unknown keys, and validates the result. configPath may
// be empty to fall back to ./configs/config.yaml or ./config.yaml.
func Load(configPath string) (*ArbitrageConfig, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("XARB")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := rejectUnknownKeys(v); err != nil {
		return nil, err
	}

	var cfg ArbitrageConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// knownTopLevelKeys lists every mapstructure tag accepted at the config root.
// A key outside this set at construction time is a configuration error, not
// a silently-ignored typo.
var knownTopLevelKeys = map[string]struct{}{
	"app": {}, "path_length": {}, "orderbook_n": {}, "include_fiat": {},
	"inter_exchange_trading": {}, "interex_trading_size": {}, "min_trading_limit": {},
	"refresh_time": {}, "consider_init_bal": {}, "consider_inter_exc_bal": {},
	"trade_amt_ptc": {}, "simulated_bal": {}, "required_currencies": {},
	"exchanges": {}, "oracle": {}, "redis": {}, "monitoring": {}, "run_log": {}, "nats": {},
}

func rejectUnknownKeys(v *viper.Viper) error {
	var errs ValidationErrors
	for _, key := range v.AllKeys() {
		root := key
		if idx := indexOfDot(key); idx >= 0 {
			root = key[:idx]
		}
		if _, ok := knownTopLevelKeys[root]; !ok {
			errs = append(errs, ValidationError{
				Field:   key,
				Message: fmt.Sprintf("unknown configuration key %q", key),
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func indexOfDot(s string) int {
	for i, r := range s {
		if r == '.' {
			return i
		}
	}
	return -1
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "xarb-core")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("path_length", 4)
	v.SetDefault("orderbook_n", 5)
	v.SetDefault("include_fiat", false)
	v.SetDefault("inter_exchange_trading", true)
	v.SetDefault("interex_trading_size", 100.0)
	v.SetDefault("min_trading_limit", 10.0)
	v.SetDefault("refresh_time", 1000)
	v.SetDefault("consider_init_bal", true)
	v.SetDefault("consider_inter_exc_bal", true)
	v.SetDefault("trade_amt_ptc", 1.0)
	v.SetDefault("required_currencies", []string{})

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl_seconds", 30)

	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	v.SetDefault("oracle.price_api_key_header", "X-CMC_PRO_API_KEY")

	v.SetDefault("run_log.path", "./runlog/arbitrage.log")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "xarb.plans")
}

// GetRedisAddr returns the Redis address.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
