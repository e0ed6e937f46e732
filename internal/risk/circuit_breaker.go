package risk

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Circuit breaker states for Prometheus metrics
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"

	// Metric result labels
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Circuit breaker thresholds - configurable per service type
const (
	// Exchange circuit breaker settings
	ExchangeMinRequests     = 5                // Minimum requests before tripping
	ExchangeFailureRatio    = 0.6              // Failure ratio threshold (60%)
	ExchangeOpenTimeout     = 30 * time.Second // How long circuit stays open
	ExchangeHalfOpenMaxReqs = 3                // Max requests in half-open state
	ExchangeCountInterval   = 10 * time.Second // Window for counting failures

	// Redis circuit breaker settings (guards the price cache, fast recovery)
	RedisMinRequests     = 10               // Minimum requests before tripping
	RedisFailureRatio    = 0.6              // Failure ratio threshold (60%)
	RedisOpenTimeout     = 15 * time.Second // How long circuit stays open (quick recovery)
	RedisHalfOpenMaxReqs = 5                // Max requests in half-open state
	RedisCountInterval   = 10 * time.Second // Window for counting failures

	// Oracle circuit breaker settings (price/withdrawal-fee HTTP lookups)
	OracleMinRequests     = 5                // Minimum requests before tripping
	OracleFailureRatio    = 0.6              // Failure ratio threshold (60%)
	OracleOpenTimeout     = 20 * time.Second // How long circuit stays open
	OracleHalfOpenMaxReqs = 3                // Max requests in half-open state
	OracleCountInterval   = 10 * time.Second // Window for counting failures
)

// CircuitBreakerManager manages circuit breakers for different service types
type CircuitBreakerManager struct {
	exchange *gobreaker.CircuitBreaker
	redis    *gobreaker.CircuitBreaker
	oracle   *gobreaker.CircuitBreaker
	metrics  *CircuitBreakerMetrics
}

// CircuitBreakerMetrics holds Prometheus metrics for circuit breakers
type CircuitBreakerMetrics struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
}

var (
	// Global metrics instance (singleton)
	globalMetrics *CircuitBreakerMetrics
	metricsOnce   sync.Once
)

// initMetrics initializes the global metrics instance exactly once in a thread-safe manner
func initMetrics() {
	metricsOnce.Do(func() {
		globalMetrics = &CircuitBreakerMetrics{
			state: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "circuit_breaker_state",
					Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
				},
				[]string{"service"},
			),
			requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "circuit_breaker_requests_total",
					Help: "Total number of requests through circuit breaker",
				},
				[]string{"service", "result"},
			),
			failures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "circuit_breaker_failures_total",
					Help: "Total number of failures tracked by circuit breaker",
				},
				[]string{"service"},
			),
		}
	})
}

// ServiceSettings holds circuit breaker configuration for a single service
type ServiceSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

// ParseDuration parses a duration string and returns the duration or a default value
func ParseDuration(durationStr string, defaultValue time.Duration) time.Duration {
	if durationStr == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(durationStr)
	if err != nil {
		return defaultValue
	}
	return duration
}

// NewCircuitBreakerManager creates a new circuit breaker manager with default settings
// This function maintains backward compatibility for existing code
func NewCircuitBreakerManager() *CircuitBreakerManager {
	return NewCircuitBreakerManagerWithSettings(nil, nil)
}

// NewCircuitBreakerManagerFromConfig creates a circuit breaker manager from config settings
// It converts a value of an unnamed struct type with fields MinRequests, FailureRatio,
// OpenTimeout (duration string), HalfOpenMaxReqs and CountInterval (duration string) to
// ServiceSettings; any other value, including a named struct type, falls back to the defaults
func NewCircuitBreakerManagerFromConfig(exchangeCfg, redisCfg interface{}) *CircuitBreakerManager {
	// Type assertion and conversion for exchange settings
	var exchangeSettings *ServiceSettings
	if cfg, ok := exchangeCfg.(struct {
		MinRequests     uint32
		FailureRatio    float64
		OpenTimeout     string
		HalfOpenMaxReqs uint32
		CountInterval   string
	}); ok {
		exchangeSettings = &ServiceSettings{
			MinRequests:     cfg.MinRequests,
			FailureRatio:    cfg.FailureRatio,
			OpenTimeout:     ParseDuration(cfg.OpenTimeout, ExchangeOpenTimeout),
			HalfOpenMaxReqs: cfg.HalfOpenMaxReqs,
			CountInterval:   ParseDuration(cfg.CountInterval, ExchangeCountInterval),
		}
	}

	// Type assertion and conversion for redis settings
	var redisSettings *ServiceSettings
	if cfg, ok := redisCfg.(struct {
		MinRequests     uint32
		FailureRatio    float64
		OpenTimeout     string
		HalfOpenMaxReqs uint32
		CountInterval   string
	}); ok {
		redisSettings = &ServiceSettings{
			MinRequests:     cfg.MinRequests,
			FailureRatio:    cfg.FailureRatio,
			OpenTimeout:     ParseDuration(cfg.OpenTimeout, RedisOpenTimeout),
			HalfOpenMaxReqs: cfg.HalfOpenMaxReqs,
			CountInterval:   ParseDuration(cfg.CountInterval, RedisCountInterval),
		}
	}

	return NewCircuitBreakerManagerWithSettings(exchangeSettings, redisSettings)
}

// NewCircuitBreakerManagerWithSettings creates a new circuit breaker manager with Prometheus metrics
// If settings are nil, defaults to the constants defined above
func NewCircuitBreakerManagerWithSettings(exchangeSettings, redisSettings *ServiceSettings) *CircuitBreakerManager {
	// Register metrics only once using sync.Once for thread safety
	initMetrics()

	metrics := globalMetrics

	manager := &CircuitBreakerManager{
		metrics: metrics,
	}

	// Use defaults if settings not provided
	if exchangeSettings == nil {
		exchangeSettings = &ServiceSettings{
			MinRequests:     ExchangeMinRequests,
			FailureRatio:    ExchangeFailureRatio,
			OpenTimeout:     ExchangeOpenTimeout,
			HalfOpenMaxReqs: ExchangeHalfOpenMaxReqs,
			CountInterval:   ExchangeCountInterval,
		}
	}
	if redisSettings == nil {
		redisSettings = &ServiceSettings{
			MinRequests:     RedisMinRequests,
			FailureRatio:    RedisFailureRatio,
			OpenTimeout:     RedisOpenTimeout,
			HalfOpenMaxReqs: RedisHalfOpenMaxReqs,
			CountInterval:   RedisCountInterval,
		}
	}

	// Exchange circuit breaker: configurable thresholds
	manager.exchange = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "exchange",
		MaxRequests: exchangeSettings.HalfOpenMaxReqs,
		Interval:    exchangeSettings.CountInterval,
		Timeout:     exchangeSettings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= exchangeSettings.MinRequests && failureRatio >= exchangeSettings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			manager.updateMetrics("exchange", to)
		},
	})

	// Redis circuit breaker: quick recovery for the price cache connection
	manager.redis = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: redisSettings.HalfOpenMaxReqs,
		Interval:    redisSettings.CountInterval,
		Timeout:     redisSettings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= redisSettings.MinRequests && failureRatio >= redisSettings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			manager.updateMetrics("redis", to)
		},
	})

	// Oracle circuit breaker: guards price and withdrawal-fee HTTP lookups
	manager.oracle = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oracle",
		MaxRequests: OracleHalfOpenMaxReqs,
		Interval:    OracleCountInterval,
		Timeout:     OracleOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= OracleMinRequests && failureRatio >= OracleFailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			manager.updateMetrics("oracle", to)
		},
	})

	// Initialize metrics
	manager.updateMetrics("exchange", manager.exchange.State())
	manager.updateMetrics("redis", manager.redis.State())
	manager.updateMetrics("oracle", manager.oracle.State())

	return manager
}

// NewPassthroughCircuitBreakerManager creates a circuit breaker manager that never trips.
// This is useful for testing scenarios where you want to test other components without
// the circuit breaker interfering.
func NewPassthroughCircuitBreakerManager() *CircuitBreakerManager {
	// Register metrics only once using sync.Once for thread safety
	initMetrics()

	metrics := globalMetrics

	manager := &CircuitBreakerManager{
		metrics: metrics,
	}

	// Passthrough circuit breaker - never trips
	neverTrip := func(counts gobreaker.Counts) bool {
		return false // Never trip
	}

	manager.exchange = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "exchange_passthrough",
		MaxRequests: 1000,
		Interval:    0,
		Timeout:     1 * time.Millisecond,
		ReadyToTrip: neverTrip,
	})

	manager.redis = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis_passthrough",
		MaxRequests: 1000,
		Interval:    0,
		Timeout:     1 * time.Millisecond,
		ReadyToTrip: neverTrip,
	})

	manager.oracle = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oracle_passthrough",
		MaxRequests: 1000,
		Interval:    0,
		Timeout:     1 * time.Millisecond,
		ReadyToTrip: neverTrip,
	})

	return manager
}

// Exchange returns the exchange circuit breaker
func (m *CircuitBreakerManager) Exchange() *gobreaker.CircuitBreaker {
	return m.exchange
}

// Oracle returns the circuit breaker guarding price and withdrawal-fee
// oracle HTTP calls.
func (m *CircuitBreakerManager) Oracle() *gobreaker.CircuitBreaker {
	return m.oracle
}

// Redis returns the circuit breaker guarding the price cache connection.
func (m *CircuitBreakerManager) Redis() *gobreaker.CircuitBreaker {
	return m.redis
}

// updateMetrics updates Prometheus metrics for a circuit breaker state change
func (m *CircuitBreakerManager) updateMetrics(service string, state gobreaker.State) {
	var stateValue float64
	switch state {
	case gobreaker.StateClosed:
		stateValue = 0
	case gobreaker.StateOpen:
		stateValue = 1
	case gobreaker.StateHalfOpen:
		stateValue = 2
	}
	m.metrics.state.WithLabelValues(service).Set(stateValue)
}

// RecordRequest records a request result for metrics
func (m *CircuitBreakerMetrics) RecordRequest(service string, success bool) {
	result := ResultSuccess
	if !success {
		result = ResultFailure
		m.failures.WithLabelValues(service).Inc()
	}
	m.requests.WithLabelValues(service, result).Inc()
}

// Metrics returns the metrics instance for manual recording
func (m *CircuitBreakerManager) Metrics() *CircuitBreakerMetrics {
	return m.metrics
}
