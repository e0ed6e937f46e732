package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Circuit breaker reasons (bounded set)
	ReasonMaxDrawdown    = "max_drawdown"
	ReasonHighVolatility = "high_volatility"
	ReasonRateLimit      = "rate_limit"
	ReasonManualHalt     = "manual_halt"
	ReasonOther          = "other"

	// Exchange API error categories (bounded set)
	ExchangeErrorTimeout     = "timeout"
	ExchangeErrorRateLimit   = "rate_limit"
	ExchangeErrorAuth        = "authentication"
	ExchangeErrorNetwork     = "network"
	ExchangeErrorInvalidReq  = "invalid_request"
	ExchangeErrorServerError = "server_error"
	ExchangeErrorOther       = "other"
)

// NormalizeCircuitBreakerReason maps arbitrary reasons to bounded set
func NormalizeCircuitBreakerReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "drawdown"):
		return ReasonMaxDrawdown
	case strings.Contains(lower, "volatility"):
		return ReasonHighVolatility
	case strings.Contains(lower, "rate") || strings.Contains(lower, "limit"):
		return ReasonRateLimit
	case strings.Contains(lower, "manual") || strings.Contains(lower, "halt"):
		return ReasonManualHalt
	default:
		return ReasonOther
	}
}

// NormalizeExchangeError maps arbitrary error messages to bounded set
func NormalizeExchangeError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ExchangeErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return ExchangeErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "401") || strings.Contains(errStr, "403"):
		return ExchangeErrorAuth
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return ExchangeErrorNetwork
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid"):
		return ExchangeErrorInvalidReq
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return ExchangeErrorServerError
	default:
		return ExchangeErrorOther
	}
}

// Arbitrage Metrics: the outcome of each path/amount optimizer cycle.
var (
	// Opportunities found
	OpportunitiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xarb_opportunities_total",
		Help: "Total number of profitable cycles found by the path optimizer",
	})

	// Profit rate of the most recently found opportunity
	ProfitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xarb_profit_rate",
		Help: "Profit rate (exp(objective) - 1) of the most recently found opportunity",
	})

	// Solver duration by component (path_optimizer, amount_optimizer)
	SolverDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xarb_solver_duration_seconds",
		Help:    "MIP solve duration in seconds by component",
		Buckets: prometheus.DefBuckets,
	}, []string{"component"})

	// Snapshot refresh outcomes by exchange
	SnapshotRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xarb_snapshot_refresh_total",
		Help: "Total market snapshot refreshes by exchange and outcome",
	}, []string{"exchange", "outcome"})
)

// System Health Metrics
var (
	// Redis cache hit rate
	RedisCacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cryptofunk_redis_cache_hit_rate",
		Help: "Redis cache hit rate as a ratio (0.0 to 1.0)",
	})

	// Redis operations
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptofunk_redis_operations_total",
		Help: "Total number of Redis operations by type",
	}, []string{"operation"})

	// API request duration
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cryptofunk_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"method", "path", "status_code"})

	// HTTP requests
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptofunk_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status_code"})

	// Errors
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptofunk_errors_total",
		Help: "Total number of errors by type",
	}, []string{"type", "component"})

	// NATS messages
	NATSMessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cryptofunk_nats_messages_published_total",
		Help: "Total number of NATS messages published",
	})

	NATSMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cryptofunk_nats_messages_received_total",
		Help: "Total number of NATS messages received",
	})
)

// Circuit Breaker Metrics
var (
	// Circuit breaker status (1 = active, 0 = inactive)
	CircuitBreakerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cryptofunk_circuit_breaker_status",
		Help: "Circuit breaker status (1 = active/tripped, 0 = inactive)",
	}, []string{"breaker_type"})

	// Circuit breaker trips
	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptofunk_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips",
	}, []string{"breaker_type", "reason"})
)

// Exchange Metrics
var (
	// Exchange API latency
	ExchangeAPILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cryptofunk_exchange_api_latency_ms",
		Help:    "Exchange API latency in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"exchange", "endpoint"})

	// Exchange API errors
	ExchangeAPIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptofunk_exchange_api_errors_total",
		Help: "Total exchange API errors",
	}, []string{"exchange", "error_type"})
)

// Helper functions to update metrics

// RecordOpportunity records the outcome of one path-optimizer cycle.
func RecordOpportunity(found bool, profitRate float64) {
	if !found {
		return
	}
	OpportunitiesTotal.Inc()
	ProfitRate.Set(profitRate)
}

// RecordSolverDuration records how long a solver component took to solve.
func RecordSolverDuration(component string, seconds float64) {
	SolverDuration.WithLabelValues(component).Observe(seconds)
}

// RecordSnapshotRefresh records a snapshot refresh outcome for an exchange.
func RecordSnapshotRefresh(exchange, outcome string) {
	SnapshotRefreshTotal.WithLabelValues(exchange, outcome).Inc()
}

// RecordAPIRequest records an API request with duration
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	APIRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}

// RecordRedisOperation records a Redis operation
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

// UpdateCircuitBreaker updates circuit breaker status
func UpdateCircuitBreaker(breakerType string, active bool) {
	status := 0.0
	if active {
		status = 1.0
	}
	CircuitBreakerStatus.WithLabelValues(breakerType).Set(status)
}

// RecordCircuitBreakerTrip records a circuit breaker trip with normalized reason
func RecordCircuitBreakerTrip(breakerType, reason string) {
	normalizedReason := NormalizeCircuitBreakerReason(reason)
	CircuitBreakerTrips.WithLabelValues(breakerType, normalizedReason).Inc()
}

// RecordExchangeAPICall records an exchange API call with normalized error category
func RecordExchangeAPICall(exchange, endpoint string, durationMs float64, err error) {
	ExchangeAPILatency.WithLabelValues(exchange, endpoint).Observe(durationMs)
	if err != nil {
		errorCategory := NormalizeExchangeError(err)
		ExchangeAPIErrors.WithLabelValues(exchange, errorCategory).Inc()
	}
}
