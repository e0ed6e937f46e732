// Package config provides configuration management for the arbitrage core.
package config

// Infrastructure Service Ports
const (
	// VaultPort is the default port for HashiCorp Vault.
	VaultPort = 8200

	// RedisPort is the default port for Redis.
	RedisPort = 6379

	// NATSPort is the default port for NATS, used to publish execution plans
	// to an external dispatcher.
	NATSPort = 4222
)

// Monitoring Service Ports
const (
	// PrometheusPort is the default port Prometheus scrapes on.
	PrometheusPort = 9090

	// NATSExporterPort is the port for the NATS Prometheus exporter.
	NATSExporterPort = 7777
)
