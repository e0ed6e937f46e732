package config

// Version is the canonical version of the arbitrage core.
const Version = "1.0.0"

// GetVersion returns the current version.
func GetVersion() string {
	return Version
}
