package redis

import "time"

// Config holds Redis connection and behavior settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379)
	URL string

	// Pool settings
	PoolSize     int
	MinIdleConns int

	// TTL settings. Zero disables expiry.
	GuestPlayerTTL time.Duration
	LobbyTTL       time.Duration

	// MaxTxRetries bounds optimistic transaction retries when a watched key
	// changes underneath us
	MaxTxRetries int
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		URL:            "redis://localhost:6379",
		PoolSize:       10,
		MinIdleConns:   2,
		GuestPlayerTTL: 24 * time.Hour,
		LobbyTTL:       48 * time.Hour,
		MaxTxRetries:   50,
	}
}
