package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// MongoDB client settings
const (
	MongoConnectTimeout = 10 * time.Second
	MongoMaxPoolSize    = 25
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// SSE keepalive interval for the session event stream
const SSEKeepaliveInterval = 30 * time.Second

// Default rate limiting
const DefaultRateLimitPerMin = 60
