package httpx

import (
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines the outbound rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window.
	// Zero disables limiting.
	RequestsPerWindow int `yaml:"requests"`
	// Window is the time window for rate limiting
	Window time.Duration `yaml:"window"`
	// Burst allows for temporary bursts above the rate limit
	Burst int `yaml:"burst"`
}

// Unlimited disables client-side throttling.
var Unlimited = RateLimitConfig{}

// Enabled reports whether the config describes an actual limit.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerWindow > 0 && c.Window > 0
}

// Limit converts the window into a per-second rate.
func (c RateLimitConfig) Limit() rate.Limit {
	if !c.Enabled() {
		return rate.Inf
	}
	return rate.Limit(float64(c.RequestsPerWindow) / c.Window.Seconds())
}

// Limiter builds a token bucket for the config, or nil when disabled.
// Burst defaults to RequestsPerWindow.
func (c RateLimitConfig) Limiter() *rate.Limiter {
	if !c.Enabled() {
		return nil
	}
	burst := c.Burst
	if burst <= 0 {
		burst = c.RequestsPerWindow
	}
	return rate.NewLimiter(c.Limit(), burst)
}

// ParseRateLimitFromEnv reads rate limit configuration from environment variables.
// Environment variables follow the pattern: RATELIMIT_{prefix}_{field}
// For example: RATELIMIT_PAYCLIENT_REQUESTS, RATELIMIT_PAYCLIENT_WINDOW_SEC, RATELIMIT_PAYCLIENT_BURST
func ParseRateLimitFromEnv(prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	config := defaultConfig

	// Parse requests per window
	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests >= 0 {
			config.RequestsPerWindow = requests
		}
	}

	// Parse window duration in seconds
	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	// Parse burst size
	if val := os.Getenv("RATELIMIT_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	// A count without a window means "per second".
	if config.RequestsPerWindow > 0 && config.Window <= 0 {
		config.Window = time.Second
	}

	return config
}
