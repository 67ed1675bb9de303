// Package config loads possync configuration from the environment.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the possync server.
type Config struct {
	Port     string
	DataDir  string
	LogLevel string

	// Bearer token required on the /api routes. Empty disables auth.
	AuthToken string

	// Remote sync/flush endpoint (the Apps-Script-shaped collaborator).
	RemoteBaseURL string
	RemoteToken   string

	TenantID string

	FlushInterval time.Duration
	SyncInterval  time.Duration
	HydrationTTL  time.Duration

	CORSOrigins []string
}

// Load reads configuration from POSSYNC_* environment variables with
// sensible defaults.
func Load() Config {
	v := viper.New()
	v.SetEnvPrefix("POSSYNC")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8090")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTH_TOKEN", "")
	v.SetDefault("REMOTE_BASE_URL", "")
	v.SetDefault("REMOTE_TOKEN", "")
	v.SetDefault("TENANT_ID", "default")
	v.SetDefault("FLUSH_INTERVAL", "1m")
	v.SetDefault("SYNC_INTERVAL", "15m")
	v.SetDefault("HYDRATION_TTL", "72h")
	v.SetDefault("CORS_ORIGINS", "*")

	return Config{
		Port:          v.GetString("PORT"),
		DataDir:       v.GetString("DATA_DIR"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		AuthToken:     strings.TrimSpace(v.GetString("AUTH_TOKEN")),
		RemoteBaseURL: strings.TrimSpace(v.GetString("REMOTE_BASE_URL")),
		RemoteToken:   strings.TrimSpace(v.GetString("REMOTE_TOKEN")),
		TenantID:      v.GetString("TENANT_ID"),
		FlushInterval: durationOrDefault(v.GetString("FLUSH_INTERVAL"), time.Minute),
		SyncInterval:  durationOrDefault(v.GetString("SYNC_INTERVAL"), 15*time.Minute),
		HydrationTTL:  durationOrDefault(v.GetString("HYDRATION_TTL"), 72*time.Hour),
		CORSOrigins:   splitOrigins(v.GetString("CORS_ORIGINS")),
	}
}

func durationOrDefault(s string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}
