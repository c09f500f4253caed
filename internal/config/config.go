// Package config centralises configuration parsing for the tracker binaries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"example.com/gymtracker/internal/geo"
	"example.com/gymtracker/internal/location"
)

// Config captures runtime configuration values.
type Config struct {
	HTTPAddress string
	LogLevel    string

	StoreBackend string
	StoreDSN     string

	RemoteAPIURL     string // empty selects the in-memory API
	RemoteAPIToken   string
	RemoteAPITimeout time.Duration

	GymLatitude     float64
	GymLongitude    float64
	GymRadiusMeters float64

	ForegroundDebounce time.Duration // Minimum spacing of processed foreground fixes.
	BackgroundInterval time.Duration // How often the background task runs.
	GuardTimeout       time.Duration // Force-release delay of the transition guard.
	PositionMaxAge     time.Duration // Oldest fix the background task may act on; 0 disables.

	KafkaBrokers    []string // empty disables Kafka
	NotifyTopic     string
	LocationTopic   string // empty disables the Kafka location source
	LocationGroupID string

	JWTSecret string
	JWTIssuer string

	PermissionForeground location.PermissionStatus
	PermissionBackground location.PermissionStatus
}

// Load reads environment variables into Config, applying sensible defaults for local dev.
func Load() Config {
	cfg := Config{
		HTTPAddress:          getEnv("HTTP_ADDRESS", ":8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		StoreBackend:         getEnv("STORE_BACKEND", "badger"),
		StoreDSN:             getEnv("STORE_DSN", "data/gymtracker"),
		RemoteAPIURL:         getEnv("REMOTE_API_URL", ""),
		RemoteAPIToken:       getEnv("REMOTE_API_TOKEN", ""),
		RemoteAPITimeout:     getDurationEnv("REMOTE_API_TIMEOUT", 4*time.Second),
		GymLatitude:          getFloatEnv("GYM_LATITUDE", 52.5200),
		GymLongitude:         getFloatEnv("GYM_LONGITUDE", 13.4050),
		GymRadiusMeters:      getFloatEnv("GYM_RADIUS_METERS", 100),
		ForegroundDebounce:   getDurationEnv("FOREGROUND_DEBOUNCE", location.DefaultDebounceInterval),
		BackgroundInterval:   getDurationEnv("BACKGROUND_INTERVAL", location.DefaultTaskInterval),
		GuardTimeout:         getDurationEnv("GUARD_TIMEOUT", 5*time.Second),
		PositionMaxAge:       getDurationEnv("POSITION_MAX_AGE", location.DefaultMaxPositionAge),
		NotifyTopic:          getEnv("NOTIFY_TOPIC", "gym-notifications"),
		LocationTopic:        getEnv("LOCATION_TOPIC", ""),
		LocationGroupID:      getEnv("LOCATION_GROUP_ID", "gymtracker"),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:            getEnv("JWT_ISSUER", "i5e.identity"),
		PermissionForeground: location.ParsePermission(getEnv("PERMISSION_FOREGROUND", "granted")),
		PermissionBackground: location.ParsePermission(getEnv("PERMISSION_BACKGROUND", "granted")),
	}

	cfg.KafkaBrokers = splitAndTrim(getEnv("KAFKA_BROKERS", ""))
	return cfg
}

// Geofence builds the configured gym geofence.
func (c Config) Geofence() (geo.Geofence, error) {
	return geo.NewGeofence(geo.Coordinate{Latitude: c.GymLatitude, Longitude: c.GymLongitude}, c.GymRadiusMeters)
}

// Validate reports configuration that would make the tracker misbehave.
func (c Config) Validate() error {
	if _, err := c.Geofence(); err != nil {
		return fmt.Errorf("gym geofence: %w", err)
	}
	if c.ForegroundDebounce < 0 {
		return fmt.Errorf("FOREGROUND_DEBOUNCE must be >= 0, got %s", c.ForegroundDebounce)
	}
	if c.BackgroundInterval <= 0 {
		return fmt.Errorf("BACKGROUND_INTERVAL must be > 0, got %s", c.BackgroundInterval)
	}
	if c.GuardTimeout <= 0 {
		return fmt.Errorf("GUARD_TIMEOUT must be > 0, got %s", c.GuardTimeout)
	}
	// a remote call may not outlive the guard it runs under
	if c.GuardTimeout <= c.RemoteAPITimeout {
		return fmt.Errorf("GUARD_TIMEOUT (%s) must exceed REMOTE_API_TIMEOUT (%s)", c.GuardTimeout, c.RemoteAPITimeout)
	}
	if c.PositionMaxAge < 0 {
		return fmt.Errorf("POSITION_MAX_AGE must be >= 0, got %s", c.PositionMaxAge)
	}
	if c.LocationTopic != "" && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("LOCATION_TOPIC requires KAFKA_BROKERS")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
