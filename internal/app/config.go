package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers selectable through BLINK_STORE.
const (
	StoreSQLite = "sqlite"
	StoreYAML   = "yaml"
)

type Config struct {
	Account    string // Name the credentials are stored under (default: default)
	Username   string // Optional: Blink account email, prompted for when empty
	Password   string // Optional: Blink account password, prompted for when empty
	TOTPSecret string // Optional: base32 secret answering 2FA prompts unattended
	NoPrompt   bool   // Fail instead of prompting (default: false)

	StoreDriver     string // sqlite or yaml (default: sqlite)
	DatabaseFile    string // SQLite file (default: ./blink.db)
	CredentialsFile string // YAML file (default: ./blink-credentials.yaml)
	MasterKey       string // Optional: seals tokens at rest
	MasterKeyPath   string // Optional: file holding the master key, used when MasterKey is empty

	RateLimit      float64       // Outbound requests per second, 0 disables (default: 5)
	HTTPTimeout    time.Duration // Per request timeout (default: 30s)
	PendingFlowTTL time.Duration // How long a login waits for its 2FA code (default: 10m)
	RefreshMargin  time.Duration // Refresh this long before expiry (default: 60s)

	KeepAliveInterval time.Duration // Keep-alive tick (default: 5m)
	EventRetention    time.Duration // Credential events older than this are pruned (default: 30 days)

	Env       string // Environment (dev, prod) (default: prod)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: text)
}

// LoadEnv loads a .env file into the process environment. Variables already
// set win. A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		path = getEnvOrDefault("BLINK_ENV_FILE", ".env")
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func LoadConfig() Config {
	return Config{
		Account:    getEnvOrDefault("BLINK_ACCOUNT", "default"),
		Username:   os.Getenv("BLINK_USERNAME"),
		Password:   os.Getenv("BLINK_PASSWORD"),
		TOTPSecret: os.Getenv("BLINK_TOTP_SECRET"),
		NoPrompt:   getEnvBoolOrDefault("BLINK_NO_PROMPT", false),

		StoreDriver:     strings.ToLower(getEnvOrDefault("BLINK_STORE", StoreSQLite)),
		DatabaseFile:    getEnvOrDefault("BLINK_DATABASE_FILE", "blink.db"),
		CredentialsFile: getEnvOrDefault("BLINK_CREDENTIALS_FILE", "blink-credentials.yaml"),
		MasterKey:       os.Getenv("BLINK_MASTER_KEY"),
		MasterKeyPath:   os.Getenv("BLINK_MASTER_KEY_PATH"),

		RateLimit:      getEnvFloatOrDefault("BLINK_RATE_LIMIT", 5),
		HTTPTimeout:    getEnvDurationOrDefault("BLINK_HTTP_TIMEOUT", 30*time.Second),
		PendingFlowTTL: getEnvDurationOrDefault("BLINK_PENDING_FLOW_TTL", 10*time.Minute),
		RefreshMargin:  getEnvDurationOrDefault("BLINK_REFRESH_MARGIN", 60*time.Second),

		KeepAliveInterval: getEnvDurationOrDefault("BLINK_KEEPALIVE_INTERVAL", 5*time.Minute),
		EventRetention:    getEnvDurationOrDefault("BLINK_EVENT_RETENTION", 30*24*time.Hour),

		Env:       getEnvOrDefault("ENV", "prod"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
