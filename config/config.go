// Package config is responsible for loading and managing application configuration.
// Configuration is read from environment variables (main loads an optional .env file first),
// and every problem found is collected so the operator sees all of them at once.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Database drivers understood by the db package.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig holds the settings for the relational store.
type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	MaxSize    int    // Maximum number of pooled connections (Postgres only)
	SQLitePath string // File path or DSN for the SQLite driver
	// AutoMigrate applies pending migrations when the server starts.
	AutoMigrate bool
}

// AuthConfig holds token settings.
type AuthConfig struct {
	JWTSecret            string        // Secret key for signing JWTs
	AccessTokenDuration  time.Duration // Lifetime of access tokens
	RefreshTokenDuration time.Duration // Lifetime of refresh tokens
	Issuer               string
}

// EnrichmentConfig configures the optional profile lookup performed at signup.
type EnrichmentConfig struct {
	Enabled bool
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// BackfillInterval is how often users whose lookup failed at signup are retried.
	// Zero disables the backfill.
	BackfillInterval time.Duration
	BackfillWorkers  int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	CORSAllowedOrigins []string
}

// LogConfig selects the zap logger flavour.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// AppConfig is the root configuration object.
type AppConfig struct {
	Database   *DatabaseConfig
	Auth       *AuthConfig
	Enrichment *EnrichmentConfig
	Server     *ServerConfig
	Log        *LogConfig
}

func getRequiredEnv(key string, errs *error) string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		*errs = multierr.Append(*errs, fmt.Errorf("missing required environment variable: %s", key))
		return ""
	}
	return value
}

func getOptionalEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getOptionalEnvInt(key string, defaultValue int, errs *error) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	valueInt, err := strconv.Atoi(valueStr)
	if err != nil {
		*errs = multierr.Append(*errs, fmt.Errorf("invalid value for %s: expected integer, got '%s': %w", key, valueStr, err))
		return defaultValue
	}
	return valueInt
}

func getOptionalEnvBool(key string, defaultValue bool, errs *error) bool {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	valueBool, err := strconv.ParseBool(valueStr)
	if err != nil {
		*errs = multierr.Append(*errs, fmt.Errorf("invalid value for %s: expected boolean, got '%s': %w", key, valueStr, err))
		return defaultValue
	}
	return valueBool
}

func getOptionalEnvDuration(key string, defaultValue time.Duration, errs *error) time.Duration {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	valueDuration, err := time.ParseDuration(valueStr)
	if err != nil {
		*errs = multierr.Append(*errs, fmt.Errorf("invalid value for %s: expected duration string, got '%s': %w", key, valueStr, err))
		return defaultValue
	}
	return valueDuration
}

// clampPoolSize keeps the pool size between 5 and 100.
func clampPoolSize(size int) int {
	if size < 5 {
		return 5
	}
	if size > 100 {
		return 100
	}
	return size
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*AppConfig, error) {
	var errs error

	dbCfg := &DatabaseConfig{
		Driver:      strings.ToLower(getOptionalEnv("DB_DRIVER", DriverPostgres)),
		Host:        getOptionalEnv("DB_HOST", "localhost"),
		Port:        getOptionalEnvInt("DB_PORT", 5432, &errs),
		MaxSize:     clampPoolSize(getOptionalEnvInt("DB_POOL_SIZE", 10, &errs)),
		SQLitePath:  getOptionalEnv("DB_SQLITE_PATH", "postboard.db"),
		AutoMigrate: getOptionalEnvBool("DB_AUTO_MIGRATE", false, &errs),
	}
	switch dbCfg.Driver {
	case DriverPostgres:
		dbCfg.User = getRequiredEnv("DB_USER", &errs)
		dbCfg.Password = getRequiredEnv("DB_PASSWORD", &errs)
		dbCfg.DBName = getRequiredEnv("DB_NAME", &errs)
	case DriverSQLite:
	default:
		errs = multierr.Append(errs, fmt.Errorf("unsupported DB_DRIVER %q: expected %q or %q", dbCfg.Driver, DriverPostgres, DriverSQLite))
	}

	authCfg := &AuthConfig{
		JWTSecret:            getRequiredEnv("JWT_SECRET", &errs),
		AccessTokenDuration:  getOptionalEnvDuration("JWT_ACCESS_TOKEN_DURATION", 15*time.Minute, &errs),
		RefreshTokenDuration: getOptionalEnvDuration("JWT_REFRESH_TOKEN_DURATION", 168*time.Hour, &errs), // 7 days
		Issuer:               getOptionalEnv("JWT_ISSUER", "postboard"),
	}

	enrichCfg := &EnrichmentConfig{
		Enabled: getOptionalEnvBool("ENRICHMENT_ENABLED", false, &errs),
		APIKey:  getOptionalEnv("ENRICHMENT_API_KEY", ""),
		BaseURL: getOptionalEnv("ENRICHMENT_BASE_URL", "https://person.clearbit.com"),
		Timeout: getOptionalEnvDuration("ENRICHMENT_TIMEOUT", 3*time.Second, &errs),

		BackfillInterval: getOptionalEnvDuration("ENRICHMENT_BACKFILL_INTERVAL", 5*time.Minute, &errs),
		BackfillWorkers:  getOptionalEnvInt("ENRICHMENT_BACKFILL_WORKERS", 3, &errs),
	}
	if enrichCfg.BackfillInterval < 0 {
		errs = multierr.Append(errs, errors.New("ENRICHMENT_BACKFILL_INTERVAL must not be negative"))
	}
	if enrichCfg.BackfillWorkers < 1 {
		errs = multierr.Append(errs, errors.New("ENRICHMENT_BACKFILL_WORKERS must be at least 1"))
	}
	if enrichCfg.Enabled && enrichCfg.APIKey == "" {
		errs = multierr.Append(errs, errors.New("ENRICHMENT_API_KEY is required when ENRICHMENT_ENABLED is true"))
	}

	serverCfg := &ServerConfig{
		Port:               getOptionalEnv("PORT", "8080"),
		CORSAllowedOrigins: splitList(getOptionalEnv("CORS_ALLOWED_ORIGINS", "*")),
	}

	logCfg := &LogConfig{
		Level:  strings.ToLower(getOptionalEnv("LOG_LEVEL", "info")),
		Format: strings.ToLower(getOptionalEnv("LOG_FORMAT", "json")),
	}

	if errs != nil {
		msgs := make([]string, 0, len(multierr.Errors(errs)))
		for _, e := range multierr.Errors(errs) {
			msgs = append(msgs, e.Error())
		}
		return nil, fmt.Errorf("configuration errors:\n- %s", strings.Join(msgs, "\n- "))
	}

	return &AppConfig{
		Database:   dbCfg,
		Auth:       authCfg,
		Enrichment: enrichCfg,
		Server:     serverCfg,
		Log:        logCfg,
	}, nil
}

// String masks secrets so the config can be logged at startup.
func (c *AppConfig) String() string {
	return fmt.Sprintf("Config{DB: %s@%s:%d/%s (%s), Server: :%s, Auth: *** (masked) ***, Enrichment: %t}",
		c.Database.User, c.Database.Host, c.Database.Port, c.Database.DBName, c.Database.Driver,
		c.Server.Port, c.Enrichment.Enabled)
}
