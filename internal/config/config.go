package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"
	// DatabaseSchemeSQLite is the sqlite database scheme identifier
	DatabaseSchemeSQLite = "sqlite"
)

type Config struct {
	DBDialect    string // postgres or sqlite
	DBDsn        string // DSN string passed to GORM driver
	RedisURL     string // optional: enables the distributed mining lock
	LockTTL      time.Duration
	StrictVerify bool // recompute block hashes during verification
	HTTPAddr     string
	LogLevel     string
	LogFormat    string
	Debug        bool
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using %s\n", key, v, def)
		return def
	}
	return d
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql, sqlite.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	// sqlite DSNs such as :memory: are not valid URL hosts, so only the scheme is split off
	scheme, rest, ok := strings.Cut(databaseURL, "://")
	if !ok {
		return "", "", fmt.Errorf("missing scheme in DATABASE_URL")
	}
	switch strings.ToLower(scheme) {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	case DatabaseSchemeSQLite, "sqlite3":
		// sqlite://path/to/file.db or sqlite://:memory:
		if rest == "" {
			return "", "", fmt.Errorf("empty sqlite path")
		}
		return DatabaseSchemeSQLite, rest, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", scheme)
	}
}

func Load() Config {
	cfg := Config{
		RedisURL:     strings.TrimSpace(os.Getenv("REDIS_URL")),
		LockTTL:      getenvDuration("LOCK_TTL", 5*time.Second),
		StrictVerify: getenvBool("STRICT_VERIFY", true),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		LogFormat:    getenv("LOG_FORMAT", "json"),
		Debug:        getenvBool("DEBUG", false),
	}

	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		if dialect, dsn, err := parseDatabaseURL(dbURL); err == nil {
			cfg.DBDialect = dialect
			cfg.DBDsn = dsn
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid DATABASE_URL: %v\n", err)
		}
	}

	return cfg
}

func (c Config) String() string {
	return fmt.Sprintf("db=%s http=%s strict=%t", c.DBDialect, c.HTTPAddr, c.StrictVerify)
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"db=%s dsn=%s redis=%s lock_ttl=%s strict=%t http=%s log=%s/%s",
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
		maskURL(c.RedisURL),
		c.LockTTL,
		c.StrictVerify,
		c.HTTPAddr,
		c.LogLevel,
		c.LogFormat,
	)
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			return maskURL(dsn)
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}

// maskURL drops the password from a URL's userinfo
func maskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
