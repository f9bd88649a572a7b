package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port       string
	DBAdapter  string
	SQLiteFile string
	LogLevel   string
	LogFormat  string
	Env        string
	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	// Token issuance
	TokenType                  string
	AccessLifetime             int
	RefreshTokenLifetime       int
	AlwaysIssueNewRefreshToken bool
	UnsetRefreshTokenAfterUse  bool
	JWTBearerAudience          string
	Issuer                     string
	IDTokenLifetime            int
	RateLimitPerMinute         int
}

// bindings maps config keys to the environment variables that set them, in
// order of precedence.
var bindings = map[string][]string{
	"port":                           {"PORT"},
	"db_adapter":                     {"DB_ADAPTER"},
	"sqlite_file":                    {"SQLITE_FILE"},
	"log_level":                      {"LOG_LEVEL"},
	"log_format":                     {"LOG_FORMAT"},
	"env":                            {"ENV", "NODE_ENV"},
	"postgres_dsn":                   {"POSTGRES_DSN"},
	"postgres_host":                  {"POSTGRES_HOST", "DB_HOST"},
	"postgres_port":                  {"POSTGRES_PORT", "DB_PORT"},
	"postgres_user":                  {"POSTGRES_USER", "DB_USER"},
	"postgres_password":              {"POSTGRES_PASSWORD", "DB_PASSWORD"},
	"postgres_db":                    {"POSTGRES_DB", "DB_NAME"},
	"postgres_sslmode":               {"POSTGRES_SSLMODE", "DB_SSLMODE"},
	"token_type":                     {"TOKEN_TYPE"},
	"access_lifetime":                {"ACCESS_LIFETIME"},
	"refresh_token_lifetime":         {"REFRESH_TOKEN_LIFETIME"},
	"always_issue_new_refresh_token": {"ALWAYS_ISSUE_NEW_REFRESH_TOKEN"},
	"unset_refresh_token_after_use":  {"UNSET_REFRESH_TOKEN_AFTER_USE"},
	"jwt_bearer_audience":            {"JWT_BEARER_AUDIENCE"},
	"issuer":                         {"ISSUER"},
	"id_token_lifetime":              {"ID_TOKEN_LIFETIME"},
	"rate_limit_per_minute":          {"RATE_LIMIT_PER_MINUTE"},
}

func defaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_adapter", "postgres")
	v.SetDefault("sqlite_file", "./data/oauth2core.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", "5432")
	v.SetDefault("postgres_user", "oauth")
	v.SetDefault("postgres_password", "oauthpass")
	v.SetDefault("postgres_db", "oauth2core")
	v.SetDefault("postgres_sslmode", "disable")
	v.SetDefault("token_type", "bearer")
	v.SetDefault("access_lifetime", 3600)
	v.SetDefault("refresh_token_lifetime", 1209600)
	v.SetDefault("always_issue_new_refresh_token", false)
	v.SetDefault("unset_refresh_token_after_use", true)
	v.SetDefault("id_token_lifetime", 3600)
	v.SetDefault("rate_limit_per_minute", 60)
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}
	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)
	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}
	return dsn, nil
}

// Production reports whether ENV (or NODE_ENV) names a production deployment.
func (c *Config) Production() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// New reads the configuration from the environment.
func New() (*Config, error) {
	v := viper.New()
	defaults(v)
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	c := &Config{
		Port:                       v.GetString("port"),
		DBAdapter:                  strings.ToLower(v.GetString("db_adapter")),
		SQLiteFile:                 v.GetString("sqlite_file"),
		LogLevel:                   v.GetString("log_level"),
		LogFormat:                  v.GetString("log_format"),
		Env:                        v.GetString("env"),
		PostgresDSN:                v.GetString("postgres_dsn"),
		PostgresHost:               v.GetString("postgres_host"),
		PostgresPort:               v.GetString("postgres_port"),
		PostgresUser:               v.GetString("postgres_user"),
		PostgresPassword:           v.GetString("postgres_password"),
		PostgresDB:                 v.GetString("postgres_db"),
		PostgresSSLMode:            v.GetString("postgres_sslmode"),
		TokenType:                  v.GetString("token_type"),
		AccessLifetime:             v.GetInt("access_lifetime"),
		RefreshTokenLifetime:       v.GetInt("refresh_token_lifetime"),
		AlwaysIssueNewRefreshToken: v.GetBool("always_issue_new_refresh_token"),
		UnsetRefreshTokenAfterUse:  v.GetBool("unset_refresh_token_after_use"),
		JWTBearerAudience:          v.GetString("jwt_bearer_audience"),
		Issuer:                     v.GetString("issuer"),
		IDTokenLifetime:            v.GetInt("id_token_lifetime"),
		RateLimitPerMinute:         v.GetInt("rate_limit_per_minute"),
	}

	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
		if c.Production() {
			return nil, errors.New("DB_ADAPTER=memory is not allowed in production")
		}
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}
	if c.TokenType == "" {
		return nil, errors.New("TOKEN_TYPE must not be empty")
	}
	if c.RateLimitPerMinute < 0 {
		return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %d", c.RateLimitPerMinute)
	}
	if c.Issuer == "" {
		c.Issuer = "http://localhost:" + c.Port
	}
	if c.JWTBearerAudience == "" {
		c.JWTBearerAudience = strings.TrimSuffix(c.Issuer, "/") + "/token"
	}
	return c, nil
}
