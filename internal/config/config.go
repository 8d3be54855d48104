package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Email      EmailConfig      `yaml:"email"`
	ThingSpeak ThingSpeakConfig `yaml:"thingspeak"`
	AlertRules AlertRulesConfig `yaml:"alert_rules"`
	Auth       AuthConfig       `yaml:"auth"`
}

type ServerConfig struct {
	ReadTimeout    int      `yaml:"read_timeout"`
	WriteTimeout   int      `yaml:"write_timeout"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type PostgresConfig struct {
	AutoMigrate   bool   `yaml:"auto_migrate"`
	ListenChanges bool   `yaml:"listen_changes"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	Database      string `yaml:"database"`
	SSLMode       string `yaml:"sslmode"`
}

// RedisConfig enables the cross-replica location lock when Enabled is set
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	LockTTL  int    `yaml:"lock_ttl_seconds"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type ThingSpeakConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout_seconds"`
}

type AlertRulesConfig struct {
	GasThreshold         float64 `yaml:"gas_threshold"`
	TemperatureThreshold float64 `yaml:"temperature_threshold"`
	WindowMinutes        int     `yaml:"window_minutes"`
	PollInterval         int     `yaml:"poll_interval_seconds"`
	Workers              int     `yaml:"workers"`
	QueueSize            int     `yaml:"queue_size"`
}

// Window returns the create-vs-update lookback
func (a AlertRulesConfig) Window() time.Duration {
	return time.Duration(a.WindowMinutes) * time.Minute
}

// PollEvery returns the telemetry polling period; zero disables polling
func (a AlertRulesConfig) PollEvery() time.Duration {
	return time.Duration(a.PollInterval) * time.Second
}

// AuthConfig holds the secret the hosted backend signs its access tokens with
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Audience  string `yaml:"audience"`
}

// overrideFromEnv overrides config values with environment variables
func overrideFromEnv(cfg *Config) {
	// Server configuration
	if port := os.Getenv("SERVER_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &cfg.Server.Port)
	}
	if readTimeout := os.Getenv("SERVER_READ_TIMEOUT"); readTimeout != "" {
		fmt.Sscanf(readTimeout, "%d", &cfg.Server.ReadTimeout)
	}
	if writeTimeout := os.Getenv("SERVER_WRITE_TIMEOUT"); writeTimeout != "" {
		fmt.Sscanf(writeTimeout, "%d", &cfg.Server.WriteTimeout)
	}
	if origins := os.Getenv("SERVER_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	// PostgreSQL configuration
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		cfg.Postgres.Host = host
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &cfg.Postgres.Port)
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		cfg.Postgres.User = user
	}
	if pass := os.Getenv("POSTGRES_PASSWORD"); pass != "" {
		cfg.Postgres.Password = pass
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		cfg.Postgres.Database = db
	}
	if sslmode := os.Getenv("POSTGRES_SSLMODE"); sslmode != "" {
		cfg.Postgres.SSLMode = sslmode
	}
	if autoMigrate := os.Getenv("POSTGRES_AUTO_MIGRATE"); autoMigrate != "" {
		cfg.Postgres.AutoMigrate = strings.ToLower(autoMigrate) == "true"
	}
	if listen := os.Getenv("POSTGRES_LISTEN_CHANGES"); listen != "" {
		cfg.Postgres.ListenChanges = strings.ToLower(listen) == "true"
	}

	// Redis configuration
	if enabled := os.Getenv("REDIS_ENABLED"); enabled != "" {
		cfg.Redis.Enabled = strings.ToLower(enabled) == "true"
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		cfg.Redis.Password = pass
	}

	// Logging configuration
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if output := os.Getenv("LOG_OUTPUT"); output != "" {
		cfg.Logging.Output = output
	}

	// Email configuration
	if enabled := os.Getenv("EMAIL_ENABLED"); enabled != "" {
		cfg.Email.Enabled = strings.ToLower(enabled) == "true"
	}
	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.Email.SMTPHost = host
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &cfg.Email.SMTPPort)
	}
	if from := os.Getenv("SMTP_FROM"); from != "" {
		cfg.Email.From = from
	}
	if username := os.Getenv("SMTP_USERNAME"); username != "" {
		cfg.Email.Username = username
	}
	if password := os.Getenv("SMTP_PASSWORD"); password != "" {
		cfg.Email.Password = password
	}
	if to := os.Getenv("SMTP_TO"); to != "" {
		cfg.Email.To = strings.Split(to, ",")
	}

	// ThingSpeak configuration
	if baseURL := os.Getenv("THINGSPEAK_BASE_URL"); baseURL != "" {
		cfg.ThingSpeak.BaseURL = baseURL
	}

	// Alert rules configuration
	if gas := os.Getenv("ALERT_GAS_THRESHOLD"); gas != "" {
		fmt.Sscanf(gas, "%g", &cfg.AlertRules.GasThreshold)
	}
	if temp := os.Getenv("ALERT_TEMPERATURE_THRESHOLD"); temp != "" {
		fmt.Sscanf(temp, "%g", &cfg.AlertRules.TemperatureThreshold)
	}
	if window := os.Getenv("ALERT_WINDOW_MINUTES"); window != "" {
		fmt.Sscanf(window, "%d", &cfg.AlertRules.WindowMinutes)
	}
	if poll := os.Getenv("ALERT_POLL_INTERVAL"); poll != "" {
		fmt.Sscanf(poll, "%d", &cfg.AlertRules.PollInterval)
	}

	// Auth configuration
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
}

// applyDefaults fills zero values with the documented defaults
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15
	}
	if cfg.ThingSpeak.BaseURL == "" {
		cfg.ThingSpeak.BaseURL = "https://api.thingspeak.com"
	}
	if cfg.ThingSpeak.Timeout == 0 {
		cfg.ThingSpeak.Timeout = 10
	}
	if cfg.AlertRules.GasThreshold == 0 {
		cfg.AlertRules.GasThreshold = 400
	}
	if cfg.AlertRules.TemperatureThreshold == 0 {
		cfg.AlertRules.TemperatureThreshold = 35
	}
	if cfg.AlertRules.WindowMinutes == 0 {
		cfg.AlertRules.WindowMinutes = 60
	}
	if cfg.AlertRules.Workers == 0 {
		cfg.AlertRules.Workers = 5
	}
	if cfg.AlertRules.QueueSize == 0 {
		cfg.AlertRules.QueueSize = 300
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 10
	}
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Env vars take priority over the file
	overrideFromEnv(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

// ConnectionString returns the PostgreSQL connection string
func (p PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// GetDSN returns the data source name for PostgreSQL
func (p PostgresConfig) GetDSN() string {
	return p.ConnectionString()
}

// MaxConnections returns max connections (default 25)
func (p PostgresConfig) MaxConnections() int {
	return 25
}

// MaxIdleConnections returns max idle connections (default 5)
func (p PostgresConfig) MaxIdleConnections() int {
	return 5
}

// ConnectionLifetime returns connection lifetime in minutes (default 5)
func (p PostgresConfig) ConnectionLifetime() time.Duration {
	return 5 * time.Minute
}

// MigrationSourceURL returns the migration source URL
func (p PostgresConfig) MigrationSourceURL() string {
	return "file://migrations"
}

// MigrationDatabaseURL returns the database URL for migrations and the change listener
func (p PostgresConfig) MigrationDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(p.User), url.QueryEscape(p.Password), p.Host, p.Port, p.Database, p.SSLMode)
}
