// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"fmt"
	"strings"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

var configFile = altsrc.StringSourcer("config.toml")

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server      ServerConfig
	Log         LogConfig
	TLS         TLSConfig
	Database    DatabaseConfig
	Session     SessionConfig
	Admin       AdminConfig
	OTP         OTPConfig
	Maintenance MaintenanceConfig
	Emergency   EmergencyConfig
	SMTP        SMTPConfig
	Archive     ArchiveConfig
	Safety      SafetyConfig
	Jobs        JobsConfig
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host        string
	Port        int
	BaseURL     string
	MaxBodySize int // in MB
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type TLSConfig struct {
	Mode     string // off, manual
	CertFile string // Path to certificate file (manual mode)
	KeyFile  string // Path to private key file (manual mode)
}

// Enabled reports whether the server terminates TLS itself.
func (c TLSConfig) Enabled() bool {
	return strings.ToLower(c.Mode) == "manual"
}

// Database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

type DatabaseConfig struct {
	Driver        string // sqlite, mongo
	DSN           string // SQLite path or DSN
	MongoURI      string
	MongoDatabase string
}

type SessionConfig struct { //nolint:govet // fieldalignment not critical
	CookieName string // Emergency access grant cookie name
	MaxAge     int    // Cookie max age in seconds
	HashKey    string // 32-byte hex string for HMAC signing
	BlockKey   string // 32-byte hex string for AES encryption (optional)
}

type AdminConfig struct { //nolint:govet // fieldalignment not critical
	JWTSecret   string
	TokenTTL    time.Duration
	BcryptCost  int
	SetupPIN    string // seeded as system lock PIN when none is stored
	SetupDebug  bool   // enables debug-admin and test-db setup actions
	MinPassword int
}

type OTPConfig struct {
	TTL              time.Duration
	MaxAttempts      int
	RateLimit        int
	RateLimitWindow  time.Duration
	RateLimitEnabled bool
}

// MaintenanceConfig is used when no maintenance document has been stored yet.
type MaintenanceConfig struct {
	Enabled       bool
	AllowedIPs    []string
	AllowedEmails []string
	Message       string
	EstimatedTime string
}

type EmergencyConfig struct {
	TokenLength       int
	TokenTTL          time.Duration
	MaxActivePerEmail int
	MaxPerIPPerHour   int
}

type SMTPConfig struct { //nolint:govet // fieldalignment not critical
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

// Enabled reports whether outgoing mail is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type ArchiveConfig struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	ArchivePrefix string
	ActivePrefix  string
	RetentionDays int
}

// Enabled reports whether an archive bucket is configured.
func (c ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

type SafetyConfig struct {
	Endpoint  string
	APIKey    string
	Threshold float64
	Timeout   time.Duration
}

// Enabled reports whether a content-safety endpoint is configured.
func (c SafetyConfig) Enabled() bool {
	return c.Endpoint != ""
}

type JobsConfig struct {
	Workers         int
	QueueSize       int
	JanitorInterval time.Duration
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:        cmd.String("host"),
			Port:        int(cmd.Int("port")),
			BaseURL:     cmd.String("base-url"),
			MaxBodySize: int(cmd.Int("max-body-size")),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		TLS: TLSConfig{
			Mode:     cmd.String("tls-mode"),
			CertFile: cmd.String("tls-cert-file"),
			KeyFile:  cmd.String("tls-key-file"),
		},
		Database: DatabaseConfig{
			Driver:        strings.ToLower(cmd.String("database-driver")),
			DSN:           cmd.String("database-dsn"),
			MongoURI:      cmd.String("mongo-uri"),
			MongoDatabase: cmd.String("mongo-database"),
		},
		Session: SessionConfig{
			CookieName: cmd.String("session-cookie-name"),
			MaxAge:     int(cmd.Int("session-max-age")),
			HashKey:    cmd.String("session-hash-key"),
			BlockKey:   cmd.String("session-block-key"),
		},
		Admin: AdminConfig{
			JWTSecret:   cmd.String("admin-jwt-secret"),
			TokenTTL:    cmd.Duration("admin-token-ttl"),
			BcryptCost:  int(cmd.Int("admin-bcrypt-cost")),
			SetupPIN:    cmd.String("admin-setup-pin"),
			SetupDebug:  cmd.Bool("admin-setup-debug"),
			MinPassword: int(cmd.Int("admin-min-password")),
		},
		OTP: OTPConfig{
			TTL:              cmd.Duration("otp-ttl"),
			MaxAttempts:      int(cmd.Int("otp-max-attempts")),
			RateLimit:        int(cmd.Int("otp-rate-limit")),
			RateLimitWindow:  cmd.Duration("otp-rate-limit-window"),
			RateLimitEnabled: cmd.Bool("otp-rate-limit-enabled"),
		},
		Maintenance: MaintenanceConfig{
			Enabled:       cmd.Bool("maintenance-enabled"),
			AllowedIPs:    splitList(cmd.StringSlice("maintenance-allowed-ips")),
			AllowedEmails: splitList(cmd.StringSlice("maintenance-allowed-emails")),
			Message:       cmd.String("maintenance-message"),
			EstimatedTime: cmd.String("maintenance-estimated-time"),
		},
		Emergency: EmergencyConfig{
			TokenLength:       int(cmd.Int("emergency-token-length")),
			TokenTTL:          cmd.Duration("emergency-token-ttl"),
			MaxActivePerEmail: int(cmd.Int("emergency-max-active")),
			MaxPerIPPerHour:   int(cmd.Int("emergency-max-per-ip")),
		},
		SMTP: SMTPConfig{
			Host:     cmd.String("smtp-host"),
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			FromName: cmd.String("smtp-from-name"),
			TLS:      cmd.Bool("smtp-tls"),
		},
		Archive: ArchiveConfig{
			Endpoint:      cmd.String("archive-endpoint"),
			Region:        cmd.String("archive-region"),
			Bucket:        cmd.String("archive-bucket"),
			AccessKey:     cmd.String("archive-access-key"),
			SecretKey:     cmd.String("archive-secret-key"),
			ArchivePrefix: cmd.String("archive-prefix"),
			ActivePrefix:  cmd.String("archive-active-prefix"),
			RetentionDays: int(cmd.Int("archive-retention-days")),
		},
		Safety: SafetyConfig{
			Endpoint:  cmd.String("safety-endpoint"),
			APIKey:    cmd.String("safety-api-key"),
			Threshold: cmd.Float("safety-threshold"),
			Timeout:   cmd.Duration("safety-timeout"),
		},
		Jobs: JobsConfig{
			Workers:         int(cmd.Int("jobs-workers")),
			QueueSize:       int(cmd.Int("jobs-queue-size")),
			JanitorInterval: cmd.Duration("jobs-janitor-interval"),
		},
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = buildBaseURL(cfg)
	}

	applyDefaults(cfg)

	return cfg
}

// applyDefaults fills values that must never be zero, even when a config file sets them so.
func applyDefaults(cfg *Config) {
	if cfg.Database.Driver != DriverMongo {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Admin.BcryptCost < 4 {
		cfg.Admin.BcryptCost = 12
	}
	if cfg.OTP.MaxAttempts <= 0 {
		cfg.OTP.MaxAttempts = 3
	}
	if cfg.OTP.TTL <= 0 {
		cfg.OTP.TTL = 5 * time.Minute
	}
	if cfg.Emergency.TokenLength <= 0 {
		cfg.Emergency.TokenLength = 32
	}
	if cfg.Emergency.TokenTTL <= 0 {
		cfg.Emergency.TokenTTL = 24 * time.Hour
	}
	if cfg.Jobs.Workers <= 0 {
		cfg.Jobs.Workers = 1
	}
}

// splitList flattens comma separated entries and drops blanks.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func buildBaseURL(cfg *Config) string {
	host := cfg.Server.Host
	port := cfg.Server.Port

	scheme := "http"
	if cfg.TLS.Enabled() {
		scheme = "https"
	}

	// Hide default ports in URL
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// IsLocalhost checks if the host is a localhost address.
func IsLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	// Check for *.localhost subdomains (e.g., app.localhost)
	return strings.HasSuffix(host, ".localhost")
}

func src(env, key string) cli.ValueSourceChain {
	return cli.NewValueSourceChain(cli.EnvVar(env), toml.TOML(key, configFile))
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: src("HOST", "server.host"),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "Port to listen on",
			Sources: src("PORT", "server.port"),
		},
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "Base URL for the application",
			Sources: src("BASE_URL", "server.base_url"),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   10,
			Usage:   "Maximum request body size in MB",
			Sources: src("MAX_BODY_SIZE", "server.max_body_size"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: src("LOG_LEVEL", "log.level"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: src("LOG_FORMAT", "log.format"),
		},
		&cli.StringFlag{
			Name:    "tls-mode",
			Value:   "off",
			Usage:   "TLS mode (off, manual)",
			Sources: src("TLS_MODE", "tls.mode"),
		},
		&cli.StringFlag{
			Name:    "tls-cert-file",
			Usage:   "Path to TLS certificate file (manual mode)",
			Sources: src("TLS_CERT_FILE", "tls.cert_file"),
		},
		&cli.StringFlag{
			Name:    "tls-key-file",
			Usage:   "Path to TLS private key file (manual mode)",
			Sources: src("TLS_KEY_FILE", "tls.key_file"),
		},
		// Database flags
		&cli.StringFlag{
			Name:    "database-driver",
			Value:   DriverSQLite,
			Usage:   "Database driver (sqlite, mongo)",
			Sources: src("DATABASE_DRIVER", "database.driver"),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/capsera.db",
			Usage:   "SQLite database DSN",
			Sources: src("DATABASE_DSN", "database.dsn"),
		},
		&cli.StringFlag{
			Name:    "mongo-uri",
			Value:   "mongodb://localhost:27017",
			Usage:   "MongoDB connection URI",
			Sources: src("MONGODB_URI", "database.mongo_uri"),
		},
		&cli.StringFlag{
			Name:    "mongo-database",
			Value:   "capsera",
			Usage:   "MongoDB database name",
			Sources: src("MONGODB_DATABASE", "database.mongo_database"),
		},
		// Session flags
		&cli.StringFlag{
			Name:    "session-cookie-name",
			Value:   "_capsera_access",
			Usage:   "Emergency access cookie name",
			Sources: src("SESSION_COOKIE_NAME", "session.cookie_name"),
		},
		&cli.IntFlag{
			Name:    "session-max-age",
			Value:   86400,
			Usage:   "Emergency access cookie max age in seconds",
			Sources: src("SESSION_MAX_AGE", "session.max_age"),
		},
		&cli.StringFlag{
			Name:    "session-hash-key",
			Usage:   "Session hash key (32-byte hex, auto-generated if empty in dev)",
			Sources: src("SESSION_HASH_KEY", "session.hash_key"),
		},
		&cli.StringFlag{
			Name:    "session-block-key",
			Usage:   "Session block key for encryption (32-byte hex, optional)",
			Sources: src("SESSION_BLOCK_KEY", "session.block_key"),
		},
		// Admin flags
		&cli.StringFlag{
			Name:    "admin-jwt-secret",
			Usage:   "Secret for signing admin API tokens (random per process if empty)",
			Sources: src("ADMIN_JWT_SECRET", "admin.jwt_secret"),
		},
		&cli.DurationFlag{
			Name:    "admin-token-ttl",
			Value:   12 * time.Hour,
			Usage:   "Admin API token lifetime",
			Sources: src("ADMIN_TOKEN_TTL", "admin.token_ttl"),
		},
		&cli.IntFlag{
			Name:    "admin-bcrypt-cost",
			Value:   12,
			Usage:   "bcrypt cost for admin passwords and the system lock PIN",
			Sources: src("ADMIN_BCRYPT_COST", "admin.bcrypt_cost"),
		},
		&cli.StringFlag{
			Name:    "admin-setup-pin",
			Usage:   "System lock PIN seeded when none is stored",
			Sources: src("SYSTEM_LOCK_PIN", "admin.setup_pin"),
		},
		&cli.BoolFlag{
			Name:    "admin-setup-debug",
			Usage:   "Enable debug-admin and test-db setup actions",
			Sources: src("ADMIN_SETUP_DEBUG", "admin.setup_debug"),
		},
		&cli.IntFlag{
			Name:    "admin-min-password",
			Value:   8,
			Usage:   "Minimum admin password length",
			Sources: src("ADMIN_MIN_PASSWORD", "admin.min_password"),
		},
		// OTP flags
		&cli.DurationFlag{
			Name:    "otp-ttl",
			Value:   5 * time.Minute,
			Usage:   "OTP lifetime",
			Sources: src("OTP_TTL", "otp.ttl"),
		},
		&cli.IntFlag{
			Name:    "otp-max-attempts",
			Value:   3,
			Usage:   "Verification attempts per OTP",
			Sources: src("OTP_MAX_ATTEMPTS", "otp.max_attempts"),
		},
		&cli.IntFlag{
			Name:    "otp-rate-limit",
			Value:   3,
			Usage:   "OTP requests per email per window",
			Sources: src("OTP_RATE_LIMIT", "otp.rate_limit"),
		},
		&cli.DurationFlag{
			Name:    "otp-rate-limit-window",
			Value:   time.Hour,
			Usage:   "OTP rate limit window",
			Sources: src("OTP_RATE_LIMIT_WINDOW", "otp.rate_limit_window"),
		},
		&cli.BoolFlag{
			Name:    "otp-rate-limit-enabled",
			Usage:   "Enforce the OTP rate limit",
			Sources: src("OTP_RATE_LIMIT_ENABLED", "otp.rate_limit_enabled"),
		},
		// Maintenance flags
		&cli.BoolFlag{
			Name:    "maintenance-enabled",
			Usage:   "Maintenance mode when no setting is stored",
			Sources: src("MAINTENANCE_MODE", "maintenance.enabled"),
		},
		&cli.StringSliceFlag{
			Name:    "maintenance-allowed-ips",
			Usage:   "IPs admitted during maintenance",
			Sources: src("MAINTENANCE_ALLOWED_IPS", "maintenance.allowed_ips"),
		},
		&cli.StringSliceFlag{
			Name:    "maintenance-allowed-emails",
			Usage:   "Emails admitted during maintenance",
			Sources: src("MAINTENANCE_ALLOWED_EMAILS", "maintenance.allowed_emails"),
		},
		&cli.StringFlag{
			Name:    "maintenance-message",
			Usage:   "Message shown on the maintenance page",
			Sources: src("MAINTENANCE_MESSAGE", "maintenance.message"),
		},
		&cli.StringFlag{
			Name:    "maintenance-estimated-time",
			Usage:   "Estimated end of maintenance shown to visitors",
			Sources: src("MAINTENANCE_ESTIMATED_TIME", "maintenance.estimated_time"),
		},
		// Emergency access flags
		&cli.IntFlag{
			Name:    "emergency-token-length",
			Value:   32,
			Usage:   "Emergency access token length",
			Sources: src("EMERGENCY_TOKEN_LENGTH", "emergency.token_length"),
		},
		&cli.DurationFlag{
			Name:    "emergency-token-ttl",
			Value:   24 * time.Hour,
			Usage:   "Emergency access token lifetime",
			Sources: src("EMERGENCY_TOKEN_TTL", "emergency.token_ttl"),
		},
		&cli.IntFlag{
			Name:    "emergency-max-active",
			Value:   3,
			Usage:   "Active emergency tokens allowed per email",
			Sources: src("EMERGENCY_MAX_ACTIVE", "emergency.max_active"),
		},
		&cli.IntFlag{
			Name:    "emergency-max-per-ip",
			Value:   5,
			Usage:   "Emergency tokens issued per IP per hour",
			Sources: src("EMERGENCY_MAX_PER_IP", "emergency.max_per_ip"),
		},
		// SMTP flags
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP relay host (mail is only logged when empty)",
			Sources: src("SMTP_HOST", "smtp.host"),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP relay port",
			Sources: src("SMTP_PORT", "smtp.port"),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: src("SMTP_USERNAME", "smtp.username"),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: src("SMTP_PASSWORD", "smtp.password"),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Usage:   "Sender address",
			Sources: src("SMTP_FROM", "smtp.from"),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Value:   "Capsera",
			Usage:   "Sender display name",
			Sources: src("SMTP_FROM_NAME", "smtp.from_name"),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require TLS for SMTP",
			Sources: src("SMTP_TLS", "smtp.tls"),
		},
		// Archive flags
		&cli.StringFlag{
			Name:    "archive-endpoint",
			Usage:   "S3 compatible endpoint for archived images",
			Sources: src("ARCHIVE_ENDPOINT", "archive.endpoint"),
		},
		&cli.StringFlag{
			Name:    "archive-region",
			Value:   "us-east-1",
			Usage:   "Archive bucket region",
			Sources: src("ARCHIVE_REGION", "archive.region"),
		},
		&cli.StringFlag{
			Name:    "archive-bucket",
			Usage:   "Archive bucket (archive endpoints are disabled when empty)",
			Sources: src("ARCHIVE_BUCKET", "archive.bucket"),
		},
		&cli.StringFlag{
			Name:    "archive-access-key",
			Usage:   "Archive access key",
			Sources: src("ARCHIVE_ACCESS_KEY", "archive.access_key"),
		},
		&cli.StringFlag{
			Name:    "archive-secret-key",
			Usage:   "Archive secret key",
			Sources: src("ARCHIVE_SECRET_KEY", "archive.secret_key"),
		},
		&cli.StringFlag{
			Name:    "archive-prefix",
			Value:   "archive/",
			Usage:   "Key prefix of archived images",
			Sources: src("ARCHIVE_PREFIX", "archive.prefix"),
		},
		&cli.StringFlag{
			Name:    "archive-active-prefix",
			Value:   "uploads/",
			Usage:   "Key prefix restored images are moved to",
			Sources: src("ARCHIVE_ACTIVE_PREFIX", "archive.active_prefix"),
		},
		&cli.IntFlag{
			Name:    "archive-retention-days",
			Value:   30,
			Usage:   "Archived images older than this are removed by cleanup",
			Sources: src("ARCHIVE_RETENTION_DAYS", "archive.retention_days"),
		},
		// Content safety flags
		&cli.StringFlag{
			Name:    "safety-endpoint",
			Usage:   "Vision safety model endpoint (moderation disabled when empty)",
			Sources: src("SAFETY_ENDPOINT", "safety.endpoint"),
		},
		&cli.StringFlag{
			Name:    "safety-api-key",
			Usage:   "Vision safety model API key",
			Sources: src("SAFETY_API_KEY", "safety.api_key"),
		},
		&cli.FloatFlag{
			Name:    "safety-threshold",
			Value:   0.7,
			Usage:   "Category score at which an upload is blocked",
			Sources: src("SAFETY_THRESHOLD", "safety.threshold"),
		},
		&cli.DurationFlag{
			Name:    "safety-timeout",
			Value:   15 * time.Second,
			Usage:   "Vision safety request timeout",
			Sources: src("SAFETY_TIMEOUT", "safety.timeout"),
		},
		// Background jobs
		&cli.IntFlag{
			Name:    "jobs-workers",
			Value:   2,
			Usage:   "Background workers",
			Sources: src("JOBS_WORKERS", "jobs.workers"),
		},
		&cli.IntFlag{
			Name:    "jobs-queue-size",
			Value:   64,
			Usage:   "Background queue capacity",
			Sources: src("JOBS_QUEUE_SIZE", "jobs.queue_size"),
		},
		&cli.DurationFlag{
			Name:    "jobs-janitor-interval",
			Value:   10 * time.Minute,
			Usage:   "Interval for purging expired OTPs and tokens",
			Sources: src("JOBS_JANITOR_INTERVAL", "jobs.janitor_interval"),
		},
	}
}
