package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPlanCatalogHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// BaseDomain is the apex under which tenants get a subdomain,
	// e.g. "example.com" routes "acme.example.com" to company "acme".
	BaseDomain string

	OTLPEndpoint string
	Telemetry    TelemetryConfig

	Auth      AuthConfig
	Redis     RedisConfig
	Email     EmailConfig
	SMS       SMSConfig
	Bootstrap BootstrapConfig
	Audit     AuditConfig
	Scheduler SchedulerConfig

	PlanCatalogPath string
	DefaultPlanCode string
	RunMigrations   bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
}

// TelemetryConfig follows the OTEL_* environment conventions. Tracing is
// on by default outside development environments.
type TelemetryConfig struct {
	LogLevel         string
	LogFormat        string
	OtelEnabled      bool
	ExporterProtocol string
	SamplingRatio    float64
}

type AuthConfig struct {
	JWTSecret          string
	JWTIssuer          string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	ImpersonationTTL   time.Duration
	PasswordResetTTL   time.Duration
	LoginRatePerMinute int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type SMSConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
}

type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
}

type AuditConfig struct {
	RetentionDays int
}

type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
	EnabledJobs []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("DEPLOYMENT_ENV", getenv("ENVIRONMENT", "development"))
	protocol := getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))

	return Config{
		AppName:      getenv("APP_SERVICE", "greenpm"),
		AppVersion:   getenv("SERVICE_VERSION", getenv("APP_VERSION", "0.1.0")),
		Environment:  strings.TrimSpace(environment),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		BaseDomain:   strings.ToLower(strings.TrimSpace(getenv("BASE_DOMAIN", "localhost"))),
		OTLPEndpoint: strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
		Telemetry: TelemetryConfig{
			LogLevel:         strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:        strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:      getenvBool("OTEL_ENABLED", !IsDevEnvironment(environment)),
			ExporterProtocol: strings.ToLower(strings.TrimSpace(protocol)),
			SamplingRatio:    getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		PlanCatalogPath: strings.TrimSpace(getenv("PLAN_CATALOG_PATH", "")),
		DefaultPlanCode: strings.TrimSpace(getenv("DEFAULT_PLAN_CODE", "starter")),
		RunMigrations:   getenvBool("RUN_MIGRATIONS", true),
		Auth: AuthConfig{
			JWTSecret:          strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
			JWTIssuer:          getenv("AUTH_JWT_ISSUER", "greenpm"),
			AccessTTL:          getenvDuration("AUTH_ACCESS_TTL", 15*time.Minute),
			RefreshTTL:         getenvDuration("AUTH_REFRESH_TTL", 7*24*time.Hour),
			ImpersonationTTL:   getenvDuration("AUTH_IMPERSONATION_TTL", 30*time.Minute),
			PasswordResetTTL:   getenvDuration("AUTH_PASSWORD_RESET_TTL", time.Hour),
			LoginRatePerMinute: getenvInt("AUTH_LOGIN_RATE_PER_MINUTE", 10),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@greenpm.local"),
		},
		SMS: SMSConfig{
			BaseURL:    strings.TrimSpace(getenv("SMS_BASE_URL", "https://api.twilio.com")),
			AccountSID: strings.TrimSpace(getenv("SMS_ACCOUNT_SID", "")),
			AuthToken:  strings.TrimSpace(getenv("SMS_AUTH_TOKEN", "")),
			From:       strings.TrimSpace(getenv("SMS_FROM", "")),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:    strings.ToLower(strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_EMAIL", ""))),
			AdminPassword: getenv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
		Audit: AuditConfig{
			RetentionDays: getenvInt("AUDIT_RETENTION_DAYS", 365),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			RunInterval: getenvDuration("SCHEDULER_RUN_INTERVAL", 5*time.Minute),
			BatchSize:   getenvInt("SCHEDULER_BATCH_SIZE", 100),
			EnabledJobs: getenvList("SCHEDULER_JOBS"),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "greenpm"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func IsDevEnvironment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
