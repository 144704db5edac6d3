package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is built once at startup and passed to every constructor.
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"xamila-core"`

	Server     ServerConfig
	Logging    LoggingConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	KMS        KMSConfig
	Hashing    HashingConfig
	JWT        JWTConfig
	OTP        OTPConfig
	Login      LoginConfig
	Notify     NotifyConfig
	KYC        KYCConfig
	Storage    StorageConfig
	Cohort     CohortConfig
}

type ServerConfig struct {
	Port         int           `env:"SERVER_PORT" envDefault:"8080"`
	TLSPort      int           `env:"SERVER_TLS_PORT" envDefault:"8443"`
	EnableTLS    bool          `env:"SERVER_ENABLE_TLS" envDefault:"false"`
	RequireHTTPS bool          `env:"SERVER_REQUIRE_HTTPS" envDefault:"false"`
	AutoCert     bool          `env:"SERVER_AUTOCERT" envDefault:"false"`
	Domain       string        `env:"SERVER_DOMAIN" envDefault:"localhost"`
	CertFile     string        `env:"SERVER_CERT_FILE"`
	KeyFile      string        `env:"SERVER_KEY_FILE"`
	AutoCertDir  string        `env:"SERVER_AUTOCERT_DIR" envDefault:"./certs"`
	Email        string        `env:"SERVER_ACME_EMAIL"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	CORSOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"https://*,http://localhost:*" envSeparator:","`
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
}

// DatabaseConfig selects the relational store. An empty URL outside
// production falls back to the in-process store.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxConns        int32         `env:"DATABASE_MAX_CONNS" envDefault:"20"`
	MinConns        int32         `env:"DATABASE_MIN_CONNS" envDefault:"2"`
	MaxConnLifetime time.Duration `env:"DATABASE_MAX_CONN_LIFETIME" envDefault:"1h"`
	AutoMigrate     bool          `env:"DATABASE_AUTO_MIGRATE" envDefault:"false"`
}

type RedisConfig struct {
	URL      string `env:"REDIS_URL"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`

	TLSCAFile   string `env:"REDIS_TLS_CA_FILE" envDefault:"/app/certs/ca.crt"`
	TLSCertFile string `env:"REDIS_TLS_CERT_FILE"`
	TLSKeyFile  string `env:"REDIS_TLS_KEY_FILE"`
}

type KafkaConfig struct {
	Brokers      []string `env:"KAFKA_BROKERS" envSeparator:","`
	EventsTopic  string   `env:"KAFKA_EVENTS_TOPIC" envDefault:"xamila.domain.events"`
	JobsTopic    string   `env:"KAFKA_VERIFICATION_TOPIC" envDefault:"kyc.verification.jobs"`
	JobsGroupID  string   `env:"KAFKA_VERIFICATION_GROUP" envDefault:"xamila-kyc-verifier"`
	EnableEvents bool     `env:"KAFKA_ENABLE_EVENTS" envDefault:"false"`
}

type ClickhouseConfig struct {
	URL      string `env:"CLICKHOUSE_URL"`
	Username string `env:"CLICKHOUSE_USERNAME" envDefault:"default"`
	Password string `env:"CLICKHOUSE_PASSWORD"`
	Database string `env:"CLICKHOUSE_DATABASE" envDefault:"security"`
	CAFile   string `env:"CLICKHOUSE_CA_FILE"`
}

// KMSConfig controls envelope encryption. Without KMS the data key comes
// from LocalKey (base64, 32 bytes).
type KMSConfig struct {
	Enabled  bool   `env:"KMS_ENABLED" envDefault:"false"`
	KeyID    string `env:"KMS_KEY_ID"`
	Region   string `env:"AWS_REGION" envDefault:"eu-west-3"`
	LocalKey string `env:"FIELD_ENCRYPTION_KEY"`
	IndexKey string `env:"FIELD_INDEX_KEY"`
}

type HashingConfig struct {
	Argon2MemoryCost  int      `env:"ARGON2_MEMORY_KIB" envDefault:"65536"`
	Argon2TimeCost    int      `env:"ARGON2_ITERATIONS" envDefault:"3"`
	Argon2Parallelism int      `env:"ARGON2_PARALLELISM" envDefault:"2"`
	Peppers           []string `env:"PASSWORD_PEPPERS" envSeparator:","`
	MinLength         int      `env:"PASSWORD_MIN_LENGTH" envDefault:"8"`
	RequireUpper      bool     `env:"PASSWORD_REQUIRE_UPPER" envDefault:"false"`
	RequireLower      bool     `env:"PASSWORD_REQUIRE_LOWER" envDefault:"false"`
	RequireDigit      bool     `env:"PASSWORD_REQUIRE_DIGIT" envDefault:"false"`
	RequireSymbol     bool     `env:"PASSWORD_REQUIRE_SYMBOL" envDefault:"false"`
}

type JWTConfig struct {
	Secret          string        `env:"JWT_SECRET"`
	Issuer          string        `env:"JWT_ISSUER" envDefault:"xamila"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"30d"`
	RotateRefresh   bool          `env:"REFRESH_TOKEN_ROTATE" envDefault:"true"`
}

type OTPConfig struct {
	TTL             time.Duration `env:"OTP_TTL" envDefault:"10m"`
	Length          int           `env:"OTP_LENGTH" envDefault:"6"`
	ResendInterval  time.Duration `env:"OTP_RESEND_INTERVAL" envDefault:"60s"`
	MaxAttempts     AttemptPolicy `env:"OTP_MAX_ATTEMPTS" envDefault:"5/10m"`
	Cooldown        time.Duration `env:"OTP_COOLDOWN" envDefault:"10m"`
	PurgeInterval   time.Duration `env:"OTP_PURGE_INTERVAL" envDefault:"1h"`
	PurgeRetainDays int           `env:"OTP_PURGE_RETAIN_DAYS" envDefault:"1"`
}

type LoginConfig struct {
	MaxAttempts AttemptPolicy `env:"LOGIN_MAX_ATTEMPTS" envDefault:"5/15m"`
	Lockout     time.Duration `env:"LOGIN_LOCKOUT" envDefault:"15m"`
}

type NotifyConfig struct {
	SMSProvider        string        `env:"SMS_PROVIDER" envDefault:"mock"`
	EmailBackend       string        `env:"EMAIL_BACKEND" envDefault:"mock"`
	DefaultCountryCode string        `env:"DEFAULT_COUNTRY_CODE" envDefault:"+33"`
	DefaultFromEmail   string        `env:"DEFAULT_FROM_EMAIL" envDefault:"no-reply@xamila.local"`
	Timeout            time.Duration `env:"OUTBOUND_TIMEOUT" envDefault:"30s"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"465"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`

	TwilioSID     string `env:"TWILIO_SID"`
	TwilioToken   string `env:"TWILIO_TOKEN"`
	TwilioFrom    string `env:"TWILIO_FROM"`
	TwilioBaseURL string `env:"TWILIO_BASE_URL" envDefault:"https://api.twilio.com"`

	NexmoKey     string `env:"NEXMO_KEY"`
	NexmoSecret  string `env:"NEXMO_SECRET"`
	NexmoFrom    string `env:"NEXMO_FROM"`
	NexmoBaseURL string `env:"NEXMO_BASE_URL" envDefault:"https://rest.nexmo.com"`
}

type KYCConfig struct {
	Provider          string        `env:"KYC_PROVIDER" envDefault:"mock"`
	ScreeningProvider string        `env:"KYC_SCREENING_PROVIDER" envDefault:"none"`
	AutoVerify        bool          `env:"KYC_AUTO_VERIFY" envDefault:"true"`
	AutoApprove       int           `env:"KYC_AUTO_APPROVE_THRESHOLD" envDefault:"80"`
	AutoReject        int           `env:"KYC_AUTO_REJECT_THRESHOLD" envDefault:"50"`
	ApprovalValidity  time.Duration `env:"KYC_APPROVAL_VALIDITY" envDefault:"365d"`
	ProviderTimeout   time.Duration `env:"KYC_PROVIDER_TIMEOUT" envDefault:"30s"`
	RetryAttempts     uint          `env:"KYC_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInitial      time.Duration `env:"KYC_RETRY_INITIAL" envDefault:"1s"`
	RetryMax          time.Duration `env:"KYC_RETRY_MAX" envDefault:"8s"`
	Queue             string        `env:"KYC_QUEUE" envDefault:"pool"`
	Workers           int           `env:"KYC_WORKERS" envDefault:"4"`
	ExpiryInterval    time.Duration `env:"KYC_EXPIRY_INTERVAL" envDefault:"1h"`
	MockScore         int           `env:"KYC_MOCK_SCORE" envDefault:"90"`

	SmileBaseURL   string `env:"SMILE_IDENTITY_BASE_URL" envDefault:"https://testapi.smileidentity.com"`
	SmilePartnerID string `env:"SMILE_IDENTITY_PARTNER_ID"`
	SmileAPIKey    string `env:"SMILE_IDENTITY_API_KEY"`

	OnfidoBaseURL  string `env:"ONFIDO_BASE_URL" envDefault:"https://api.eu.onfido.com/v3.6"`
	OnfidoAPIToken string `env:"ONFIDO_API_TOKEN"`

	ComplyAdvantageBaseURL string `env:"COMPLY_ADVANTAGE_BASE_URL" envDefault:"https://api.complyadvantage.com"`
	ComplyAdvantageAPIKey  string `env:"COMPLY_ADVANTAGE_API_KEY"`
}

type StorageConfig struct {
	Backend   string `env:"BLOB_BACKEND" envDefault:"local"`
	LocalRoot string `env:"BLOB_LOCAL_ROOT" envDefault:"./var/blobs"`
	S3Bucket  string `env:"BLOB_S3_BUCKET"`
}

type CohortConfig struct {
	AccessCacheTTL time.Duration `env:"COHORT_ACCESS_CACHE_TTL" envDefault:"2m"`
}

// AttemptPolicy is a "count/window" limit such as "5/10m".
type AttemptPolicy struct {
	Count  int
	Window time.Duration
}

func (p *AttemptPolicy) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	count, window, ok := strings.Cut(raw, "/")
	if !ok {
		return fmt.Errorf("attempt policy %q: expected count/window", raw)
	}
	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || n <= 0 {
		return fmt.Errorf("attempt policy %q: invalid count", raw)
	}
	d, err := ParseDuration(strings.TrimSpace(window))
	if err != nil || d <= 0 {
		return fmt.Errorf("attempt policy %q: invalid window", raw)
	}
	p.Count = n
	p.Window = d
	return nil
}

func (p AttemptPolicy) String() string {
	return fmt.Sprintf("%d/%s", p.Count, p.Window)
}

// LoadConfig reads an optional .env file and parses the environment.
func LoadConfig() (*Config, error) {
	if path := os.Getenv("ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that are unsafe or inconsistent.
func (c *Config) Validate() error {
	var errs []error

	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		errs = append(errs, fmt.Errorf("OTP_LENGTH must be between 4 and 10"))
	}
	if c.KYC.AutoReject > c.KYC.AutoApprove {
		errs = append(errs, fmt.Errorf("KYC_AUTO_REJECT_THRESHOLD must not exceed KYC_AUTO_APPROVE_THRESHOLD"))
	}
	if c.Hashing.MinLength < 8 {
		errs = append(errs, fmt.Errorf("PASSWORD_MIN_LENGTH must be at least 8"))
	}
	if c.IsProduction() {
		if len(c.JWT.Secret) < 32 {
			errs = append(errs, fmt.Errorf("JWT_SECRET must be at least 32 bytes in production"))
		}
		if len(c.Hashing.Peppers) == 0 {
			errs = append(errs, fmt.Errorf("PASSWORD_PEPPERS is required in production"))
		}
		if c.Database.URL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required in production"))
		}
		if c.Notify.SMSProvider == "mock" || c.Notify.EmailBackend == "mock" {
			errs = append(errs, fmt.Errorf("mock notification backends are not allowed in production"))
		}
	}
	if c.JWT.Secret == "" && !c.IsProduction() {
		c.JWT.Secret = "development-only-secret-change-me-please"
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
