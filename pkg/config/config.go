package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	HTTP         HTTPConfig
	Crypto       CryptoConfig
	FeatureFlags FeatureFlagsConfig
	Ingestion    IngestionConfig
	Scoring      ScoringConfig
	Merge        MergeConfig
	Insights     InsightsConfig
	Cron         CronConfig
	SMTP         SMTPConfig
	GCP          GCPConfig
	GCS          GCSConfig
	Vision       VisionConfig
	Gmail        GmailConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Plaid        PlaidConfig
	UsageAPIs    UsageAPIsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SUBRADAR_APP_ENV" required:"true"`
	Port         string `envconfig:"SUBRADAR_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SUBRADAR_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SUBRADAR_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SUBRADAR_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SUBRADAR_DB_DSN"`
	Driver string `envconfig:"SUBRADAR_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SUBRADAR_DB_HOST"`
	LegacyPort     int    `envconfig:"SUBRADAR_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SUBRADAR_DB_USER"`
	LegacyPassword string `envconfig:"SUBRADAR_DB_PASSWORD"`
	LegacyName     string `envconfig:"SUBRADAR_DB_NAME"`
	LegacySSLMode  string `envconfig:"SUBRADAR_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"SUBRADAR_SQLITE_PATH" default:"subradar.db"`

	MaxOpenConns    int           `envconfig:"SUBRADAR_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SUBRADAR_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SUBRADAR_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SUBRADAR_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"SUBRADAR_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SUBRADAR_REDIS_URL"`
	Address      string        `envconfig:"SUBRADAR_REDIS_ADDR"`
	Password     string        `envconfig:"SUBRADAR_REDIS_PASSWORD"`
	DB           int           `envconfig:"SUBRADAR_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SUBRADAR_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SUBRADAR_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SUBRADAR_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SUBRADAR_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SUBRADAR_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"SUBRADAR_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"SUBRADAR_JWT_ISSUER" required:"true"`
}

// HTTPConfig shapes the public API surface.
type HTTPConfig struct {
	CORSOrigins       []string      `envconfig:"SUBRADAR_HTTP_CORS_ORIGINS" default:"http://localhost:3000"`
	RateLimitWindow   time.Duration `envconfig:"SUBRADAR_HTTP_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitRequests int           `envconfig:"SUBRADAR_HTTP_RATE_LIMIT_REQUESTS" default:"120"`
	IngestRateLimit   int           `envconfig:"SUBRADAR_HTTP_INGEST_RATE_LIMIT" default:"10"`
	MaxUploadBytes    int64         `envconfig:"SUBRADAR_HTTP_MAX_UPLOAD_BYTES" default:"10485760"`
}

// CryptoConfig holds the key used to seal OAuth tokens at rest.
type CryptoConfig struct {
	TokenKey string `envconfig:"SUBRADAR_TOKEN_ENCRYPTION_KEY"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SUBRADAR_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SUBRADAR_AUTO_MIGRATE" default:"false"`
}

type IngestionConfig struct {
	SenderPatterns []string      `envconfig:"SUBRADAR_INGEST_SENDER_PATTERNS" default:"billing@,noreply@,receipts@"`
	SenderDomains  []string      `envconfig:"SUBRADAR_INGEST_SENDER_DOMAINS" default:"openai.com,anthropic.com,google.com,microsoft.com,aws.amazon.com"`
	BankKeywords   []string      `envconfig:"SUBRADAR_INGEST_BANK_KEYWORDS" default:"ai"`
	MailboxQuery   string        `envconfig:"SUBRADAR_INGEST_MAILBOX_QUERY" default:"subscription OR billing OR invoice OR receipt OR payment confirmation"`
	MailboxMax     int           `envconfig:"SUBRADAR_INGEST_MAILBOX_MAX" default:"10"`
	BankLookback   time.Duration `envconfig:"SUBRADAR_INGEST_BANK_LOOKBACK" default:"720h"`
	FetchTimeout   time.Duration `envconfig:"SUBRADAR_INGEST_FETCH_TIMEOUT" default:"30s"`
	UsageLookback  time.Duration `envconfig:"SUBRADAR_INGEST_USAGE_LOOKBACK" default:"720h"`
}

type ScoringConfig struct {
	Curve        string  `envconfig:"SUBRADAR_SCORING_CURVE" default:"linear"`
	HalfLifeDays float64 `envconfig:"SUBRADAR_SCORING_HALF_LIFE_DAYS" default:"30"`
}

type MergeConfig struct {
	PrimaryStrategy string `envconfig:"SUBRADAR_MERGE_PRIMARY_STRATEGY" default:"first_created"`
}

type InsightsConfig struct {
	AIKeywords   []string      `envconfig:"SUBRADAR_INSIGHTS_AI_KEYWORDS" default:"ai"`
	DedupeWindow time.Duration `envconfig:"SUBRADAR_INSIGHTS_DEDUPE_WINDOW" default:"0s"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"SUBRADAR_CRON_INTERVAL" default:"1h"`
	IngestEvery     time.Duration `envconfig:"SUBRADAR_CRON_INGEST_EVERY" default:"24h"`
	InsightsEvery   time.Duration `envconfig:"SUBRADAR_CRON_INSIGHTS_EVERY" default:"168h"`
	UserConcurrency int           `envconfig:"SUBRADAR_CRON_USER_CONCURRENCY" default:"4"`
	LockTTL         time.Duration `envconfig:"SUBRADAR_CRON_LOCK_TTL" default:"2h"`
	UserLockTTL     time.Duration `envconfig:"SUBRADAR_USER_LOCK_TTL" default:"5m"`
}

type SMTPConfig struct {
	Host     string `envconfig:"SUBRADAR_SMTP_HOST"`
	Port     int    `envconfig:"SUBRADAR_SMTP_PORT" default:"2525"`
	Username string `envconfig:"SUBRADAR_SMTP_USERNAME"`
	Password string `envconfig:"SUBRADAR_SMTP_PASSWORD"`
	From     string `envconfig:"SUBRADAR_SMTP_FROM" default:"noreply@subradar.app"`
}

// Enabled reports whether an SMTP relay is configured.
func (s SMTPConfig) Enabled() bool {
	return strings.TrimSpace(s.Host) != ""
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SUBRADAR_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SUBRADAR_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SUBRADAR_GOOGLE_APPLICATION_CREDENTIALS"`
}

// GCSConfig names the bucket receipt uploads are stored in.
type GCSConfig struct {
	ReceiptsBucket string `envconfig:"SUBRADAR_GCS_RECEIPTS_BUCKET"`
	ReceiptsPrefix string `envconfig:"SUBRADAR_GCS_RECEIPTS_PREFIX" default:"receipts"`
	Endpoint       string `envconfig:"SUBRADAR_GCS_ENDPOINT"`
}

// Enabled reports whether receipts are persisted to GCS before OCR.
func (g GCSConfig) Enabled() bool {
	return strings.TrimSpace(g.ReceiptsBucket) != ""
}

type VisionConfig struct {
	Endpoint string `envconfig:"SUBRADAR_VISION_ENDPOINT"`
}

type GmailConfig struct {
	Endpoint string `envconfig:"SUBRADAR_GMAIL_ENDPOINT"`
}

type PubSubConfig struct {
	InsightsTopic string `envconfig:"SUBRADAR_PUBSUB_INSIGHTS_TOPIC"`
}

type BigQueryConfig struct {
	Dataset       string `envconfig:"SUBRADAR_BIGQUERY_DATASET"`
	InsightsTable string `envconfig:"SUBRADAR_BIGQUERY_INSIGHTS_TABLE" default:"insight_events"`
	CreateTables  bool   `envconfig:"SUBRADAR_BIGQUERY_CREATE_TABLES" default:"false"`
}

type PlaidConfig struct {
	ClientID string `envconfig:"SUBRADAR_PLAID_CLIENT_ID"`
	Secret   string `envconfig:"SUBRADAR_PLAID_SECRET"`
	Env      string `envconfig:"SUBRADAR_PLAID_ENV" default:"sandbox"`
}

// BaseURL maps the Plaid environment name onto its API host.
func (p PlaidConfig) BaseURL() string {
	switch strings.ToLower(strings.TrimSpace(p.Env)) {
	case "production":
		return "https://production.plaid.com"
	case "development":
		return "https://development.plaid.com"
	default:
		return "https://sandbox.plaid.com"
	}
}

type UsageAPIsConfig struct {
	OpenAIBaseURL    string `envconfig:"SUBRADAR_OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	AnthropicBaseURL string `envconfig:"SUBRADAR_ANTHROPIC_BASE_URL" default:"https://api.anthropic.com/v1"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
