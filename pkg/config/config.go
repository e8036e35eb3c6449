package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "DOARBEM_DB_DSN"
	EnvDBHost = "DOARBEM_DB_HOST"
	EnvDBUser = "DOARBEM_DB_USER"
	EnvDBName = "DOARBEM_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Matcher      MatcherConfig
	Checkout     CheckoutConfig
	Webhook      WebhookConfig
	Stripe       StripeConfig
	PayPal       PayPalConfig
	Square       SquareConfig
	Nuvei        NuveiConfig
	Lytex        LytexConfig
	Transfeera   TransfeeraConfig
	Conversions  ConversionsConfig
	Tracking     TrackingConfig
	Receipt      ReceiptConfig
	Sendgrid     SendgridConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DOARBEM_APP_ENV" required:"true"`
	Port         string `envconfig:"DOARBEM_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DOARBEM_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DOARBEM_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"DOARBEM_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"DOARBEM_DB_DSN"`
	Driver string `envconfig:"DOARBEM_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DOARBEM_DB_HOST"`
	LegacyPort     int    `envconfig:"DOARBEM_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DOARBEM_DB_USER"`
	LegacyPassword string `envconfig:"DOARBEM_DB_PASSWORD"`
	LegacyName     string `envconfig:"DOARBEM_DB_NAME"`
	LegacySSLMode  string `envconfig:"DOARBEM_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DOARBEM_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DOARBEM_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DOARBEM_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DOARBEM_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DOARBEM_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DOARBEM_REDIS_ADDR"`
	Password     string        `envconfig:"DOARBEM_REDIS_PASSWORD"`
	DB           int           `envconfig:"DOARBEM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DOARBEM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DOARBEM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DOARBEM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DOARBEM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DOARBEM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"DOARBEM_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"DOARBEM_AUTO_MIGRATE" default:"false"`
}

// MatcherConfig tunes the fuzzy fallback used to pair webhook captures with
// checkout rows. The window and scan limit are empirical, not exact bounds.
type MatcherConfig struct {
	FuzzyWindow    time.Duration `envconfig:"DOARBEM_MATCHER_FUZZY_WINDOW" default:"6h"`
	FuzzyScanLimit int           `envconfig:"DOARBEM_MATCHER_FUZZY_SCAN_LIMIT" default:"100"`
}

type CheckoutConfig struct {
	ContextTTL time.Duration `envconfig:"DOARBEM_CHECKOUT_CONTEXT_TTL" default:"12h"`
}

type WebhookConfig struct {
	DedupTTL time.Duration `envconfig:"DOARBEM_WEBHOOK_DEDUP_TTL" default:"72h"`
}

type StripeConfig struct {
	APIKey string `envconfig:"DOARBEM_STRIPE_API_KEY"`
	Secret string `envconfig:"DOARBEM_STRIPE_WEBHOOK_SECRET"`
	Env    string `envconfig:"DOARBEM_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PayPalConfig struct {
	ClientID        string        `envconfig:"DOARBEM_PAYPAL_CLIENT_ID"`
	ClientSecret    string        `envconfig:"DOARBEM_PAYPAL_CLIENT_SECRET"`
	Env             string        `envconfig:"DOARBEM_PAYPAL_ENV" default:"sandbox"`
	WebhookID       string        `envconfig:"DOARBEM_PAYPAL_WEBHOOK_ID"`
	VerifyWebhook   bool          `envconfig:"DOARBEM_PAYPAL_VERIFY_WEBHOOK" default:"true"`
	RequestTimeout  time.Duration `envconfig:"DOARBEM_PAYPAL_REQUEST_TIMEOUT" default:"20s"`
	ReturnURL       string        `envconfig:"DOARBEM_PAYPAL_RETURN_URL"`
	CancelURL       string        `envconfig:"DOARBEM_PAYPAL_CANCEL_URL"`
	BrandName       string        `envconfig:"DOARBEM_PAYPAL_BRAND_NAME" default:"DoarBem"`
	RecurringPlanID string        `envconfig:"DOARBEM_PAYPAL_RECURRING_PLAN_ID"`
}

// BaseURL returns the PayPal REST host for the configured environment.
func (p PayPalConfig) BaseURL() string {
	if strings.EqualFold(strings.TrimSpace(p.Env), "live") {
		return "https://api-m.paypal.com"
	}
	return "https://api-m.sandbox.paypal.com"
}

type SquareConfig struct {
	AccessToken   string `envconfig:"DOARBEM_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"DOARBEM_SQUARE_WEBHOOK_SECRET"`
	Env           string `envconfig:"DOARBEM_SQUARE_ENV" default:"sandbox"`
	LocationID    string `envconfig:"DOARBEM_SQUARE_LOCATION_ID"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type NuveiConfig struct {
	MerchantID     string        `envconfig:"DOARBEM_NUVEI_MERCHANT_ID"`
	MerchantSiteID string        `envconfig:"DOARBEM_NUVEI_MERCHANT_SITE_ID"`
	SecretKey      string        `envconfig:"DOARBEM_NUVEI_SECRET_KEY"`
	Env            string        `envconfig:"DOARBEM_NUVEI_ENV" default:"int"`
	RequestTimeout time.Duration `envconfig:"DOARBEM_NUVEI_REQUEST_TIMEOUT" default:"20s"`
}

// BaseURL returns the Nuvei REST host for the configured environment.
func (n NuveiConfig) BaseURL() string {
	if strings.EqualFold(strings.TrimSpace(n.Env), "prod") {
		return "https://secure.safecharge.com"
	}
	return "https://ppp-test.safecharge.com"
}

type LytexConfig struct {
	ClientID       string        `envconfig:"DOARBEM_LYTEX_CLIENT_ID"`
	ClientSecret   string        `envconfig:"DOARBEM_LYTEX_CLIENT_SECRET"`
	WebhookToken   string        `envconfig:"DOARBEM_LYTEX_WEBHOOK_TOKEN"`
	BaseURL        string        `envconfig:"DOARBEM_LYTEX_BASE_URL" default:"https://api.lytex.com.br"`
	RequestTimeout time.Duration `envconfig:"DOARBEM_LYTEX_REQUEST_TIMEOUT" default:"20s"`
}

type TransfeeraConfig struct {
	ClientID       string        `envconfig:"DOARBEM_TRANSFEERA_CLIENT_ID"`
	ClientSecret   string        `envconfig:"DOARBEM_TRANSFEERA_CLIENT_SECRET"`
	WebhookToken   string        `envconfig:"DOARBEM_TRANSFEERA_WEBHOOK_TOKEN"`
	PixKey         string        `envconfig:"DOARBEM_TRANSFEERA_PIX_KEY"`
	Env            string        `envconfig:"DOARBEM_TRANSFEERA_ENV" default:"sandbox"`
	RequestTimeout time.Duration `envconfig:"DOARBEM_TRANSFEERA_REQUEST_TIMEOUT" default:"20s"`
}

// BaseURL returns the Transfeera API host for the configured environment.
func (t TransfeeraConfig) BaseURL() string {
	if strings.EqualFold(strings.TrimSpace(t.Env), "prod") {
		return "https://api.transfeera.com"
	}
	return "https://api-sandbox.transfeera.com"
}

// LoginURL returns the Transfeera OAuth host for the configured environment.
func (t TransfeeraConfig) LoginURL() string {
	if strings.EqualFold(strings.TrimSpace(t.Env), "prod") {
		return "https://login-api.transfeera.com"
	}
	return "https://login-api-sandbox.transfeera.com"
}

// ConversionsConfig carries the ads conversions API credential sets. A
// campaign tag embedded in utm_campaign selects the destination set; events
// without a tag go to every configured set.
type ConversionsConfig struct {
	Endpoint       string        `envconfig:"DOARBEM_CONVERSIONS_ENDPOINT" default:"https://graph.facebook.com/v18.0"`
	B1SPixelID     string        `envconfig:"DOARBEM_CONVERSIONS_B1S_PIXEL_ID"`
	B1SAccessToken string        `envconfig:"DOARBEM_CONVERSIONS_B1S_ACCESS_TOKEN"`
	B2SPixelID     string        `envconfig:"DOARBEM_CONVERSIONS_B2S_PIXEL_ID"`
	B2SAccessToken string        `envconfig:"DOARBEM_CONVERSIONS_B2S_ACCESS_TOKEN"`
	RequestTimeout time.Duration `envconfig:"DOARBEM_CONVERSIONS_REQUEST_TIMEOUT" default:"15s"`
}

type TrackingConfig struct {
	Endpoint           string        `envconfig:"DOARBEM_TRACKING_ENDPOINT"`
	APIToken           string        `envconfig:"DOARBEM_TRACKING_API_TOKEN"`
	Platform           string        `envconfig:"DOARBEM_TRACKING_PLATFORM" default:"doarbem"`
	GatewayFeeBasisPts int           `envconfig:"DOARBEM_TRACKING_GATEWAY_FEE_BP" default:"0"`
	RequestTimeout     time.Duration `envconfig:"DOARBEM_TRACKING_REQUEST_TIMEOUT" default:"15s"`
}

type ReceiptConfig struct {
	ProductCode  string `envconfig:"DOARBEM_RECEIPT_PRODUCT_CODE" default:"SPR"`
	MinAmount    int64  `envconfig:"DOARBEM_RECEIPT_MIN_AMOUNT_CENTS" default:"100"`
	BaseURL      string `envconfig:"DOARBEM_RECEIPT_BASE_URL"`
	// ClickRedirectURL is where the receipt's tracked link lands.
	ClickRedirectURL string `envconfig:"DOARBEM_RECEIPT_CLICK_REDIRECT_URL" default:"/"`
	SubjectBrand string `envconfig:"DOARBEM_RECEIPT_SUBJECT_BRAND" default:"DoarBem"`
}

type SendgridConfig struct {
	APIKey      string `envconfig:"DOARBEM_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"DOARBEM_SENDGRID_FROM_EMAIL"`
	FromName    string `envconfig:"DOARBEM_SENDGRID_FROM_NAME" default:"DoarBem"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"DOARBEM_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"DOARBEM_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"DOARBEM_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	ReceiptsTopic        string `envconfig:"DOARBEM_PUBSUB_RECEIPTS_TOPIC" default:"db-receipt-jobs"`
	ReceiptsSubscription string `envconfig:"DOARBEM_PUBSUB_RECEIPTS_SUBSCRIPTION"`
}

type BigQueryConfig struct {
	Dataset             string `envconfig:"DOARBEM_BIGQUERY_DATASET" default:"doarbem"`
	DonationEventsTable string `envconfig:"DOARBEM_BIGQUERY_DONATION_EVENTS_TABLE" default:"donation_events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"DOARBEM_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"DOARBEM_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"DOARBEM_OUTBOX_MAX_ATTEMPTS" default:"10"`
	IdempotencyTTL time.Duration `envconfig:"DOARBEM_OUTBOX_IDEMPOTENCY_TTL" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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
