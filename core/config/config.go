package config

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Webhook  WebhookConfig
	Broker   BrokerConfig
	Media    MediaConfig
	Worker   WorkerConfig
	Realtime RealtimeConfig
	Valkey   ValkeyConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	Debug              bool
	FrontendURL        string
	CorsAllowedOrigins []string
	RateLimitWindow    time.Duration
	RateLimitMax       int
	RequestTimeout     time.Duration
}

type DatabaseConfig struct {
	// URL toggles persistent storage. Empty enables the in-memory
	// degraded mode where every write is rejected.
	URL string
}

type WebhookConfig struct {
	APIKey            string
	SignatureSecret   string
	VerifyToken       string
	TrustedIPs        []string
	SignatureRequired bool
	// RequireTenant rejects requests whose tenant cannot be resolved at
	// the auth boundary. Off by default: brokers may carry the tenant
	// inside the event body, which only the pipeline can see.
	RequireTenant bool
	// Sliding-window limiter for the webhook surface.
	RateLimitWindow          time.Duration
	RateLimitMax             int
	AckLateThreshold         time.Duration
	EmitTicketRealtimeEvents bool
	AutoProvisionInstances   bool
	DefaultTenantID          string
}

type BrokerConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// DirectTimeout bounds the first-chance download of broker-announced
	// media URLs; Timeout bounds the broker-mediated fallback.
	DirectTimeout time.Duration
}

type MediaConfig struct {
	UploadsDir     string
	UploadsBaseURL string
	SignedURLTTL   time.Duration
	SignSecret     string
}

type WorkerConfig struct {
	Interval  time.Duration
	MaxRuns   int
	BatchSize int
}

type RealtimeConfig struct {
	SocketPath string
}

type ValkeyConfig struct {
	Enabled   bool
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// Global provides access to the loaded configuration (set by Load).
var Global *Config

// Load reads configuration from the environment, with .env support.
func Load() (*Config, error) {
	_ = godotenv.Load()
	viper.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Port:               getString("PORT", "3100"),
			Environment:        getString("NODE_ENV", "development"),
			Debug:              getBool("APP_DEBUG", false),
			FrontendURL:        getString("FRONTEND_URL", ""),
			CorsAllowedOrigins: splitList(getString("CORS_ALLOWED_ORIGINS", "")),
			RateLimitWindow:    getDurationMs("RATE_LIMIT_WINDOW_MS", 15*time.Minute),
			RateLimitMax:       getInt("RATE_LIMIT_MAX_REQUESTS", 100),
			RequestTimeout:     30 * time.Second,
		},
		Database: DatabaseConfig{
			URL: getString("DATABASE_URL", ""),
		},
		Webhook: WebhookConfig{
			APIKey:            getString("WHATSAPP_WEBHOOK_API_KEY", ""),
			SignatureSecret:   getString("WHATSAPP_WEBHOOK_SIGNATURE_SECRET", ""),
			VerifyToken:       getString("WHATSAPP_WEBHOOK_VERIFY_TOKEN", ""),
			TrustedIPs:        splitList(getString("WHATSAPP_WEBHOOK_TRUSTED_IPS", "")),
			SignatureRequired: getBool("WHATSAPP_WEBHOOK_SIGNATURE_REQUIRED", false),
			RequireTenant:     getBool("WHATSAPP_WEBHOOK_REQUIRE_TENANT", false),
			RateLimitWindow:   getDurationMs("WEBHOOK_RATE_LIMIT_WINDOW_MS", 10*time.Second),
			RateLimitMax:      getInt("WEBHOOK_RATE_LIMIT_MAX_REQUESTS", 60),
			AckLateThreshold:  getDurationMs("ACK_LATE_THRESHOLD_MS", 10*time.Minute),
			EmitTicketRealtimeEvents: getBool("EMIT_TICKET_REALTIME_EVENTS", true),
			AutoProvisionInstances:   getBool("WHATSAPP_AUTO_PROVISION_INSTANCES", true),
			DefaultTenantID:          getString("WHATSAPP_DEFAULT_TENANT_ID", ""),
		},
		Broker: BrokerConfig{
			URL:           getString("WHATSAPP_BROKER_URL", ""),
			APIKey:        getString("WHATSAPP_BROKER_API_KEY", ""),
			Timeout:       getDurationMs("WHATSAPP_BROKER_TIMEOUT_MS", 8*time.Second),
			DirectTimeout: 5 * time.Second,
		},
		Media: MediaConfig{
			UploadsDir:     getString("WHATSAPP_UPLOADS_DIR", "storages/uploads"),
			UploadsBaseURL: getString("WHATSAPP_UPLOADS_BASE_URL", "/uploads"),
			SignedURLTTL:   time.Duration(getInt("WHATSAPP_MEDIA_SIGNED_URL_TTL_SECONDS", 86400)) * time.Second,
			SignSecret:     getString("WHATSAPP_MEDIA_SIGN_SECRET", ""),
		},
		Worker: WorkerConfig{
			Interval:  getDurationMs("MEDIA_RETRY_WORKER_INTERVAL_MS", time.Minute),
			MaxRuns:   getInt("MEDIA_RETRY_WORKER_MAX_RUNS", 0),
			BatchSize: getInt("MEDIA_RETRY_WORKER_BATCH_SIZE", 10),
		},
		Realtime: RealtimeConfig{
			SocketPath: getString("SOCKET_IO_PATH", "/socket.io"),
		},
		Valkey: ValkeyConfig{
			Enabled:   getString("VALKEY_ADDRESS", "") != "",
			Address:   getString("VALKEY_ADDRESS", ""),
			Password:  getString("VALKEY_PASSWORD", ""),
			DB:        getInt("VALKEY_DB", 0),
			KeyPrefix: getString("VALKEY_KEY_PREFIX", "leadengine"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	Global = cfg
	return cfg, nil
}

// Validate rejects configurations the server cannot safely start with.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(&c.App,
		validation.Field(&c.App.Port, validation.Required),
		validation.Field(&c.App.RateLimitMax, validation.Min(1)),
	)
	if err != nil {
		return err
	}
	return validation.ValidateStruct(&c.Webhook,
		validation.Field(&c.Webhook.RateLimitMax, validation.Min(1)),
	)
}

// IsProduction reports whether the global rate limiter should be armed.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}
