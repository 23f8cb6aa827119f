package infra

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Worker policies.
const (
	WorkerPolicyOnDemand = "on_demand"
	WorkerPolicyAlways   = "always"
)

// Upload providers.
const (
	UploadProviderFilesystem = "filesystem"
	UploadProviderCloudinary = "cloudinary"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	Port          string `env:"PORT" envDefault:"8080"`
	DatabaseURL   string `env:"DATABASE_URL,required,notEmpty"`
	DBAutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"false"`
	JWTSecret     string `env:"JWT_SECRET,required,notEmpty"`
	DefaultLocale string `env:"DEFAULT_LOCALE" envDefault:"en"`
	GeoIPDBPath   string `env:"GEOIP_DB_PATH"`

	RedisURL             string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	QueueName            string        `env:"QUEUE_NAME" envDefault:"image-generation"`
	QueuePrefix          string        `env:"QUEUE_PREFIX" envDefault:"genstudio"`
	QueueStalledInterval time.Duration `env:"QUEUE_STALLED_INTERVAL" envDefault:"24h"`
	QueueStalledCheck    time.Duration `env:"QUEUE_STALLED_CHECK_INTERVAL" envDefault:"30s"`
	QueuePollInterval    time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	RemoveOnCompleteAge  time.Duration `env:"QUEUE_REMOVE_ON_COMPLETE_AGE" envDefault:"60s"`
	RemoveOnFailAge      time.Duration `env:"QUEUE_REMOVE_ON_FAIL_AGE" envDefault:"120s"`
	WorkerConcurrency    int           `env:"WORKER_CONCURRENCY" envDefault:"1"`
	WorkerPolicy         string        `env:"WORKER_POLICY" envDefault:"on_demand"`

	IdeogramAPIKey  string        `env:"IDEOGRAM_API_KEY"`
	IdeogramBaseURL string        `env:"IDEOGRAM_BASE_URL" envDefault:"https://api.ideogram.ai"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"120s"`

	UploadProvider      string `env:"UPLOAD_PROVIDER" envDefault:"filesystem"`
	StoragePath         string `env:"STORAGE_PATH" envDefault:"./storage"`
	StorageBaseURL      string `env:"STORAGE_BASE_URL"`
	CloudinaryCloudName string `env:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `env:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `env:"CLOUDINARY_API_SECRET"`
	CloudinaryFolder    string `env:"CLOUDINARY_FOLDER" envDefault:"generated"`

	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	RateLimitPerMin    int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
	HTTPReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// LoadConfig loads optional .env files, parses the environment and applies
// derived defaults.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")
	return ParseConfig()
}

// ParseConfig parses configuration from the current environment only.
func ParseConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.WorkerPolicy = strings.ToLower(strings.TrimSpace(cfg.WorkerPolicy))
	switch cfg.WorkerPolicy {
	case WorkerPolicyOnDemand, WorkerPolicyAlways:
	default:
		return nil, fmt.Errorf("WORKER_POLICY must be %q or %q", WorkerPolicyOnDemand, WorkerPolicyAlways)
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}

	cfg.UploadProvider = strings.ToLower(strings.TrimSpace(cfg.UploadProvider))
	switch cfg.UploadProvider {
	case UploadProviderFilesystem:
	case UploadProviderCloudinary:
		if cfg.CloudinaryCloudName == "" || cfg.CloudinaryAPIKey == "" || cfg.CloudinaryAPISecret == "" {
			return nil, fmt.Errorf("cloudinary upload requires CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET")
		}
	default:
		return nil, fmt.Errorf("unsupported UPLOAD_PROVIDER %q", cfg.UploadProvider)
	}

	if strings.TrimSpace(cfg.StorageBaseURL) == "" {
		cfg.StorageBaseURL = fmt.Sprintf("http://localhost:%s/static", cfg.Port)
	}
	if _, err := url.Parse(cfg.StorageBaseURL); err != nil {
		return nil, fmt.Errorf("invalid STORAGE_BASE_URL: %w", err)
	}

	return cfg, nil
}

// AlwaysOn reports whether the worker should run without idle shutdown.
func (c *Config) AlwaysOn() bool {
	return c.WorkerPolicy == WorkerPolicyAlways
}
