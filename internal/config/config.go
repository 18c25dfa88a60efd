package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and supporting services.
type Config struct {
	HTTPListenAddr string
	LogLevel       string

	DBDriver    string
	DatabaseDSN string

	JWTSecret string
	JWTIssuer string

	Generator         string
	GeminiAPIKey      string
	GeminiModel       string
	KIEAPIKey         string
	KIEBaseURL        string
	KIEModel          string
	RequestTimeout    time.Duration
	GenerationTimeout time.Duration
	GenerationCredits int

	SignupBonusCredits int

	DodoAPIKey            string
	DodoEnvironment       string
	DodoReturnURL         string
	DodoWebhookSecret     string
	DefaultBillingCountry string

	PackagesFile             string
	PaymentCurrency          string
	PaymentPriceMinorUnits   int
	PaymentCreditsPerPackage int
	PaymentProductID         string

	AdminUsername string
	AdminPassword string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
	S3Private       bool

	AlertTelegramBotToken string
	AlertTelegramChatID   int64
	AlertAMQPURL          string
	AlertAMQPQueue        string
}

// StorageEnabled reports whether an S3 bucket is configured. Without one,
// generated images are kept inline in the database.
func (c Config) StorageEnabled() bool {
	return c.S3Bucket != ""
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		HTTPListenAddr:           getEnv("HTTP_LISTEN_ADDR", ":8080"),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		DBDriver:                 strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		JWTIssuer:                os.Getenv("AUTH_JWT_ISSUER"),
		Generator:                strings.ToLower(getEnv("GENERATOR", "gemini")),
		GeminiModel:              getEnv("GEMINI_MODEL", "gemini-3-pro-image-preview"),
		KIEBaseURL:               normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIEModel:                 getEnv("KIE_MODEL", "nano-banana-pro"),
		RequestTimeout:           time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		GenerationTimeout:        getDuration("GENERATION_TIMEOUT", 3*time.Minute),
		GenerationCredits:        getInt("GENERATION_CREDITS", 1),
		SignupBonusCredits:       getInt("SIGNUP_BONUS_CREDITS", 100),
		DodoEnvironment:          strings.ToLower(getEnv("DODO_PAYMENTS_ENVIRONMENT", "test_mode")),
		DodoReturnURL:            getEnv("DODO_PAYMENTS_RETURN_URL", "http://localhost:3000/dashboard?payment=success"),
		DefaultBillingCountry:    strings.ToUpper(getEnv("DEFAULT_BILLING_COUNTRY", "US")),
		PackagesFile:             os.Getenv("PACKAGES_FILE"),
		PaymentCurrency:          strings.ToUpper(getEnv("PAYMENT_CURRENCY", "USD")),
		PaymentPriceMinorUnits:   getInt("PAYMENT_PRICE_MINOR_UNITS", 999),
		PaymentCreditsPerPackage: getInt("PAYMENT_CREDITS_PER_PACKAGE", 100),
		PaymentProductID:         os.Getenv("DODO_DEFAULT_PRODUCT_ID"),
		AdminUsername:            getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:            getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:               getEnv("S3_ENDPOINT", ""),
		S3Region:                 os.Getenv("S3_REGION"),
		S3AccessKey:              os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:              os.Getenv("S3_SECRET_KEY"),
		S3Bucket:                 os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:          os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:           getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:                 getEnv("S3_PREFIX", "infographics"),
		S3Private:                getBool("S3_PRIVATE", false),
		AlertTelegramBotToken:    os.Getenv("ALERT_TELEGRAM_BOT_TOKEN"),
		AlertTelegramChatID:      getInt64("ALERT_TELEGRAM_CHAT_ID", 0),
		AlertAMQPURL:             os.Getenv("ALERT_AMQP_URL"),
		AlertAMQPQueue:           getEnv("ALERT_AMQP_QUEUE", "infographic.alerts"),
	}

	cfg.DatabaseDSN = os.Getenv("DATABASE_DSN")
	cfg.JWTSecret = os.Getenv("AUTH_JWT_SECRET")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.KIEAPIKey = os.Getenv("KIE_API_KEY")
	cfg.DodoAPIKey = os.Getenv("DODO_PAYMENTS_API_KEY")
	cfg.DodoWebhookSecret = os.Getenv("DODO_PAYMENTS_WEBHOOK_SECRET")

	if cfg.DatabaseDSN == "" && cfg.DBDriver == "sqlite3" {
		cfg.DatabaseDSN = "infographic.db"
	}

	var missing []string
	switch cfg.DBDriver {
	case "mysql", "sqlite3":
	default:
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.DatabaseDSN == "" {
		missing = append(missing, "DATABASE_DSN")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	switch cfg.Generator {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	case "kie":
		if cfg.KIEAPIKey == "" {
			missing = append(missing, "KIE_API_KEY")
		}
	default:
		return Config{}, fmt.Errorf("unsupported GENERATOR %q", cfg.Generator)
	}
	if cfg.DodoAPIKey == "" {
		missing = append(missing, "DODO_PAYMENTS_API_KEY")
	}
	if cfg.DodoWebhookSecret == "" {
		missing = append(missing, "DODO_PAYMENTS_WEBHOOK_SECRET")
	}
	if cfg.StorageEnabled() {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" && !cfg.S3Private {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if cfg.GenerationCredits < 0 {
		return Config{}, fmt.Errorf("GENERATION_CREDITS must not be negative")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// normalizeKIEBaseURL ensures we always hit the documented API host. Some docs and UI pages
// use the root kie.ai domain, which returns HTML instead of JSON and causes 404s.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getDuration accepts Go duration strings ("90s", "3m") or a plain number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// loadEnvFile applies the first .env file found. Running without one is fine
// when the environment is provided by the orchestrator.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
