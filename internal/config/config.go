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

const (
	ModeBackend = "backend"
	ModeDirect  = "direct"
)

const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreMySQL  = "mysql"
	StoreSQLite = "sqlite"
)

// Config aggregates runtime configuration for the studio client and its
// supporting services.
type Config struct {
	Mode           string
	BackendURL     string
	RequestTimeout time.Duration
	LogLevel       string

	GenerationCost    int
	CombineCost       int
	FreeSignupCredits int
	StartingCredits   int
	BaseDimension     int

	GenerationPollInterval time.Duration
	GenerationPollAttempts int
	PaymentPollInterval    time.Duration
	PaymentPollAttempts    int
	PollBackoff            float64

	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiImageModel string
	GeminiTextModel  string

	StoreDriver   string
	StorePath     string
	MySQLDSN      string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string

	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string

	TelegramBotToken string
	TelegramChatID   int64
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultBackendURL = "http://localhost:8001"

	cfg := Config{
		Mode:                   strings.ToLower(getEnv("STUDIO_MODE", ModeBackend)),
		BackendURL:             normalizeBackendURL(getEnv("BACKEND_URL", defaultBackendURL), defaultBackendURL),
		RequestTimeout:         time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 30)),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		GenerationCost:         getInt("GENERATION_COST", 4),
		CombineCost:            getInt("COMBINE_COST", 4),
		FreeSignupCredits:      getInt("FREE_SIGNUP_CREDITS", 12),
		StartingCredits:        getInt("STARTING_CREDITS", 100),
		BaseDimension:          getInt("BASE_DIMENSION", 1024),
		GenerationPollInterval: time.Millisecond * time.Duration(getInt("GENERATION_POLL_INTERVAL_MS", 2000)),
		GenerationPollAttempts: getInt("GENERATION_POLL_ATTEMPTS", 30),
		PaymentPollInterval:    time.Millisecond * time.Duration(getInt("PAYMENT_POLL_INTERVAL_MS", 2000)),
		PaymentPollAttempts:    getInt("PAYMENT_POLL_ATTEMPTS", 10),
		PollBackoff:            getFloat("POLL_BACKOFF", 1.0),
		GeminiAPIKey:           os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:          getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiImageModel:       getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		GeminiTextModel:        getEnv("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),
		StoreDriver:            strings.ToLower(getEnv("STORE_DRIVER", StoreFile)),
		StorePath:              getEnv("STORE_PATH", defaultStorePath()),
		MySQLDSN:               os.Getenv("MYSQL_DSN"),
		SQLitePath:             getEnv("SQLITE_PATH", "produktstudio.db"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisPrefix:            getEnv("REDIS_PREFIX", "produktstudio:"),
		S3Endpoint:             getEnv("S3_ENDPOINT", ""),
		S3Region:               os.Getenv("S3_REGION"),
		S3AccessKey:            os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:            os.Getenv("S3_SECRET_KEY"),
		S3Bucket:               os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:        os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:         getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:               getEnv("S3_PREFIX", "generated"),
		AdminListenAddr:        getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:          getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:          getEnv("ADMIN_PASSWORD", "change-me"),
		TelegramBotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:         getInt64("TELEGRAM_CHAT_ID", 0),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting in one error.
func (c Config) Validate() error {
	var problems []string

	switch c.Mode {
	case ModeBackend, ModeDirect:
	default:
		problems = append(problems, fmt.Sprintf("STUDIO_MODE=%q (want backend or direct)", c.Mode))
	}

	var missing []string
	switch c.StoreDriver {
	case StoreFile:
		if c.StorePath == "" {
			missing = append(missing, "STORE_PATH")
		}
	case StoreMySQL:
		if c.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
	case StoreMemory:
	default:
		problems = append(problems, fmt.Sprintf("STORE_DRIVER=%q is not supported", c.StoreDriver))
	}

	if c.S3Bucket != "" {
		if c.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if c.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if c.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if c.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if c.TelegramBotToken != "" && c.TelegramChatID == 0 {
		missing = append(missing, "TELEGRAM_CHAT_ID")
	}

	if c.GenerationPollAttempts <= 0 || c.PaymentPollAttempts <= 0 {
		problems = append(problems, "poll attempts must be positive")
	}
	if c.BaseDimension <= 0 {
		problems = append(problems, "BASE_DIMENSION must be positive")
	}

	if len(missing) > 0 {
		problems = append(problems, fmt.Sprintf("missing required environment variables: %v", missing))
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// PublishingEnabled reports whether generated images should be uploaded to S3.
func (c Config) PublishingEnabled() bool {
	return c.S3Bucket != ""
}

// normalizeBackendURL adds a scheme when missing and makes sure every call
// lands under the /api router the backend mounts its endpoints on.
func normalizeBackendURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		parsed, _ = url.Parse(fallback)
	}

	path := strings.TrimRight(parsed.Path, "/")
	if !strings.HasSuffix(path, "/api") {
		path += "/api"
	}
	parsed.Path = path
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".produktstudio", "state.yaml")
	}
	return filepath.Join(home, ".produktstudio", "state.yaml")
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

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
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

// loadEnvFile loads the first env file found. A CLI is routinely run without
// one, so absence is not an error.
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
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
