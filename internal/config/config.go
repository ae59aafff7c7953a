package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	DBDriver    string
	SQLitePath  string
	DatabaseURL string

	JWTSecret          string
	EncryptKey         string
	LegacyEncryptKeys  []string
	AccessTokenMinutes int

	BusDriver          string
	RedisURL           string
	BusChannelPrefix   string
	SubscriptionBuffer int

	CORSOrigins      []string
	Debug            bool
	MaxMessageLength int
	MessagesPageSize int

	WSPingInterval time.Duration
	WSReadLimit    int64
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppName: getEnv("APP_NAME", "chatgraph"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 4000),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		SQLitePath: getEnv("SQLITE_PATH", "chat.db"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		EncryptKey:         os.Getenv("ENCRYPTION_KEY"),
		LegacyEncryptKeys:  splitList(os.Getenv("LEGACY_ENCRYPTION_KEYS")),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),

		BusDriver:          strings.ToLower(getEnv("BUS_DRIVER", "memory")),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		BusChannelPrefix:   getEnv("BUS_CHANNEL_PREFIX", "chatgraph"),
		SubscriptionBuffer: getEnvAsInt("SUBSCRIPTION_BUFFER", 64),

		Debug:            getEnvAsBool("DEBUG", true),
		MaxMessageLength: getEnvAsInt("MAX_MESSAGE_LENGTH", 5000),
		MessagesPageSize: getEnvAsInt("MESSAGES_PAGE_SIZE", 200),

		WSPingInterval: getEnvAsDuration("WS_PING_INTERVAL", 30*time.Second),
		WSReadLimit:    int64(getEnvAsInt("WS_READ_LIMIT", 64*1024)),
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		u := url.URL{
			Scheme: "postgres",
			User: url.UserPassword(
				getEnv("POSTGRES_USER", "postgres"),
				getEnv("POSTGRES_PASSWORD", "postgres"),
			),
			Host:     fmt.Sprintf("%s:%s", getEnv("POSTGRES_HOST", "localhost"), getEnv("POSTGRES_PORT", "5432")),
			Path:     getEnv("POSTGRES_DB", "chat"),
			RawQuery: "sslmode=disable",
		}
		cfg.DatabaseURL = u.String()
	}

	if cors := splitList(os.Getenv("CORS_ORIGINS")); len(cors) > 0 {
		cfg.CORSOrigins = cors
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000"}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.EncryptKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	switch cfg.BusDriver {
	case "memory", "redis":
	default:
		return nil, fmt.Errorf("unsupported BUS_DRIVER %q", cfg.BusDriver)
	}
	if cfg.SubscriptionBuffer <= 0 {
		return nil, fmt.Errorf("SUBSCRIPTION_BUFFER must be positive")
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenMinutes) * time.Minute
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	res := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}
