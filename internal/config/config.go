package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const DefaultPath = "configs/config.yaml"

type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StoreFile     StoreKind = "file"
	StoreRedis    StoreKind = "redis"
	StoreDynamoDB StoreKind = "dynamodb"
)

func ParseStoreKind(raw string) (StoreKind, error) {
	kind := StoreKind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case "", StoreMemory, StoreFile, StoreRedis, StoreDynamoDB:
		if kind == "" {
			return StoreMemory, nil
		}
		return kind, nil
	default:
		return "", fmt.Errorf("invalid store kind %q", raw)
	}
}

type Server struct {
	Port            string        `yaml:"port" env:"PORT" env-default:"8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	SecureCookies   bool          `yaml:"secure_cookies" env:"SECURE_COOKIES"`
	CookieMaxAge    time.Duration `yaml:"cookie_max_age" env:"COOKIE_MAX_AGE" env-default:"720h"`
	// WorkspaceIdle is how long a client's in-memory workspace survives without requests.
	WorkspaceIdle time.Duration `yaml:"workspace_idle" env:"WORKSPACE_IDLE" env-default:"30m"`
}

type Backend struct {
	URL     string        `yaml:"url" env:"BACKEND_URL" env-default:"http://localhost:8000"`
	Timeout time.Duration `yaml:"timeout" env:"BACKEND_TIMEOUT" env-default:"30s"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type DynamoDB struct {
	Table  string `yaml:"table" env:"TABLE_NAME"`
	Region string `yaml:"region" env:"AWS_REGION"`
}

// Cache configures where session and cache entries live and how long they stay fresh.
type Cache struct {
	Store          string        `yaml:"store" env:"CACHE_STORE" env-default:"memory"`
	FilePath       string        `yaml:"file_path" env:"CACHE_FILE"`
	CompaniesTTL   time.Duration `yaml:"companies_ttl" env:"COMPANIES_TTL" env-default:"5m"`
	PanelTTL       time.Duration `yaml:"panel_ttl" env:"PANEL_TTL" env-default:"5m"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"REFRESH_TIMEOUT" env-default:"10s"`
	EntryTTL       time.Duration `yaml:"entry_ttl" env:"CACHE_ENTRY_TTL" env-default:"24h"`
	PruneSchedule  string        `yaml:"prune_schedule" env:"CACHE_PRUNE_SCHEDULE" env-default:"@every 10m"`
	PruneRetention time.Duration `yaml:"prune_retention" env:"CACHE_PRUNE_RETENTION" env-default:"1h"`
	Redis          Redis         `yaml:"redis"`
	DynamoDB       DynamoDB      `yaml:"dynamodb"`
}

type Tracing struct {
	Enabled     bool   `yaml:"enabled" env:"TRACING_ENABLED"`
	SegmentName string `yaml:"segment_name" env:"TRACING_SEGMENT" env-default:"admin-dashboard"`
}

type Auth struct {
	LoginPerMinute int `yaml:"login_per_minute" env:"LOGIN_PER_MINUTE" env-default:"10"`
	LoginBurst     int `yaml:"login_burst" env:"LOGIN_BURST" env-default:"5"`
}

type Config struct {
	Server  Server  `yaml:"server"`
	Backend Backend `yaml:"backend"`
	Cache   Cache   `yaml:"cache"`
	// RequestTimeout overrides the per-view request ceiling when non-zero.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	Tracing        Tracing       `yaml:"tracing"`
	Auth           Auth          `yaml:"auth"`
	LogLevel       string        `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	StoreKind StoreKind `yaml:"-" env:"-"`
}

// Load reads .env, then the yaml file at path if it exists, then the environment.
// An empty path means CONFIG_PATH or DefaultPath.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := &Config{}
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	kind, err := ParseStoreKind(c.Cache.Store)
	if err != nil {
		return err
	}
	c.StoreKind = kind

	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend url %q", c.Backend.URL)
	}
	switch kind {
	case StoreFile:
		if c.Cache.FilePath == "" {
			return errors.New("CACHE_FILE is required for the file store")
		}
	case StoreRedis:
		if c.Cache.Redis.Addr == "" {
			return errors.New("REDIS_ADDR is required for the redis store")
		}
	case StoreDynamoDB:
		if c.Cache.DynamoDB.Table == "" || c.Cache.DynamoDB.Region == "" {
			return errors.New("TABLE_NAME and AWS_REGION are required for the dynamodb store")
		}
	}
	if c.Server.WorkspaceIdle <= 0 {
		return errors.New("workspace idle timeout must be positive")
	}
	if c.Auth.LoginPerMinute <= 0 || c.Auth.LoginBurst <= 0 {
		return errors.New("login rate limit must be positive")
	}
	return nil
}

// Lambda reports whether the process runs inside AWS Lambda.
func Lambda() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}
