package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Env         string
	ServerPort  string
	StoreDriver string
	SeedFile    string
	DB          DBConfig
	Redis       RedisConfig
	JWTSecret   string
	NodeID      int64
	Log         LogConfig
	CORSOrigins []string
	WS          WSConfig
	OTel        OTelConfig

	// nodeSet reports whether SNOWFLAKE_NODE came from the environment
	// rather than the default.
	nodeSet bool
}

type DBConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	MaxConns int32
}

// DSN returns DATABASE_URL when set, otherwise a DSN built from the parts.
func (c DBConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Name)
}

type RedisConfig struct {
	URL     string
	Channel string
}

func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

type LogConfig struct {
	Level  string
	Format string
}

type WSConfig struct {
	// RateLimit is the sustained number of inbound frames per second a
	// single connection may send.
	RateLimit float64
	RateBurst int
	PongWait  time.Duration
}

type OTelConfig struct {
	Endpoint    string
	Headers     string
	ServiceName string
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads configuration from the environment. In development a .env file
// in the working directory is loaded first if present.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if v.GetString("APP_ENV") == "development" {
		_ = godotenv.Load()
	}

	cfg := &Config{
		Env:         v.GetString("APP_ENV"),
		ServerPort:  v.GetString("SERVER_PORT"),
		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		SeedFile:    v.GetString("SEED_FILE"),
		DB: DBConfig{
			URL:      v.GetString("DATABASE_URL"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			MaxConns: v.GetInt32("DB_MAX_CONNS"),
		},
		Redis: RedisConfig{
			URL:     v.GetString("REDIS_URL"),
			Channel: v.GetString("REDIS_CHANNEL"),
		},
		JWTSecret: v.GetString("JWT_SECRET"),
		NodeID:    v.GetInt64("SNOWFLAKE_NODE"),
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
		WS: WSConfig{
			RateLimit: v.GetFloat64("WS_RATE_LIMIT"),
			RateBurst: v.GetInt("WS_RATE_BURST"),
			PongWait:  v.GetDuration("WS_PONG_WAIT"),
		},
		OTel: OTelConfig{
			Endpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Headers:     v.GetString("OTEL_EXPORTER_OTLP_HEADERS"),
			ServiceName: v.GetString("OTEL_SERVICE_NAME"),
		},
	}
	_, cfg.nodeSet = os.LookupEnv("SNOWFLAKE_NODE")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("SEED_FILE", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "stratchat")
	v.SetDefault("DB_PASSWORD", "stratchat_dev_password")
	v.SetDefault("DB_NAME", "stratchat")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_CHANNEL", "stratchat:events")
	v.SetDefault("JWT_SECRET", "dev-secret-change-me")
	v.SetDefault("SNOWFLAKE_NODE", 1)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("WS_RATE_LIMIT", 10.0)
	v.SetDefault("WS_RATE_BURST", 20)
	v.SetDefault("WS_PONG_WAIT", 60*time.Second)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_HEADERS", "")
	v.SetDefault("OTEL_SERVICE_NAME", "stratchat")
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}
	if c.IsProduction() && c.JWTSecret == "dev-secret-change-me" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("SNOWFLAKE_NODE must be between 0 and 1023")
	}
	// Relayed instances share one database, so each needs its own node.
	if c.Redis.Enabled() && !c.nodeSet {
		return fmt.Errorf("SNOWFLAKE_NODE must be set explicitly when REDIS_URL is set")
	}
	if c.WS.RateLimit <= 0 || c.WS.RateBurst <= 0 {
		return fmt.Errorf("WS_RATE_LIMIT and WS_RATE_BURST must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
