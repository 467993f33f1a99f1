package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type JWTConfig struct {
	Secret    string        `mapstructure:"secret"`
	Issuer    string        `mapstructure:"issuer"`
	Audience  string        `mapstructure:"audience"`
	TTL       time.Duration `mapstructure:"ttl"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	CacheSize int           `mapstructure:"cache_size"`
}

// GatewayConfig tunes the real-time gateway and its websocket transport.
type GatewayConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	VerifyTimeout    time.Duration `mapstructure:"verify_timeout"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	RelayRate        float64       `mapstructure:"relay_rate"`
	RelayBurst       int           `mapstructure:"relay_burst"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
}

// RedisConfig enables the presence mirror when Address is set.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

var envBindings = map[string]string{
	"server.port":               "SERVER_PORT",
	"server.allowed_origins":    "ALLOWED_ORIGINS",
	"database.path":             "DATABASE_PATH",
	"jwt.secret":                "JWT_SECRET",
	"jwt.issuer":                "JWT_ISSUER",
	"jwt.audience":              "JWT_AUDIENCE",
	"jwt.ttl":                   "JWT_TTL",
	"jwt.cache_ttl":             "JWT_CACHE_TTL",
	"jwt.cache_size":            "JWT_CACHE_SIZE",
	"gateway.handshake_timeout": "GATEWAY_HANDSHAKE_TIMEOUT",
	"gateway.verify_timeout":    "GATEWAY_VERIFY_TIMEOUT",
	"gateway.send_buffer":       "GATEWAY_SEND_BUFFER",
	"gateway.relay_rate":        "GATEWAY_RELAY_RATE",
	"gateway.relay_burst":       "GATEWAY_RELAY_BURST",
	"gateway.max_message_size":  "GATEWAY_MAX_MESSAGE_SIZE",
	"redis.address":             "REDIS_ADDRESS",
	"redis.password":            "REDIS_PASSWORD",
	"redis.db":                  "REDIS_DB",
	"redis.prefix":              "REDIS_PREFIX",
	"log.level":                 "LOG_LEVEL",
	"log.development":           "LOG_DEVELOPMENT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("database.path", "chat.db")
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.issuer", "chat-gateway-api")
	v.SetDefault("jwt.audience", "chat-clients")
	v.SetDefault("jwt.ttl", 7*24*time.Hour)
	v.SetDefault("jwt.cache_ttl", 5*time.Minute)
	v.SetDefault("jwt.cache_size", 10000)
	v.SetDefault("gateway.handshake_timeout", 10*time.Second)
	v.SetDefault("gateway.verify_timeout", 5*time.Second)
	v.SetDefault("gateway.send_buffer", 256)
	v.SetDefault("gateway.relay_rate", 10.0)
	v.SetDefault("gateway.relay_burst", 20)
	v.SetDefault("gateway.max_message_size", 64*1024)
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chat")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads config.yaml from the usual locations if present, then applies
// environment overrides on top of the defaults.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/chat-gateway/")

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return decode(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// ALLOWED_ORIGINS arrives as one comma separated string
	var origins []string
	for _, o := range cfg.Server.AllowedOrigins {
		origins = append(origins, splitList(o)...)
	}
	cfg.Server.AllowedOrigins = origins
	if cfg.JWT.Secret == "" {
		return nil, errors.New("jwt.secret must not be empty")
	}
	return &cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// String returns a log-safe summary of the configuration.
func (c *Config) String() string {
	redis := "disabled"
	if c.Redis.Address != "" {
		redis = c.Redis.Address
	}
	return fmt.Sprintf(
		"Server: :%d, Database: %s, Redis: %s, Origins: %v",
		c.Server.Port,
		c.Database.Path,
		redis,
		c.Server.AllowedOrigins,
	)
}
