// Package config loads the nfse-processor configuration from a YAML file
// and NFSE_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rezonia/nfse-processor/internal/cache"
	"github.com/rezonia/nfse-processor/internal/logger"
	"github.com/rezonia/nfse-processor/internal/provider"
)

// Cache drivers
const (
	CacheDriverFile  = "file"
	CacheDriverRedis = "redis"
)

// Config is the root configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Provider    provider.Config   `mapstructure:"provider"`
	Resolver    ResolverConfig    `mapstructure:"resolver"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Certificate CertificateConfig `mapstructure:"certificate"`
	Handler     HandlerConfig     `mapstructure:"handler"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type ResolverConfig struct {
	Policy string `mapstructure:"policy"`
}

type CatalogConfig struct {
	TTL    time.Duration `mapstructure:"ttl"`
	Warmup []string      `mapstructure:"warmup"`
}

type CacheConfig struct {
	Driver string      `mapstructure:"driver"`
	Dir    string      `mapstructure:"dir"`
	Redis  RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// CertificateConfig points at either a PFX file or a PEM certificate and key
type CertificateConfig struct {
	Path     string `mapstructure:"path"`
	Password string `mapstructure:"password"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CABundle string `mapstructure:"ca_bundle"`
}

type HandlerConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MemoTTL       time.Duration `mapstructure:"memo_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load reads configPath (or nfse.yaml from the usual locations when empty)
// and applies environment overrides such as NFSE_PROVIDER_ENVIRONMENT
func Load(configPath string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("nfse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.nfse-processor")
		v.AddConfigPath("/etc/nfse-processor")
	}

	v.SetEnvPrefix("NFSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Provider = cfg.Provider.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("provider.environment", provider.EnvHomologacao)
	v.SetDefault("provider.schema_version", provider.SchemaV100)
	v.SetDefault("provider.aliquot_format", "percent")
	v.SetDefault("provider.timeout", provider.DefaultTimeout)
	v.SetDefault("provider.municipality_code", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.catalog_base_url", "")

	v.SetDefault("resolver.policy", provider.PolicyNational.String())

	v.SetDefault("catalog.ttl", "24h")
	v.SetDefault("catalog.warmup", []string{})

	v.SetDefault("cache.driver", CacheDriverFile)
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", cache.DefaultRedisPrefix)

	v.SetDefault("certificate.path", "")
	v.SetDefault("certificate.password", "")
	v.SetDefault("certificate.cert_file", "")
	v.SetDefault("certificate.key_file", "")
	v.SetDefault("certificate.ca_bundle", "")

	v.SetDefault("handler.timeout", "30s")
	v.SetDefault("handler.retry_attempts", 3)
	v.SetDefault("handler.retry_delay", "1s")
	v.SetDefault("handler.memo_ttl", "5m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.Cache.Driver {
	case CacheDriverFile:
	case CacheDriverRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required when cache.driver is redis")
		}
	default:
		return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
	}

	switch strings.ToLower(c.Resolver.Policy) {
	case "national", "direct":
	default:
		return fmt.Errorf("unknown resolver policy %q", c.Resolver.Policy)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	if c.Certificate.Path != "" && (c.Certificate.CertFile != "" || c.Certificate.KeyFile != "") {
		return fmt.Errorf("certificate.path and certificate.cert_file/key_file are mutually exclusive")
	}
	if (c.Certificate.CertFile == "") != (c.Certificate.KeyFile == "") {
		return fmt.Errorf("certificate.cert_file and certificate.key_file must be set together")
	}

	if c.Handler.RetryAttempts < 1 {
		return fmt.Errorf("handler.retry_attempts must be at least 1")
	}
	if c.Catalog.TTL <= 0 {
		return fmt.Errorf("catalog.ttl must be positive")
	}

	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("invalid provider configuration: %w", err)
	}
	return nil
}

// HasCertificate reports whether a certificate is configured
func (c *Config) HasCertificate() bool {
	return c.Certificate.Path != "" || c.Certificate.CertFile != ""
}

// LoggerConfig converts the logging section
func (c *Config) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// ResolverPolicy parses the resolver policy
func (c *Config) ResolverPolicy() provider.Policy {
	return provider.ParsePolicy(c.Resolver.Policy)
}

// RedisOptions converts the Redis section
func (c *Config) RedisOptions() cache.RedisConfig {
	return cache.RedisConfig{
		Addr:     c.Cache.Redis.Addr,
		Password: c.Cache.Redis.Password,
		DB:       c.Cache.Redis.DB,
	}
}
