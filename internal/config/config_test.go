package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-processor/internal/provider"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nfse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, provider.EnvHomologacao, cfg.Provider.Environment)
	assert.Equal(t, provider.DefaultBaseURL(provider.EnvHomologacao), cfg.Provider.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, CacheDriverFile, cfg.Cache.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Catalog.TTL)
	assert.Equal(t, 3, cfg.Handler.RetryAttempts)
	assert.Equal(t, provider.PolicyNational, cfg.ResolverPolicy())
	assert.False(t, cfg.HasCertificate())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
provider:
  environment: producao
  municipality_code: "4106902"
  aliquot_format: decimal
  timeout: 10s
  auth:
    cnpj: "11222333000181"
resolver:
  policy: direct
catalog:
  ttl: 1h
  warmup: ["4106902", "3550308"]
cache:
  driver: redis
  redis:
    addr: "redis:6379"
    db: 2
certificate:
  path: /certs/empresa.pfx
  password: segredo
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, provider.EnvProducao, cfg.Provider.Environment)
	assert.Equal(t, "https://sefin.nfse.gov.br/SefinNacional", cfg.Provider.BaseURL)
	assert.Equal(t, "4106902", cfg.Provider.MunicipalityCode)
	assert.Equal(t, "decimal", cfg.Provider.AliquotFormat)
	assert.Equal(t, 10*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "11222333000181", cfg.Provider.Auth["cnpj"])
	assert.Equal(t, provider.PolicyDirect, cfg.ResolverPolicy())
	assert.Equal(t, time.Hour, cfg.Catalog.TTL)
	assert.Equal(t, []string{"4106902", "3550308"}, cfg.Catalog.Warmup)
	assert.Equal(t, "redis:6379", cfg.RedisOptions().Addr)
	assert.Equal(t, 2, cfg.RedisOptions().DB)
	assert.True(t, cfg.HasCertificate())
	assert.Equal(t, "debug", cfg.LoggerConfig().Level)
	assert.Equal(t, "console", cfg.LoggerConfig().Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "provider:\n  environment: homologacao\n")
	t.Setenv("NFSE_PROVIDER_ENVIRONMENT", "producao")
	t.Setenv("NFSE_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, provider.EnvProducao, cfg.Provider.Environment)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"cache driver", "cache:\n  driver: memcached\n", "unknown cache driver"},
		{"resolver policy", "resolver:\n  policy: random\n", "unknown resolver policy"},
		{"log level", "logging:\n  level: verbose\n", "unknown log level"},
		{"environment", "provider:\n  environment: staging\n", "invalid provider configuration"},
		{"municipality", "provider:\n  municipality_code: \"123\"\n", "INVALID_MUNICIPALITY_CODE"},
		{"cert pair", "certificate:\n  cert_file: cert.pem\n", "must be set together"},
		{"cert exclusive", "certificate:\n  path: a.pfx\n  cert_file: c.pem\n  key_file: k.pem\n", "mutually exclusive"},
		{"retries", "handler:\n  retry_attempts: 0\n", "retry_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
