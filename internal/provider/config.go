package provider

import (
	"fmt"
	"net/url"
	"time"

	"github.com/rezonia/nfse-processor/internal/decimal"
	"github.com/rezonia/nfse-processor/internal/model"
)

// Environments
const (
	EnvHomologacao = "homologacao"
	EnvProducao    = "producao"
)

// Supported DPS schema versions
const (
	SchemaV100 = "1.00"
	SchemaV101 = "1.01"
)

// DefaultTimeout bounds a single provider call
const DefaultTimeout = 30 * time.Second

// National API endpoints per environment
var (
	nationalBaseURLs = map[string]string{
		EnvHomologacao: "https://sefin.producaorestrita.nfse.gov.br/SefinNacional",
		EnvProducao:    "https://sefin.nfse.gov.br/SefinNacional",
	}
	catalogBaseURLs = map[string]string{
		EnvHomologacao: "https://adn.producaorestrita.nfse.gov.br",
		EnvProducao:    "https://adn.nfse.gov.br",
	}
)

// Config is the configuration a provider is constructed with. It is passed
// by value; providers never mutate it.
type Config struct {
	MunicipalityCode string            `mapstructure:"municipality_code" json:"municipality_code,omitempty"`
	SchemaVersion    string            `mapstructure:"schema_version" json:"schema_version"`
	AliquotFormat    string            `mapstructure:"aliquot_format" json:"aliquot_format"`
	Environment      string            `mapstructure:"environment" json:"environment"`
	Timeout          time.Duration     `mapstructure:"timeout" json:"timeout"`
	Auth             map[string]string `mapstructure:"auth" json:"-"`
	BaseURL          string            `mapstructure:"base_url" json:"base_url"`
	CatalogBaseURL   string            `mapstructure:"catalog_base_url" json:"catalog_base_url"`
}

// DefaultBaseURL returns the national API base URL for env
func DefaultBaseURL(env string) string {
	return nationalBaseURLs[env]
}

// DefaultCatalogBaseURL returns the parametrization API base URL for env
func DefaultCatalogBaseURL(env string) string {
	return catalogBaseURLs[env]
}

// WithDefaults fills unset fields
func (c Config) WithDefaults() Config {
	if c.Environment == "" {
		c.Environment = EnvHomologacao
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = SchemaV100
	}
	if c.AliquotFormat == "" {
		c.AliquotFormat = decimal.FormatPercent
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL(c.Environment)
	}
	if c.CatalogBaseURL == "" {
		c.CatalogBaseURL = DefaultCatalogBaseURL(c.Environment)
	}
	return c
}

// Validate checks required fields, URL format and the schema version
func (c Config) Validate() error {
	switch c.Environment {
	case EnvHomologacao, EnvProducao:
	case "":
		return model.ErrMissingField("environment")
	default:
		return invalidConfig("environment", fmt.Sprintf("unknown environment %q", c.Environment))
	}

	switch c.SchemaVersion {
	case SchemaV100, SchemaV101:
	case "":
		return model.ErrMissingField("schema_version")
	default:
		return invalidConfig("schema_version", fmt.Sprintf("unsupported schema version %q", c.SchemaVersion))
	}

	switch c.AliquotFormat {
	case "", decimal.FormatPercent, decimal.FormatDecimal:
	default:
		return invalidConfig("aliquot_format", fmt.Sprintf("unknown aliquot format %q", c.AliquotFormat))
	}

	if c.MunicipalityCode != "" {
		if err := model.ValidateMunicipalityCode(c.MunicipalityCode); err != nil {
			return err
		}
	}

	if c.Timeout < 0 {
		return invalidConfig("timeout", "timeout must not be negative")
	}

	if c.BaseURL == "" {
		return model.ErrMissingField("base_url")
	}
	if err := validateURL(c.BaseURL); err != nil {
		return invalidConfig("base_url", err.Error())
	}
	if c.CatalogBaseURL != "" {
		if err := validateURL(c.CatalogBaseURL); err != nil {
			return invalidConfig("catalog_base_url", err.Error())
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}

func invalidConfig(field, message string) error {
	return model.NewConfigurationError(model.ErrCodeInvalidConfig, field, message, nil)
}
