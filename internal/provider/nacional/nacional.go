// Package nacional implements the national NFSe provider (Sefin Nacional and
// ADN) over REST. It supports every extended capability.
package nacional

import (
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/nfse-processor/internal/cache"
	"github.com/rezonia/nfse-processor/internal/catalog"
	"github.com/rezonia/nfse-processor/internal/certificate"
	"github.com/rezonia/nfse-processor/internal/metrics"
	"github.com/rezonia/nfse-processor/internal/model"
	"github.com/rezonia/nfse-processor/internal/provider"
)

// Provider talks to the national NFSe APIs
type Provider struct {
	cfg     provider.Config
	sefin   catalog.Transport
	adn     catalog.Transport
	catalog *catalog.Service
	builder DocumentBuilder
	log     *zap.Logger
	now     func() time.Time
}

var (
	_ provider.Provider           = (*Provider)(nil)
	_ provider.RpsQuerier         = (*Provider)(nil)
	_ provider.BatchQuerier       = (*Provider)(nil)
	_ provider.DocumentDownloader = (*Provider)(nil)
	_ provider.CatalogLister      = (*Provider)(nil)
	_ provider.AliquotQuerier     = (*Provider)(nil)
)

type options struct {
	sefin        catalog.Transport
	adn          catalog.Transport
	catalog      *catalog.Service
	catalogStore cache.Store
	catalogTTL   time.Duration
	certs        certificate.Source
	builder      DocumentBuilder
	log          *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

// Option configures a Provider
type Option func(*options)

// WithTransport replaces the Sefin Nacional transport
func WithTransport(t catalog.Transport) Option {
	return func(o *options) { o.sefin = t }
}

// WithADNTransport replaces the ADN transport used for DANFSe downloads
func WithADNTransport(t catalog.Transport) Option {
	return func(o *options) { o.adn = t }
}

// WithCatalog shares an existing catalog service
func WithCatalog(svc *catalog.Service) Option {
	return func(o *options) { o.catalog = svc }
}

// WithCatalogStore sets the cache the default catalog service uses
func WithCatalogStore(store cache.Store) Option {
	return func(o *options) { o.catalogStore = store }
}

// WithCatalogTTL sets the freshness window of the default catalog service
func WithCatalogTTL(ttl time.Duration) Option {
	return func(o *options) { o.catalogTTL = ttl }
}

// WithCertificateSource authenticates the default transports with mutual TLS
func WithCertificateSource(src certificate.Source) Option {
	return func(o *options) { o.certs = src }
}

// WithDocumentBuilder sets the DPS and event builder
func WithDocumentBuilder(b DocumentBuilder) Option {
	return func(o *options) { o.builder = b }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics is passed on to the default catalog service
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates a national provider. Missing configuration fields take their
// environment defaults.
func New(cfg provider.Config, opts ...Option) (*Provider, error) {
	o := &options{
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		cfg:     cfg,
		sefin:   o.sefin,
		adn:     o.adn,
		catalog: o.catalog,
		builder: o.builder,
		log:     o.log.With(zap.String("provider", provider.KeyNacional)),
		now:     o.now,
	}

	if p.sefin == nil {
		p.sefin = catalog.NewHTTPTransport(cfg.BaseURL, cfg.Timeout, o.certs, o.log).Do
	}
	if p.adn == nil {
		p.adn = catalog.NewHTTPTransport(cfg.CatalogBaseURL, cfg.Timeout, o.certs, o.log).Do
	}
	if p.builder == nil {
		p.builder = NewXMLBuilder(cfg, o.now)
	}
	if p.catalog == nil {
		catalogOpts := []catalog.Option{
			catalog.WithBaseURL(cfg.CatalogBaseURL),
			catalog.WithTimeout(cfg.Timeout),
			catalog.WithCertificateSource(o.certs),
			catalog.WithLogger(o.log),
			catalog.WithMetrics(o.metrics),
			catalog.WithClock(o.now),
		}
		if o.catalogStore != nil {
			catalogOpts = append(catalogOpts, catalog.WithStore(o.catalogStore))
		}
		if o.catalogTTL > 0 {
			catalogOpts = append(catalogOpts, catalog.WithTTL(o.catalogTTL))
		}
		if o.adn != nil {
			catalogOpts = append(catalogOpts, catalog.WithTransport(o.adn))
		}
		svc, err := catalog.NewService(catalogOpts...)
		if err != nil {
			return nil, err
		}
		p.catalog = svc
	}
	return p, nil
}

// NewFactory returns a registry factory building national providers with opts
func NewFactory(opts ...Option) provider.Factory {
	return func(cfg provider.Config) (provider.Provider, error) {
		return New(cfg, opts...)
	}
}

// RegisterDefaults registers the national provider under KeyNacional with cfg
func RegisterDefaults(reg *provider.Registry, cfg provider.Config, opts ...Option) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	reg.Register(provider.KeyNacional, NewFactory(opts...))
	reg.SetConfig(provider.KeyNacional, cfg)
	return nil
}

// Name implements provider.Provider
func (p *Provider) Name() string { return provider.KeyNacional }

// Config implements provider.Provider
func (p *Provider) Config() provider.Config { return p.cfg }

// Catalog returns the catalog service backing the listing capabilities
func (p *Provider) Catalog() *catalog.Service { return p.catalog }

func validateKey(chave string) error {
	return model.ValidateAccessKey(chave, model.NFSeAccessKeyLength)
}
