package nfselib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/rezonia/nfse-processor/internal/cache"
	"github.com/rezonia/nfse-processor/internal/catalog"
	"github.com/rezonia/nfse-processor/internal/certificate"
	"github.com/rezonia/nfse-processor/internal/config"
	"github.com/rezonia/nfse-processor/internal/metrics"
	"github.com/rezonia/nfse-processor/internal/provider"
	"github.com/rezonia/nfse-processor/internal/provider/nacional"
	"github.com/rezonia/nfse-processor/internal/response"
)

// NewFromConfig wires cache, certificate, catalog, registry and handler from
// cfg. The returned function releases the cache connection.
func NewFromConfig(ctx context.Context, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*Client, func(), error) {
	if log == nil {
		log = zap.NewNop()
	}
	closeFn := func() {}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, closeFn, err
	}
	closeFn = closeStore

	certs, err := loadCertificate(cfg, log)
	if err != nil {
		closeFn()
		return nil, func() {}, err
	}

	catalogOpts := []catalog.Option{
		catalog.WithBaseURL(cfg.Provider.CatalogBaseURL),
		catalog.WithTimeout(cfg.Provider.Timeout),
		catalog.WithStore(store),
		catalog.WithTTL(cfg.Catalog.TTL),
		catalog.WithLogger(log),
		catalog.WithMetrics(m),
	}
	if certs != nil {
		catalogOpts = append(catalogOpts, catalog.WithCertificateSource(certs))
	}
	svc, err := catalog.NewService(catalogOpts...)
	if err != nil {
		closeFn()
		return nil, func() {}, err
	}

	providerOpts := []nacional.Option{
		nacional.WithCatalog(svc),
		nacional.WithLogger(log),
		nacional.WithMetrics(m),
	}
	if certs != nil {
		providerOpts = append(providerOpts, nacional.WithCertificateSource(certs))
	}

	reg := provider.NewRegistry(provider.WithLogger(log), provider.WithMetrics(m))
	if err := nacional.RegisterDefaults(reg, cfg.Provider, providerOpts...); err != nil {
		closeFn()
		return nil, func() {}, err
	}
	resolver := provider.NewResolver(reg, cfg.ResolverPolicy(), log)

	memo := response.NewMemoCache()
	handler := response.NewHandler(
		response.WithLogger(log),
		response.WithMetrics(m),
		response.WithMemoCache(memo),
	)

	client := NewClient(resolver,
		WithHandler(handler),
		WithCatalog(svc),
		WithLogger(log),
		WithTimeout(cfg.Handler.Timeout),
		WithRetry(cfg.Handler.RetryAttempts, cfg.Handler.RetryDelay),
		WithMemoTTL(cfg.Handler.MemoTTL),
	)
	return client, closeFn, nil
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (cache.Store, func(), error) {
	switch cfg.Cache.Driver {
	case config.CacheDriverRedis:
		client, err := cache.NewRedisClient(ctx, cfg.RedisOptions())
		if err != nil {
			return nil, func() {}, err
		}
		store := cache.NewRedisStore(client, cfg.Cache.Redis.Prefix, log)
		return store, func() {
			if err := store.Close(); err != nil {
				log.Warn("failed to close Redis cache", zap.Error(err))
			}
		}, nil
	default:
		dir := cfg.Cache.Dir
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "nfse-processor", "catalog")
		}
		store, err := cache.NewFileStore(dir, cache.WithLogger(log))
		if err != nil {
			return nil, func() {}, fmt.Errorf("failed to open cache dir: %w", err)
		}
		return store, func() {}, nil
	}
}

// loadCertificate returns nil when no certificate is configured
func loadCertificate(cfg *config.Config, log *zap.Logger) (*certificate.Store, error) {
	if !cfg.HasCertificate() {
		return nil, nil
	}

	storeOpts := []certificate.StoreOption{certificate.WithLogger(log)}
	if cfg.Certificate.CABundle != "" {
		pool, err := certificate.LoadTrustPool(cfg.Certificate.CABundle)
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, certificate.WithTrustPool(pool))
	}

	var (
		cert *certificate.Certificate
		err  error
	)
	if cfg.Certificate.Path != "" {
		cert, err = certificate.LoadPFX(cfg.Certificate.Path, cfg.Certificate.Password)
	} else {
		cert, err = certificate.LoadPEM(cfg.Certificate.CertFile, cfg.Certificate.KeyFile)
	}
	if err != nil {
		return nil, err
	}

	store := certificate.NewStore(storeOpts...)
	if err := store.Init(cert); err != nil {
		return nil, err
	}
	return store, nil
}
