// Package catalog reads municipal reference data (participating
// municipalities, ISS aliquots, agreements) from the national
// parametrization API with a cache-first, stale-on-failure strategy.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/nfse-processor/internal/cache"
	"github.com/rezonia/nfse-processor/internal/certificate"
	"github.com/rezonia/nfse-processor/internal/metrics"
	"github.com/rezonia/nfse-processor/internal/model"
	"github.com/rezonia/nfse-processor/internal/response"
)

// Defaults
const (
	DefaultTTL     = 24 * time.Hour
	DefaultTimeout = 30 * time.Second
)

// Result metadata keys
const (
	MetaSource             = "source"
	MetaStale              = "stale"
	MetaCacheKey           = "cache_key"
	MetaFallbackLegacyPath = "fallback_legacy_path"
	MetaFallbackError      = "fallback_error"
)

// Result sources
const (
	SourceCache  = "cache"
	SourceRemote = "remote"
)

// Result is catalog data plus its provenance
type Result struct {
	Data     any
	Metadata *response.Metadata
}

// Source returns the source recorded in the metadata
func (r *Result) Source() string {
	v, _ := r.Metadata.Get(MetaSource)
	s, _ := v.(string)
	return s
}

// Stale reports whether the data came from an expired cache entry
func (r *Result) Stale() bool {
	v, _ := r.Metadata.Get(MetaStale)
	b, _ := v.(bool)
	return b
}

// Service fetches catalog data
type Service struct {
	baseURL   string
	timeout   time.Duration
	ttl       time.Duration
	transport Transport
	store     cache.Store
	certs     certificate.Source
	legacy    []LegacyRoute
	log       *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithTransport replaces the HTTP transport
func WithTransport(t Transport) Option {
	return func(s *Service) { s.transport = t }
}

// WithStore sets the cache store
func WithStore(store cache.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithCertificateSource enables mutual TLS on the default transport
func WithCertificateSource(src certificate.Source) Option {
	return func(s *Service) { s.certs = src }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics records which source answered each lookup
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTTL sets the freshness window of cached entries
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithClock replaces time.Now for competência defaults
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLegacyPaths replaces the legacy route table
func WithLegacyPaths(routes []LegacyRoute) Option {
	return func(s *Service) { s.legacy = routes }
}

// WithBaseURL sets the API root used by the default transport
func WithBaseURL(u string) Option {
	return func(s *Service) { s.baseURL = u }
}

// WithTimeout bounds calls made by the default transport
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// NewService creates a catalog service. Without WithStore, entries are kept
// in a directory under the system temp dir.
func NewService(opts ...Option) (*Service, error) {
	s := &Service{
		timeout: DefaultTimeout,
		ttl:     DefaultTTL,
		legacy:  DefaultLegacyRoutes,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		store, err := cache.NewFileStore(filepath.Join(os.TempDir(), "nfse-processor", "catalog"),
			cache.WithLogger(s.log))
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	if s.transport == nil {
		if s.baseURL == "" {
			return nil, model.ErrMissingField("catalog_base_url")
		}
		s.transport = NewHTTPTransport(s.baseURL, s.timeout, s.certs, s.log).Do
	}
	return s, nil
}

// FetchWithCache reads cacheKey from the cache when fresh, otherwise calls
// path, then its legacy path, and finally degrades to a stale cache entry.
// It fails only when every source is exhausted.
func (s *Service) FetchWithCache(ctx context.Context, cacheKey, path string, forceRefresh bool) (*Result, error) {
	if !forceRefresh {
		if lookup, ok := s.store.Get(ctx, cacheKey, s.ttl); ok && !lookup.Stale {
			data, err := decodeJSON(lookup.Value)
			if err == nil {
				s.metrics.IncCatalogLookup(metrics.SourceCache)
				return s.result(data, SourceCache, false, cacheKey), nil
			}
			s.log.Debug("cached catalog entry undecodable", zap.String("key", cacheKey), zap.Error(err))
		}
	}

	data, err := s.fetch(ctx, path)
	if err == nil {
		s.persist(ctx, cacheKey, data)
		s.metrics.IncCatalogLookup(metrics.SourceRemote)
		return s.result(data, SourceRemote, false, cacheKey), nil
	}
	lastErr := err
	s.log.Warn("catalog request failed",
		zap.String("path", path),
		zap.String("key", cacheKey),
		zap.Error(err),
	)

	if legacy, ok := legacyPath(s.legacy, path); ok {
		data, err := s.fetch(ctx, legacy)
		if err == nil {
			s.persist(ctx, cacheKey, data)
			s.metrics.IncCatalogLookup(metrics.SourceLegacy)
			res := s.result(data, SourceRemote, false, cacheKey)
			res.Metadata.Set(MetaFallbackLegacyPath, legacy)
			return res, nil
		}
		lastErr = err
		s.log.Warn("catalog legacy request failed",
			zap.String("path", legacy),
			zap.String("key", cacheKey),
			zap.Error(err),
		)
	}

	if lookup, ok := s.store.Get(ctx, cacheKey, s.ttl); ok {
		if data, err := decodeJSON(lookup.Value); err == nil {
			s.metrics.IncCatalogLookup(metrics.SourceStale)
			s.log.Warn("serving cached catalog data after remote failure",
				zap.String("key", cacheKey),
				zap.Time("cached_at", lookup.CreatedAt),
			)
			res := s.result(data, SourceCache, true, cacheKey)
			res.Metadata.Set(MetaFallbackError, lastErr.Error())
			return res, nil
		}
	}

	s.metrics.IncCatalogLookup(metrics.SourceFailed)
	return nil, exhausted(path, cacheKey, lastErr)
}

func exhausted(path, cacheKey string, lastErr error) error {
	code := model.CodeOf(lastErr)
	if code == "" {
		code = model.ErrCodeUnreachable
	}
	var status int
	var te *model.TransportError
	if errors.As(lastErr, &te) {
		status = te.StatusCode
	}
	return model.NewTransportError(code, path,
		fmt.Sprintf("catalog lookup %s failed and no cached data is available", cacheKey), status, lastErr)
}

func (s *Service) result(data any, source string, stale bool, cacheKey string) *Result {
	return &Result{
		Data: data,
		Metadata: response.NewMetadata().
			Set(MetaSource, source).
			Set(MetaStale, stale).
			Set(MetaCacheKey, cacheKey),
	}
}

func (s *Service) persist(ctx context.Context, key string, data any) {
	if err := s.store.Put(ctx, key, data); err != nil {
		s.log.Warn("failed to cache catalog data", zap.String("key", key), zap.Error(err))
	}
}

// fetch calls path and decodes the JSON body, unwrapping a top-level
// {"data": ...} envelope
func (s *Service) fetch(ctx context.Context, path string) (any, error) {
	raw, err := s.transport(ctx, Request{Method: "GET", Path: path})
	if err != nil {
		return nil, err
	}

	body, err := decodeJSON(raw)
	if err != nil {
		return nil, model.NewTransportError(model.ErrCodeMalformedResponse, path, "response is not valid JSON", 0, err)
	}
	if m, ok := body.(map[string]any); ok {
		if inner, exists := m["data"]; exists {
			return inner, nil
		}
	}
	return body, nil
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
