package provider

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rezonia/nfse-processor/internal/metrics"
	"github.com/rezonia/nfse-processor/internal/model"
)

// KeyNacional is the registry key of the national NFSe provider
const KeyNacional = "nfse_nacional"

// Factory constructs a provider from its configuration
type Factory func(cfg Config) (Provider, error)

// Registry maps keys to provider factories. Instances are built lazily, at
// most once per key, and reused until the key is registered again.
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]Factory
	configs    map[string]Config
	instances  map[string]Provider
	generation map[string]uint64
	defaultKey string

	group   singleflight.Group
	log     *zap.Logger
	metrics *metrics.Metrics
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithDefaultKey changes the key used when a requested key is absent
func WithDefaultKey(key string) RegistryOption {
	return func(r *Registry) { r.defaultKey = NormalizeKey(key) }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMetrics counts provider constructions
func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry whose default key is KeyNacional
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		factories:  make(map[string]Factory),
		configs:    make(map[string]Config),
		instances:  make(map[string]Provider),
		generation: make(map[string]uint64),
		defaultKey: KeyNacional,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NormalizeKey lowercases and trims a key
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Register binds factory to key, replacing any previous registration and
// dropping its cached instance
func (r *Registry) Register(key string, factory Factory) {
	key = NormalizeKey(key)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[key]; exists {
		r.log.Debug("provider registration replaced", zap.String("key", key))
	}
	r.factories[key] = factory
	r.invalidateLocked(key)
}

// SetConfig sets the configuration passed to key's factory. A cached
// instance is dropped so the next Get rebuilds it.
func (r *Registry) SetConfig(key string, cfg Config) {
	key = NormalizeKey(key)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[key] = cfg
	r.invalidateLocked(key)
}

func (r *Registry) invalidateLocked(key string) {
	delete(r.instances, key)
	r.generation[key]++
}

// Config returns the configuration stored for key
func (r *Registry) Config(key string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[NormalizeKey(key)]
	return cfg, ok
}

// Has reports whether key has a registered factory
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[NormalizeKey(key)]
	return ok
}

// Keys returns the registered keys in sorted order
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultKey returns the fallback key
func (r *Registry) DefaultKey() string {
	return r.defaultKey
}

// ResolveKey returns the key Get would use for key, falling back to the
// default key, or a configuration error when neither is registered
func (r *Registry) ResolveKey(key string) (string, error) {
	key = NormalizeKey(key)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.factories[key]; ok {
		return key, nil
	}
	if _, ok := r.factories[r.defaultKey]; ok {
		return r.defaultKey, nil
	}
	return "", model.ErrNotConfigured(key)
}

// Get returns the provider for key, or for the default key when key is not
// registered. The returned string is the key actually used.
func (r *Registry) Get(ctx context.Context, key string) (Provider, string, error) {
	resolved, err := r.ResolveKey(key)
	if err != nil {
		return nil, "", err
	}
	if requested := NormalizeKey(key); requested != resolved {
		r.log.Debug("provider key not registered, using default",
			zap.String("requested", requested),
			zap.String("resolved", resolved),
		)
	}

	r.mu.RLock()
	p, ok := r.instances[resolved]
	r.mu.RUnlock()
	if ok {
		return p, resolved, nil
	}

	v, err, _ := r.group.Do(resolved, func() (any, error) {
		return r.construct(resolved)
	})
	if err != nil {
		return nil, resolved, err
	}
	return v.(Provider), resolved, nil
}

func (r *Registry) construct(key string) (Provider, error) {
	r.mu.RLock()
	if p, ok := r.instances[key]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	factory := r.factories[key]
	cfg := r.configs[key]
	gen := r.generation[key]
	r.mu.RUnlock()

	if factory == nil {
		return nil, model.ErrNotConfigured(key)
	}

	p, err := factory(cfg)
	if err != nil {
		r.log.Warn("provider construction failed", zap.String("key", key), zap.Error(err))
		if model.KindOf(err) == model.KindInternal {
			return nil, model.NewConfigurationError(model.ErrCodeInvalidConfig, "provider",
				"failed to construct provider "+key, err)
		}
		return nil, err
	}
	r.metrics.IncProviderConstruction(key)
	r.log.Info("provider constructed", zap.String("key", key))

	r.mu.Lock()
	// a registration that raced with construction wins; the new instance is
	// still returned to this caller but not cached
	if r.generation[key] == gen {
		r.instances[key] = p
	}
	r.mu.Unlock()

	return p, nil
}
