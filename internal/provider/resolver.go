package provider

import (
	"context"

	"go.uber.org/zap"
)

// Policy decides how a selector maps to a registry key
type Policy int

const (
	// PolicyNational resolves every selector to KeyNacional. Legacy
	// municipality selectors are accepted and ignored.
	PolicyNational Policy = iota
	// PolicyDirect uses the normalized selector as the key
	PolicyDirect
)

func (p Policy) String() string {
	switch p {
	case PolicyNational:
		return "national"
	case PolicyDirect:
		return "direct"
	}
	return "unknown"
}

// ParsePolicy converts a configuration value into a Policy
func ParsePolicy(s string) Policy {
	if NormalizeKey(s) == "direct" {
		return PolicyDirect
	}
	return PolicyNational
}

// Resolver turns caller selectors into providers
type Resolver struct {
	registry *Registry
	policy   Policy
	log      *zap.Logger
}

// NewResolver creates a resolver over registry
func NewResolver(registry *Registry, policy Policy, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		registry: registry,
		policy:   policy,
		log:      log,
	}
}

// Policy returns the resolution policy
func (r *Resolver) Policy() Policy { return r.policy }

// Registry returns the underlying registry
func (r *Resolver) Registry() *Registry { return r.registry }

// Key returns the canonical registry key for selector
func (r *Resolver) Key(selector string) string {
	normalized := NormalizeKey(selector)

	if r.policy == PolicyDirect {
		if normalized == "" {
			return r.registry.DefaultKey()
		}
		return normalized
	}

	if normalized != "" && normalized != KeyNacional {
		r.log.Warn("legacy provider selector is deprecated, using national provider",
			zap.String("selector", selector),
			zap.String("key", KeyNacional),
		)
	}
	return KeyNacional
}

// Resolve returns the provider for selector and the registry key used
func (r *Resolver) Resolve(ctx context.Context, selector string) (Provider, string, error) {
	return r.registry.Get(ctx, r.Key(selector))
}
