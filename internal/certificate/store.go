package certificate

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/nfse-processor/internal/model"
)

// DefaultExpiryWarning is how close to expiry Init starts logging warnings
const DefaultExpiryWarning = 30 * 24 * time.Hour

// Store holds the certificate shared by every request of the process.
// Init it at startup, Clear it on reload or between tests.
type Store struct {
	mu      sync.RWMutex
	current *Certificate

	trust *TrustPool
	log   *zap.Logger
	now   func() time.Time
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithTrustPool verifies the chain of certificates passed to Init
func WithTrustPool(p *TrustPool) StoreOption {
	return func(s *Store) { s.trust = p }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) StoreOption {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init validates c and makes it the current certificate
func (s *Store) Init(c *Certificate) error {
	if c == nil {
		return model.NewCertificateError(model.ErrCodeCertNotLoaded, "no certificate given", nil)
	}

	now := s.now()
	if err := c.CheckValidity(now); err != nil {
		return err
	}
	if s.trust != nil {
		if _, err := s.trust.VerifyChain(c.Leaf, c.Chain, now); err != nil {
			return model.NewCertificateError(model.ErrCodeCertInvalid, "certificate chain not trusted", err)
		}
	}

	if left := c.Leaf.NotAfter.Sub(now); left < DefaultExpiryWarning {
		s.log.Warn("certificate close to expiry",
			zap.String("subject", c.Subject()),
			zap.Int("days_left", c.DaysUntilExpiry(now)),
		)
	}

	s.mu.Lock()
	s.current = c
	s.mu.Unlock()

	s.log.Info("certificate loaded",
		zap.String("subject", c.Subject()),
		zap.Time("not_after", c.NotAfter()),
	)
	return nil
}

// Current returns the loaded certificate, re-checking its expiry
func (s *Store) Current() (*Certificate, error) {
	s.mu.RLock()
	c := s.current
	s.mu.RUnlock()

	if c == nil {
		return nil, model.NewCertificateError(model.ErrCodeCertNotLoaded, "no certificate loaded", nil)
	}
	if err := c.CheckValidity(s.now()); err != nil {
		return nil, err
	}
	return c, nil
}

// Clear drops the current certificate
func (s *Store) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// PEM implements Source; an expired certificate yields no material
func (s *Store) PEM() (cert, key []byte, ok bool) {
	c, err := s.Current()
	if err != nil {
		return nil, nil, false
	}
	return c.PEM()
}

var _ Source = (*Store)(nil)
