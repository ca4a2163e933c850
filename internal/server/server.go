package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rezonia/nfse-processor/pkg/nfselib"
)

// HeaderRequestID carries the request identifier in both directions
const HeaderRequestID = "X-Request-ID"

// Config holds server configuration
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	Debug           bool
}

// Server represents the HTTP API server
type Server struct {
	config   *Config
	router   *gin.Engine
	client   *nfselib.Client
	log      *zap.Logger
	gatherer prometheus.Gatherer
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the access and error logger
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithGatherer exposes g on /metrics. Without it /metrics is not served.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a new API server on top of client
func NewServer(config *Config, client *nfselib.Client, opts ...Option) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: config,
		router: gin.New(),
		client: client,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(gin.Recovery(), requestID(), accessLog(s.log))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/config/validar", s.handleValidarConfiguracao)

		v1.GET("/municipios", s.handleListarMunicipios)
		v1.GET("/municipios/:codigo/aliquotas", s.handleConsultarAliquotas)
		v1.GET("/municipios/:codigo/aliquotas/historico", s.handleHistoricoAliquotas)
		v1.GET("/municipios/:codigo/convenio", s.handleConsultarConvenio)
		v1.POST("/catalogo/aquecer", s.handleWarmup)

		v1.POST("/nfse", s.handleEmitir)
		v1.GET("/nfse/:chave", s.handleConsultar)
		v1.POST("/nfse/:chave/cancelamento", s.handleCancelar)
		v1.POST("/nfse/:chave/substituicao", s.handleSubstituir)
		v1.GET("/nfse/:chave/xml", s.handleBaixarXML)
		v1.GET("/nfse/:chave/danfse", s.handleBaixarDanfse)

		v1.GET("/rps/:numero", s.handleConsultarPorRps)
		v1.GET("/lotes/:protocolo", s.handleConsultarLote)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", zap.String("addr", s.config.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.log.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestID reuses the caller's X-Request-ID or mints one, and threads it
// into the request context so every response envelope carries it
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = nfselib.RequestID(c.Request.Context())
		}
		c.Set(nfselib.MetaRequestID, id)
		c.Writer.Header().Set(HeaderRequestID, id)
		c.Request = c.Request.WithContext(nfselib.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String(nfselib.MetaRequestID, c.GetString(nfselib.MetaRequestID)),
		)
	}
}
