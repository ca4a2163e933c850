// Package nfselib is the public entry point of nfse-processor. A Client
// resolves the provider for a request, runs the operation and returns a
// response.Response for every outcome.
//
// Example usage:
//
//	cfg, err := config.Load("nfse.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, closeFn, err := nfselib.NewFromConfig(ctx, cfg, logger, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer closeFn()
//
//	resp := client.ListarMunicipios(ctx, false)
//	fmt.Println(resp.IsSuccess(), resp.MetadataKey("source"))
package nfselib

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rezonia/nfse-processor/internal/catalog"
	"github.com/rezonia/nfse-processor/internal/model"
	"github.com/rezonia/nfse-processor/internal/provider"
	"github.com/rezonia/nfse-processor/internal/response"
)

// Operation names recorded in every response
const (
	OpValidarConfiguracao = "validar_configuracao"
	OpListarMunicipios    = "listar_municipios"
	OpConsultarAliquotas  = "consultar_aliquotas_municipio"
	OpHistoricoAliquotas  = "historico_aliquotas"
	OpConsultarConvenio   = "consultar_convenio"
	OpEmitir              = "emitir"
	OpConsultar           = "consultar"
	OpCancelar            = "cancelar"
	OpSubstituir          = "substituir"
	OpConsultarPorRps     = "consultar_por_rps"
	OpConsultarLote       = "consultar_lote"
	OpBaixarXML           = "baixar_xml"
	OpBaixarDanfse        = "baixar_danfse"
	OpWarmup              = "warmup"
)

// MetaRequestID is the metadata key holding the request identifier
const MetaRequestID = "request_id"

// Defaults
const (
	DefaultTimeout       = 30 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second
)

// Client is the facade over resolver, providers and response handler
type Client struct {
	resolver      *provider.Resolver
	handler       *response.Handler
	catalog       *catalog.Service
	log           *zap.Logger
	timeout       time.Duration
	retryAttempts int
	retryDelay    time.Duration
	memoTTL       time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHandler replaces the response handler
func WithHandler(h *response.Handler) Option {
	return func(c *Client) {
		if h != nil {
			c.handler = h
		}
	}
}

// WithCatalog sets the catalog used by Warmup and the history and agreement
// lookups. Without it the default provider's catalog is used.
func WithCatalog(svc *catalog.Service) Option {
	return func(c *Client) { c.catalog = svc }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTimeout bounds every remote operation
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets how idempotent queries are retried
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// WithMemoTTL memoizes downloaded XML documents for d. Zero disables it.
func WithMemoTTL(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.memoTTL = d
		}
	}
}

// NewClient creates a facade over resolver
func NewClient(resolver *provider.Resolver, opts ...Option) *Client {
	c := &Client{
		resolver:      resolver,
		log:           zap.NewNop(),
		timeout:       DefaultTimeout,
		retryAttempts: DefaultRetryAttempts,
		retryDelay:    DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.handler == nil {
		c.handler = response.NewHandler(response.WithLogger(c.log))
	}
	return c
}

// Resolve returns the provider selected for selector
func (c *Client) Resolve(ctx context.Context, selector string) (provider.Provider, error) {
	p, _, err := c.resolver.Resolve(ctx, selector)
	return p, err
}

// ValidarConfiguracao checks the configuration of the provider key resolves to
func (c *Client) ValidarConfiguracao(ctx context.Context, key string) *response.Response {
	return c.finish(ctx, c.handler.Execute(ctx, OpValidarConfiguracao, func(ctx context.Context) (any, error) {
		p, resolved, err := c.resolver.Resolve(ctx, key)
		if err != nil {
			return nil, err
		}
		cfg := p.Config()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return map[string]any{
			"config_valida":    true,
			"municipio":        key,
			"provider":         resolved,
			"ambiente":         cfg.Environment,
			"versao_schema":    cfg.SchemaVersion,
			"formato_aliquota": cfg.AliquotFormat,
			"capacidades":      provider.Capabilities(p),
		}, nil
	}))
}

// ListarMunicipios lists the municipalities taking part in the national NFSe.
// The catalog provenance (source, stale, fallbacks) is copied into the
// response metadata.
func (c *Client) ListarMunicipios(ctx context.Context, forceRefresh bool) *response.Response {
	var md *response.Metadata
	resp := c.handler.ExecuteWithTimeout(ctx, OpListarMunicipios, c.timeout, func(ctx context.Context) (any, error) {
		lister, err := capableOf(ctx, c, provider.AsCatalogLister)
		if err != nil {
			return nil, err
		}
		res, err := lister.ListarMunicipiosNacionais(ctx, forceRefresh)
		if err != nil {
			return nil, err
		}
		md = res.Metadata
		return res.Data, nil
	})
	return c.finish(ctx, withCatalogMetadata(resp, &md))
}

// ConsultarAliquotasMunicipio reads the ISS aliquot of a service in a
// municipality. An empty competencia means now.
func (c *Client) ConsultarAliquotasMunicipio(ctx context.Context, codigo, servico, competencia string, forceRefresh bool) *response.Response {
	var md *response.Metadata
	resp := c.handler.ExecuteWithTimeout(ctx, OpConsultarAliquotas, c.timeout, func(ctx context.Context) (any, error) {
		querier, err := capableOf(ctx, c, provider.AsAliquotQuerier)
		if err != nil {
			return nil, err
		}
		res, err := querier.ConsultarAliquotasMunicipio(ctx, codigo, servico, competencia, forceRefresh)
		if err != nil {
			return nil, err
		}
		md = res.Metadata
		return res.Data, nil
	})
	return c.finish(ctx, withCatalogMetadata(resp, &md))
}

// HistoricoAliquotas reads the aliquot history of a service in a municipality
func (c *Client) HistoricoAliquotas(ctx context.Context, codigo, servico string, forceRefresh bool) *response.Response {
	var md *response.Metadata
	resp := c.handler.ExecuteWithTimeout(ctx, OpHistoricoAliquotas, c.timeout, func(ctx context.Context) (any, error) {
		svc, err := c.catalogOf(ctx)
		if err != nil {
			return nil, err
		}
		res, err := svc.HistoricoAliquotas(ctx, codigo, servico, forceRefresh)
		if err != nil {
			return nil, err
		}
		md = res.Metadata
		return res.Data, nil
	})
	return c.finish(ctx, withCatalogMetadata(resp, &md))
}

// ConsultarConvenio reads the agreement a municipality holds with the
// national NFSe
func (c *Client) ConsultarConvenio(ctx context.Context, codigo string, forceRefresh bool) *response.Response {
	var md *response.Metadata
	resp := c.handler.ExecuteWithTimeout(ctx, OpConsultarConvenio, c.timeout, func(ctx context.Context) (any, error) {
		svc, err := c.catalogOf(ctx)
		if err != nil {
			return nil, err
		}
		res, err := svc.ConsultarConvenio(ctx, codigo, forceRefresh)
		if err != nil {
			return nil, err
		}
		md = res.Metadata
		return res.Data, nil
	})
	return c.finish(ctx, withCatalogMetadata(resp, &md))
}

// Emitir issues an NFSe. It is never retried.
func (c *Client) Emitir(ctx context.Context, municipio string, data map[string]any) *response.Response {
	return c.finish(ctx, c.handler.ExecuteWithTimeout(ctx, OpEmitir, c.timeout, func(ctx context.Context) (any, error) {
		p, err := c.Resolve(ctx, municipio)
		if err != nil {
			return nil, err
		}
		ref, err := p.Emitir(ctx, data)
		if err != nil {
			return nil, err
		}
		return ref.ToMap(), nil
	}))
}

// Consultar fetches an NFSe by access key
func (c *Client) Consultar(ctx context.Context, municipio, chave string) *response.Response {
	return c.query(ctx, OpConsultar, func(ctx context.Context) (any, error) {
		p, err := c.Resolve(ctx, municipio)
		if err != nil {
			return nil, err
		}
		doc, err := p.Consultar(ctx, chave)
		if err != nil {
			return nil, err
		}
		return doc.ToMap(), nil
	})
}

// Cancelar registers the cancellation of an NFSe
func (c *Client) Cancelar(ctx context.Context, municipio, chave, motivo, protocolo string) *response.Response {
	return c.finish(ctx, c.handler.ExecuteWithTimeout(ctx, OpCancelar, c.timeout, func(ctx context.Context) (any, error) {
		p, err := c.Resolve(ctx, municipio)
		if err != nil {
			return nil, err
		}
		ok, err := p.Cancelar(ctx, chave, motivo, protocolo)
		if err != nil {
			return nil, err
		}
		return map[string]any{"chave_acesso": chave, "cancelada": ok}, nil
	}))
}

// Substituir issues a replacement for an NFSe
func (c *Client) Substituir(ctx context.Context, municipio, chave string, data map[string]any) *response.Response {
	return c.finish(ctx, c.handler.ExecuteWithTimeout(ctx, OpSubstituir, c.timeout, func(ctx context.Context) (any, error) {
		p, err := c.Resolve(ctx, municipio)
		if err != nil {
			return nil, err
		}
		doc, err := p.Substituir(ctx, chave, data)
		if err != nil {
			return nil, err
		}
		return doc.ToMap(), nil
	}))
}

// ConsultarPorRps fetches an NFSe by the RPS that originated it
func (c *Client) ConsultarPorRps(ctx context.Context, municipio string, rps provider.RpsIdentification) *response.Response {
	return c.query(ctx, OpConsultarPorRps, func(ctx context.Context) (any, error) {
		p, err := c.Resolve(ctx, municipio)
		if err != nil {
			return nil, err
		}
		q, err := provider.AsQueryByRps(p)
		if err != nil {
			return nil, err
		}
		doc, err := q.ConsultarPorRps(ctx, rps)
		if err != nil {
			return nil, err
		}
		return doc.ToMap(), nil
	})
}

// ConsultarLote fetches the outcome of a submission by protocol
func (c *Client) ConsultarLote(ctx context.Context, municipio, protocolo string) *response.Response {
	return c.query(ctx, OpConsultarLote, func(ctx context.Context) (any, error) {
		p, err := c.Resolve(ctx, municipio)
		if err != nil {
			return nil, err
		}
		q, err := provider.AsBatchQuery(p)
		if err != nil {
			return nil, err
		}
		doc, err := q.ConsultarLote(ctx, protocolo)
		if err != nil {
			return nil, err
		}
		return doc.ToMap(), nil
	})
}

// BaixarXML downloads the NFSe XML document. With a memo TTL, repeated
// downloads of the same key are served from memory.
func (c *Client) BaixarXML(ctx context.Context, municipio, chave string) *response.Response {
	work := func(ctx context.Context) (any, error) {
		p, err := c.Resolve(ctx, municipio)
		if err != nil {
			return nil, err
		}
		d, err := provider.AsDocumentDownloader(p)
		if err != nil {
			return nil, err
		}
		b, err := d.BaixarXML(ctx, chave)
		if err != nil {
			return nil, err
		}
		return map[string]any{"chave_acesso": chave, "xml": string(b)}, nil
	}
	if c.memoTTL <= 0 {
		return c.query(ctx, OpBaixarXML, work)
	}
	key := OpBaixarXML + ":" + municipio + ":" + chave
	return c.finish(ctx, c.handler.ExecuteWithCache(ctx, OpBaixarXML, key, c.memoTTL,
		func(ctx context.Context) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return work(ctx)
		}))
}

// BaixarDanfse downloads the DANFSe PDF, base64 encoded in "pdf_base64"
func (c *Client) BaixarDanfse(ctx context.Context, municipio, chave string) *response.Response {
	return c.query(ctx, OpBaixarDanfse, func(ctx context.Context) (any, error) {
		p, err := c.Resolve(ctx, municipio)
		if err != nil {
			return nil, err
		}
		d, err := provider.AsDocumentDownloader(p)
		if err != nil {
			return nil, err
		}
		b, err := d.BaixarDanfse(ctx, chave)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"chave_acesso": chave,
			"pdf_base64":   base64.StdEncoding.EncodeToString(b),
			"tamanho":      len(b),
		}, nil
	})
}

// Warmup preloads the municipality list and the agreements of codigos
func (c *Client) Warmup(ctx context.Context, codigos []string) *response.Response {
	return c.finish(ctx, c.handler.Execute(ctx, OpWarmup, func(ctx context.Context) (any, error) {
		svc, err := c.catalogOf(ctx)
		var capErr *model.CapabilityError
		if errors.As(err, &capErr) {
			return map[string]any{"aquecidos": 0}, nil
		}
		if err != nil {
			return nil, err
		}
		if err := svc.Warmup(ctx, codigos); err != nil {
			return nil, err
		}
		return map[string]any{"aquecidos": len(codigos)}, nil
	}))
}

// query retries idempotent reads, each attempt bounded by the client timeout
func (c *Client) query(ctx context.Context, operation string, work response.Work) *response.Response {
	return c.finish(ctx, c.handler.ExecuteWithRetry(ctx, operation, c.retryAttempts, c.retryDelay,
		func(ctx context.Context) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return work(ctx)
		}))
}

// capableOf resolves the default provider and probes it for a capability
func capableOf[T any](ctx context.Context, c *Client, probe func(provider.Provider) (T, error)) (T, error) {
	var zero T
	p, err := c.Resolve(ctx, "")
	if err != nil {
		return zero, err
	}
	return probe(p)
}

// catalogHolder is implemented by providers backed by a catalog service
type catalogHolder interface {
	Catalog() *catalog.Service
}

// catalogOf returns the client's catalog, or the one behind the default
// provider
func (c *Client) catalogOf(ctx context.Context) (*catalog.Service, error) {
	if c.catalog != nil {
		return c.catalog, nil
	}
	p, err := c.Resolve(ctx, "")
	if err != nil {
		return nil, err
	}
	if h, ok := p.(catalogHolder); ok && h.Catalog() != nil {
		return h.Catalog(), nil
	}
	return nil, model.NewCapabilityError(p.Name(), "catalogo")
}

func (c *Client) finish(ctx context.Context, resp *response.Response) *response.Response {
	return resp.WithMetadata(MetaRequestID, RequestID(ctx))
}

// withCatalogMetadata copies the catalog provenance into a successful
// response. md is only read on success, after the work has returned.
func withCatalogMetadata(resp *response.Response, md **response.Metadata) *response.Response {
	if resp.IsError() || *md == nil {
		return resp
	}
	for _, k := range (*md).Keys() {
		v, _ := (*md).Get(k)
		resp = resp.WithMetadata(k, v)
	}
	return resp
}

type requestIDKey struct{}

// WithRequestID stores id in ctx; responses built from ctx carry it
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the identifier stored by WithRequestID, or a new UUID
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
