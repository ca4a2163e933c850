// Package provider defines the contract NFSe issuers implement, the registry
// that constructs them, and the resolver that picks a registry key for a
// caller-supplied selector.
package provider

import (
	"context"
	"time"

	"github.com/rezonia/nfse-processor/internal/catalog"
)

// Provider is implemented by every NFSe issuer, municipal or national
type Provider interface {
	// Name returns the registry key the provider was built for
	Name() string

	// Emitir submits a DPS and returns the reference of the issued NFSe
	Emitir(ctx context.Context, data map[string]any) (*DocumentReference, error)

	// Consultar fetches an NFSe by access key
	Consultar(ctx context.Context, chave string) (*Document, error)

	// Cancelar registers a cancellation event
	Cancelar(ctx context.Context, chave, motivo, protocolo string) (bool, error)

	// Substituir issues a replacement NFSe for chave
	Substituir(ctx context.Context, chave string, data map[string]any) (*Document, error)

	// Config returns the configuration the provider was built with
	Config() Config
}

// RpsQuerier looks up an NFSe by the RPS that originated it
type RpsQuerier interface {
	ConsultarPorRps(ctx context.Context, rps RpsIdentification) (*Document, error)
}

// BatchQuerier looks up the outcome of an asynchronous batch submission
type BatchQuerier interface {
	ConsultarLote(ctx context.Context, protocolo string) (*Document, error)
}

// DocumentDownloader fetches the signed XML and the DANFSe PDF
type DocumentDownloader interface {
	BaixarXML(ctx context.Context, chave string) ([]byte, error)
	BaixarDanfse(ctx context.Context, chave string) ([]byte, error)
}

// CatalogLister lists municipalities taking part in the national NFSe
type CatalogLister interface {
	ListarMunicipiosNacionais(ctx context.Context, forceRefresh bool) (*catalog.Result, error)
}

// AliquotQuerier reads municipal ISS aliquots
type AliquotQuerier interface {
	ConsultarAliquotasMunicipio(ctx context.Context, codigo, servico, competencia string, forceRefresh bool) (*catalog.Result, error)
}

// DocumentReference identifies an issued NFSe
type DocumentReference struct {
	ChaveAcesso string         `json:"chave_acesso"`
	Numero      string         `json:"numero,omitempty"`
	Protocolo   string         `json:"protocolo,omitempty"`
	DataEmissao time.Time      `json:"data_emissao,omitempty"`
	Raw         map[string]any `json:"-"`
}

// ToMap renders the reference as envelope data
func (r *DocumentReference) ToMap() map[string]any {
	m := map[string]any{"chave_acesso": r.ChaveAcesso}
	if r.Numero != "" {
		m["numero"] = r.Numero
	}
	if r.Protocolo != "" {
		m["protocolo"] = r.Protocolo
	}
	if !r.DataEmissao.IsZero() {
		m["data_emissao"] = r.DataEmissao.UTC().Format(time.RFC3339)
	}
	return m
}

// Document is an NFSe as returned by the issuer
type Document struct {
	ChaveAcesso string         `json:"chave_acesso"`
	Situacao    string         `json:"situacao,omitempty"`
	XML         string         `json:"xml,omitempty"`
	Raw         map[string]any `json:"dados,omitempty"`
}

// ToMap renders the document as envelope data
func (d *Document) ToMap() map[string]any {
	m := map[string]any{"chave_acesso": d.ChaveAcesso}
	if d.Situacao != "" {
		m["situacao"] = d.Situacao
	}
	if d.XML != "" {
		m["xml"] = d.XML
	}
	if len(d.Raw) > 0 {
		m["dados"] = d.Raw
	}
	return m
}

// RpsIdentification identifies the RPS an NFSe was generated from
type RpsIdentification struct {
	Numero        string `json:"numero"`
	Serie         string `json:"serie"`
	Tipo          string `json:"tipo"`
	CNPJPrestador string `json:"cnpj_prestador"`
}
