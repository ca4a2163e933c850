package provider

import "github.com/rezonia/nfse-processor/internal/model"

// Extended capability names
const (
	CapabilityQueryByRps     = "consultar_por_rps"
	CapabilityBatchQuery     = "consultar_lote"
	CapabilityDownload       = "baixar_documentos"
	CapabilityCatalogListing = "listar_municipios"
	CapabilityAliquotQuery   = "consultar_aliquotas"
)

func capabilityError(p Provider, capability string) *model.CapabilityError {
	name := ""
	if p != nil {
		name = p.Name()
	}
	return model.NewCapabilityError(name, capability)
}

// AsQueryByRps returns p as an RpsQuerier
func AsQueryByRps(p Provider) (RpsQuerier, error) {
	if q, ok := p.(RpsQuerier); ok {
		return q, nil
	}
	return nil, capabilityError(p, CapabilityQueryByRps)
}

// AsBatchQuery returns p as a BatchQuerier
func AsBatchQuery(p Provider) (BatchQuerier, error) {
	if q, ok := p.(BatchQuerier); ok {
		return q, nil
	}
	return nil, capabilityError(p, CapabilityBatchQuery)
}

// AsDocumentDownloader returns p as a DocumentDownloader
func AsDocumentDownloader(p Provider) (DocumentDownloader, error) {
	if d, ok := p.(DocumentDownloader); ok {
		return d, nil
	}
	return nil, capabilityError(p, CapabilityDownload)
}

// AsCatalogLister returns p as a CatalogLister
func AsCatalogLister(p Provider) (CatalogLister, error) {
	if l, ok := p.(CatalogLister); ok {
		return l, nil
	}
	return nil, capabilityError(p, CapabilityCatalogListing)
}

// AsAliquotQuerier returns p as an AliquotQuerier
func AsAliquotQuerier(p Provider) (AliquotQuerier, error) {
	if q, ok := p.(AliquotQuerier); ok {
		return q, nil
	}
	return nil, capabilityError(p, CapabilityAliquotQuery)
}

// Capabilities lists the extended capabilities p implements
func Capabilities(p Provider) []string {
	var caps []string
	if _, ok := p.(RpsQuerier); ok {
		caps = append(caps, CapabilityQueryByRps)
	}
	if _, ok := p.(BatchQuerier); ok {
		caps = append(caps, CapabilityBatchQuery)
	}
	if _, ok := p.(DocumentDownloader); ok {
		caps = append(caps, CapabilityDownload)
	}
	if _, ok := p.(CatalogLister); ok {
		caps = append(caps, CapabilityCatalogListing)
	}
	if _, ok := p.(AliquotQuerier); ok {
		caps = append(caps, CapabilityAliquotQuery)
	}
	return caps
}
