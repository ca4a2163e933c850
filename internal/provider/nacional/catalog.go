package nacional

import (
	"context"
	"strings"

	"github.com/rezonia/nfse-processor/internal/catalog"
	"github.com/rezonia/nfse-processor/internal/decimal"
)

// MetaAliquotFormat records the format aliquot values were rendered in
const MetaAliquotFormat = "aliquot_format"

// ListarMunicipiosNacionais implements provider.CatalogLister
func (p *Provider) ListarMunicipiosNacionais(ctx context.Context, forceRefresh bool) (*catalog.Result, error) {
	return p.catalog.ListarMunicipios(ctx, forceRefresh)
}

// ConsultarAliquotasMunicipio implements provider.AliquotQuerier. Aliquot
// values are rendered in the configured aliquot format.
func (p *Provider) ConsultarAliquotasMunicipio(ctx context.Context, codigo, servico, competencia string, forceRefresh bool) (*catalog.Result, error) {
	res, err := p.catalog.ConsultarAliquotasMunicipio(ctx, codigo, servico, competencia, forceRefresh)
	if err != nil {
		return nil, err
	}
	return &catalog.Result{
		Data:     formatAliquots(res.Data, p.cfg.AliquotFormat),
		Metadata: res.Metadata.Set(MetaAliquotFormat, p.cfg.AliquotFormat),
	}, nil
}

// formatAliquots returns a copy of v where every aliquot field holding a
// number is rendered as a fixed-point string
func formatAliquots(v any, format string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isAliquotField(k) {
				if d, err := decimal.Parse(val); err == nil {
					out[k] = decimal.FormatAliquot(d, format)
					continue
				}
			}
			out[k] = formatAliquots(val, format)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = formatAliquots(val, format)
		}
		return out
	}
	return v
}

func isAliquotField(key string) bool {
	switch strings.ToLower(key) {
	case "aliquota", "aliq":
		return true
	}
	return false
}
