package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rezonia/nfse-processor/internal/model"
)

// Cache keys
const (
	keyMunicipios = "catalog:municipios"
)

// ListarMunicipios lists the municipalities taking part in the national NFSe
func (s *Service) ListarMunicipios(ctx context.Context, forceRefresh bool) (*Result, error) {
	return s.FetchWithCache(ctx, keyMunicipios, "/parametrizacao/municipios", forceRefresh)
}

// ConsultarAliquotasMunicipio reads the ISS aliquot of a service in a
// municipality for a competência. An empty competência means now. The full
// timestamp goes on the wire; the cache entry is keyed by its day.
func (s *Service) ConsultarAliquotasMunicipio(ctx context.Context, codigo, servico, competencia string, forceRefresh bool) (*Result, error) {
	if err := model.ValidateMunicipalityCode(codigo); err != nil {
		return nil, err
	}
	serv, err := model.NormalizeServiceCode(servico)
	if err != nil {
		return nil, err
	}
	comp, err := NormalizeCompetencia(competencia, s.now())
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("catalog:aliquota:%s:%s:%s", codigo, serv, competenciaDay(comp))
	path := fmt.Sprintf("/parametrizacao/%s/%s/%s/aliquota", codigo, url.PathEscape(serv), url.PathEscape(comp))
	return s.FetchWithCache(ctx, key, path, forceRefresh)
}

// HistoricoAliquotas reads the aliquot history of a service in a municipality
func (s *Service) HistoricoAliquotas(ctx context.Context, codigo, servico string, forceRefresh bool) (*Result, error) {
	if err := model.ValidateMunicipalityCode(codigo); err != nil {
		return nil, err
	}
	serv, err := model.NormalizeServiceCode(servico)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("catalog:historico:%s:%s", codigo, serv)
	path := fmt.Sprintf("/parametrizacao/%s/%s/historicoaliquotas", codigo, url.PathEscape(serv))
	return s.FetchWithCache(ctx, key, path, forceRefresh)
}

// ConsultarConvenio reads the agreement terms of a municipality with the
// national NFSe
func (s *Service) ConsultarConvenio(ctx context.Context, codigo string, forceRefresh bool) (*Result, error) {
	if err := model.ValidateMunicipalityCode(codigo); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("catalog:convenio:%s", codigo)
	path := fmt.Sprintf("/parametrizacao/%s/convenio", codigo)
	return s.FetchWithCache(ctx, key, path, forceRefresh)
}

// Warmup loads the municipality list and the agreements of codigos into the
// cache concurrently. It stops at the first failure.
func (s *Service) Warmup(ctx context.Context, codigos []string) error {
	for _, codigo := range codigos {
		if err := model.ValidateMunicipalityCode(codigo); err != nil {
			return err
		}
	}

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := s.ListarMunicipios(ctx, false)
		return err
	})
	for _, codigo := range codigos {
		g.Go(func() error {
			_, err := s.ConsultarConvenio(ctx, codigo, false)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	s.log.Info("catalog warmed up",
		zap.Int("municipios", len(codigos)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// competenciaDay reduces a normalized competência to its UTC date
func competenciaDay(comp string) string {
	if len(comp) < len("2006-01-02") {
		return comp
	}
	return comp[:len("2006-01-02")]
}

// NormalizeCompetencia renders a competência as an RFC3339 UTC timestamp.
// Empty means now; a bare date (2006-01-02) or month (2006-01) starts at
// midnight UTC.
func NormalizeCompetencia(competencia string, now time.Time) (string, error) {
	competencia = strings.TrimSpace(competencia)
	if competencia == "" {
		return now.UTC().Format(time.RFC3339), nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "2006-01"} {
		if t, err := time.Parse(layout, competencia); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
	}
	return "", model.NewValidationError(model.ErrCodeInvalidField, "competencia", competencia,
		"iso8601", "competência must be a date (YYYY-MM-DD) or an ISO-8601 timestamp")
}
