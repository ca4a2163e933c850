package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-processor/internal/metrics"
	"github.com/rezonia/nfse-processor/internal/model"
	"github.com/rezonia/nfse-processor/internal/provider"
	"github.com/rezonia/nfse-processor/internal/response"
	"github.com/rezonia/nfse-processor/internal/server"
	"github.com/rezonia/nfse-processor/pkg/nfselib"
)

const chave = "41069022111222333000181000000000000000000000000001"

type fakeProvider struct{}

func (fakeProvider) Name() string            { return provider.KeyNacional }
func (fakeProvider) Config() provider.Config { return provider.Config{}.WithDefaults() }

func (fakeProvider) Emitir(ctx context.Context, data map[string]any) (*provider.DocumentReference, error) {
	if _, ok := data["dps_xml"]; !ok {
		return nil, model.NewValidationError(model.ErrCodeInvalidField, "dps_xml", nil, "required", "missing DPS")
	}
	return &provider.DocumentReference{ChaveAcesso: chave, Numero: "7"}, nil
}

func (fakeProvider) Consultar(ctx context.Context, key string) (*provider.Document, error) {
	return &provider.Document{ChaveAcesso: key, Situacao: "ativa"}, nil
}

func (fakeProvider) Cancelar(ctx context.Context, key, motivo, protocolo string) (bool, error) {
	return true, nil
}

func (fakeProvider) Substituir(ctx context.Context, key string, data map[string]any) (*provider.Document, error) {
	return &provider.Document{ChaveAcesso: chave, Situacao: "substituta"}, nil
}

func (fakeProvider) BaixarXML(ctx context.Context, key string) ([]byte, error) {
	return []byte("<NFSe/>"), nil
}

func (fakeProvider) BaixarDanfse(ctx context.Context, key string) ([]byte, error) {
	return []byte("%PDF-1.4 test"), nil
}

type envelope struct {
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data"`
	Error     *string        `json:"error"`
	Operation string         `json:"operation"`
	Metadata  map[string]any `json:"metadata"`
}

func newTestServer(t *testing.T, configured bool) (*server.Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	providers := provider.NewRegistry()
	if configured {
		providers.Register(provider.KeyNacional, func(provider.Config) (provider.Provider, error) {
			return fakeProvider{}, nil
		})
	}
	handler := response.NewHandler(response.WithMetrics(m))
	client := nfselib.NewClient(provider.NewResolver(providers, provider.PolicyNational, nil),
		nfselib.WithHandler(handler),
		nfselib.WithRetry(1, 0),
	)
	return server.NewServer(&server.Config{Address: ":0"}, client, server.WithGatherer(reg)), reg
}

func do(t *testing.T, srv *server.Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true)

	w := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["time"])
}

func TestConsultarEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true)

	w := do(t, srv, http.MethodGet, "/api/v1/nfse/"+chave, nil)
	require.Equal(t, http.StatusOK, w.Code)

	env := decode(t, w)
	assert.True(t, env.Success)
	assert.Nil(t, env.Error)
	assert.Equal(t, nfselib.OpConsultar, env.Operation)
	assert.Equal(t, chave, env.Data["chave_acesso"])
	assert.Equal(t, "ativa", env.Data["situacao"])
}

func TestRequestIDPropagation(t *testing.T) {
	srv, _ := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nfse/"+chave, nil)
	req.Header.Set(server.HeaderRequestID, "req-abc")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "req-abc", w.Header().Get(server.HeaderRequestID))
	assert.Equal(t, "req-abc", decode(t, w).Metadata[nfselib.MetaRequestID])

	w = do(t, srv, http.MethodGet, "/api/v1/nfse/"+chave, nil)
	generated := w.Header().Get(server.HeaderRequestID)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, decode(t, w).Metadata[nfselib.MetaRequestID])
}

func TestEmitirEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true)

	w := do(t, srv, http.MethodPost, "/api/v1/nfse?municipio=curitiba", []byte(`{"dps_xml":"<DPS/>"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7", decode(t, w).Data["numero"])

	w = do(t, srv, http.MethodPost, "/api/v1/nfse", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(model.KindValidation), env.Metadata[response.MetaExceptionType])

	w = do(t, srv, http.MethodPost, "/api/v1/nfse", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env = decode(t, w)
	assert.False(t, env.Success)
	assert.Equal(t, nfselib.OpEmitir, env.Operation)
	require.NotNil(t, env.Error)
	assert.Contains(t, *env.Error, "invalid request body")
	assert.Equal(t, string(model.KindValidation), env.Metadata[response.MetaExceptionType])
	assert.NotEmpty(t, env.Metadata[nfselib.MetaRequestID])
}

func TestCancelarEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true)

	w := do(t, srv, http.MethodPost, "/api/v1/nfse/"+chave+"/cancelamento", []byte(`{"motivo":"erro na emissão"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w).Data["cancelada"])

	w = do(t, srv, http.MethodPost, "/api/v1/nfse/"+chave+"/cancelamento", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w)
	assert.False(t, env.Success)
	assert.Equal(t, nfselib.OpCancelar, env.Operation)
	assert.Equal(t, model.ErrCodeInvalidField, env.Metadata[response.MetaErrorCode])
}

func TestSubstituirEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true)

	w := do(t, srv, http.MethodPost, "/api/v1/nfse/"+chave+"/substituicao", []byte(`{"dps_xml":"<DPS/>"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "substituta", decode(t, w).Data["situacao"])
}

func TestDownloadEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, true)

	w := do(t, srv, http.MethodGet, "/api/v1/nfse/"+chave+"/xml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")
	assert.Equal(t, "<NFSe/>", w.Body.String())

	w = do(t, srv, http.MethodGet, "/api/v1/nfse/"+chave+"/danfse", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4 test", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), chave+".pdf")
}

func TestUnsupportedCapability(t *testing.T) {
	srv, _ := newTestServer(t, true)

	w := do(t, srv, http.MethodGet, "/api/v1/lotes/P123", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	env := decode(t, w)
	assert.Equal(t, model.ErrCodeCapabilityNotSupported, env.Metadata[response.MetaErrorCode])

	w = do(t, srv, http.MethodGet, "/api/v1/municipios", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t, false)

	w := do(t, srv, http.MethodGet, "/api/v1/config/validar?municipio=curitiba", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	env := decode(t, w)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Contains(t, *env.Error, "não configurado")
	assert.Equal(t, response.SeverityWarning, env.Metadata[response.MetaSeverity])
}

func TestWarmupEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true)

	w := do(t, srv, http.MethodPost, "/api/v1/catalogo/aquecer", []byte(`{"codigos":["4106902"]}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w).Data["aquecidos"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true)

	do(t, srv, http.MethodGet, "/api/v1/nfse/"+chave, nil)

	w := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `nfse_operations_total{operation="consultar",outcome="success"} 1`)
}

func TestConvenioWithoutCatalog(t *testing.T) {
	srv, _ := newTestServer(t, true)

	w := do(t, srv, http.MethodGet, "/api/v1/municipios/4106902/convenio", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, nfselib.OpConsultarConvenio, decode(t, w).Operation)
}

func TestWarmupEndpoint_MalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, true)

	w := do(t, srv, http.MethodPost, "/api/v1/catalogo/aquecer", []byte(`{"codigos":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w)
	assert.False(t, env.Success)
	assert.Equal(t, nfselib.OpWarmup, env.Operation)
}
