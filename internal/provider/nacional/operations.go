package nacional

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/nfse-processor/internal/catalog"
	"github.com/rezonia/nfse-processor/internal/model"
	"github.com/rezonia/nfse-processor/internal/provider"
)

// Situations reported for documents this provider produces
const (
	SituacaoSubstituta = "substituta"
)

type apiMessage struct {
	Codigo      string `json:"codigo"`
	Descricao   string `json:"descricao"`
	Complemento string `json:"complemento,omitempty"`
}

type emissionRequest struct {
	DPS string `json:"dpsXmlGZipB64"`
}

type emissionResponse struct {
	ChaveAcesso           string       `json:"chaveAcesso"`
	IDDps                 string       `json:"idDps"`
	NFSe                  string       `json:"nfseXmlGZipB64"`
	DataHoraProcessamento string       `json:"dataHoraProcessamento"`
	Alertas               []apiMessage `json:"alertas,omitempty"`
}

type nfseResponse struct {
	ChaveAcesso string `json:"chaveAcesso"`
	NFSe        string `json:"nfseXmlGZipB64"`
	Situacao    string `json:"situacao,omitempty"`
}

type dpsResponse struct {
	ChaveAcesso string `json:"chaveAcesso"`
	IDDps       string `json:"idDps"`
}

type eventRequest struct {
	Pedido string `json:"pedidoRegistroEventoXmlGZipB64"`
}

type eventResponse struct {
	Evento string `json:"eventoXmlGZipB64"`
}

type rejectionBody struct {
	Erros []apiMessage `json:"erros"`
}

// nfseNumber reads nNFSe from an NFSe document
type nfseNumber struct {
	Numero string `xml:"infNFSe>nNFSe"`
}

// Emitir implements provider.Provider
func (p *Provider) Emitir(ctx context.Context, data map[string]any) (*provider.DocumentReference, error) {
	dps, err := p.builder.BuildDPS(data)
	if err != nil {
		return nil, err
	}
	return p.submit(ctx, dps)
}

func (p *Provider) submit(ctx context.Context, dps []byte) (*provider.DocumentReference, error) {
	encoded, err := EncodeDocument(dps)
	if err != nil {
		return nil, err
	}

	var resp emissionResponse
	if err := p.call(ctx, p.sefin, http.MethodPost, "/nfse", emissionRequest{DPS: encoded}, &resp); err != nil {
		return nil, err
	}
	if resp.ChaveAcesso == "" {
		return nil, model.NewTransportError(model.ErrCodeMalformedResponse, "/nfse", "response has no access key", 0, nil)
	}

	ref := &provider.DocumentReference{
		ChaveAcesso: resp.ChaveAcesso,
		Protocolo:   resp.IDDps,
		Raw:         map[string]any{},
	}
	if t, err := time.Parse(time.RFC3339, resp.DataHoraProcessamento); err == nil {
		ref.DataEmissao = t
	}
	if resp.NFSe != "" {
		doc, err := DecodeDocument(resp.NFSe)
		if err != nil {
			return nil, model.NewTransportError(model.ErrCodeMalformedResponse, "/nfse", "NFSe document is not valid gzip+base64", 0, err)
		}
		ref.Numero = numeroOf(doc)
		ref.Raw["xml"] = string(doc)
	}
	if len(resp.Alertas) > 0 {
		ref.Raw["alertas"] = resp.Alertas
		p.log.Info("NFSe issued with alerts",
			zap.String("chave_acesso", resp.ChaveAcesso),
			zap.Int("alertas", len(resp.Alertas)),
		)
	}

	p.log.Info("NFSe issued",
		zap.String("chave_acesso", resp.ChaveAcesso),
		zap.String("id_dps", resp.IDDps),
	)
	return ref, nil
}

// Consultar implements provider.Provider
func (p *Provider) Consultar(ctx context.Context, chave string) (*provider.Document, error) {
	chave = strings.TrimSpace(chave)
	if err := validateKey(chave); err != nil {
		return nil, err
	}

	path := "/nfse/" + chave
	var resp nfseResponse
	if err := p.call(ctx, p.sefin, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	doc := &provider.Document{
		ChaveAcesso: chave,
		Situacao:    resp.Situacao,
	}
	if resp.NFSe != "" {
		xmlDoc, err := DecodeDocument(resp.NFSe)
		if err != nil {
			return nil, model.NewTransportError(model.ErrCodeMalformedResponse, path, "NFSe document is not valid gzip+base64", 0, err)
		}
		doc.XML = string(xmlDoc)
	}
	return doc, nil
}

// Cancelar implements provider.Provider. The national API identifies the
// document by access key alone; protocolo is only logged.
func (p *Provider) Cancelar(ctx context.Context, chave, motivo, protocolo string) (bool, error) {
	chave = strings.TrimSpace(chave)
	if err := validateKey(chave); err != nil {
		return false, err
	}
	motivo = strings.TrimSpace(motivo)
	if motivo == "" {
		return false, model.NewValidationError(model.ErrCodeInvalidField, "motivo", nil,
			"required", "a cancellation reason is required")
	}

	evt, err := p.builder.BuildEvento(Evento{
		Tipo:        EventoCancelamento,
		ChaveAcesso: chave,
		Motivo:      motivo,
	})
	if err != nil {
		return false, err
	}
	encoded, err := EncodeDocument(evt)
	if err != nil {
		return false, err
	}

	var resp eventResponse
	if err := p.call(ctx, p.sefin, http.MethodPost, "/nfse/"+chave+"/eventos", eventRequest{Pedido: encoded}, &resp); err != nil {
		return false, err
	}

	p.log.Info("NFSe cancelled",
		zap.String("chave_acesso", chave),
		zap.String("protocolo", protocolo),
	)
	return true, nil
}

// Substituir implements provider.Provider. The replacement DPS receives the
// replaced key in "chave_substituida".
func (p *Provider) Substituir(ctx context.Context, chave string, data map[string]any) (*provider.Document, error) {
	chave = strings.TrimSpace(chave)
	if err := validateKey(chave); err != nil {
		return nil, err
	}

	withKey := make(map[string]any, len(data)+1)
	for k, v := range data {
		withKey[k] = v
	}
	withKey["chave_substituida"] = chave

	dps, err := p.builder.BuildDPS(withKey)
	if err != nil {
		return nil, err
	}
	ref, err := p.submit(ctx, dps)
	if err != nil {
		return nil, err
	}

	doc := &provider.Document{
		ChaveAcesso: ref.ChaveAcesso,
		Situacao:    SituacaoSubstituta,
		Raw:         map[string]any{"chave_substituida": chave},
	}
	if x, ok := ref.Raw["xml"].(string); ok {
		doc.XML = x
	}
	return doc, nil
}

// ConsultarPorRps implements provider.RpsQuerier by deriving the DPS
// identifier from the RPS
func (p *Provider) ConsultarPorRps(ctx context.Context, rps provider.RpsIdentification) (*provider.Document, error) {
	if p.cfg.MunicipalityCode == "" {
		return nil, model.ErrMissingField("municipality_code")
	}
	id, err := DPSID(p.cfg.MunicipalityCode, rps)
	if err != nil {
		return nil, err
	}
	return p.consultarDPS(ctx, id)
}

// ConsultarLote implements provider.BatchQuerier. Submissions are
// synchronous; protocolo is the DPS identifier returned by Emitir.
func (p *Provider) ConsultarLote(ctx context.Context, protocolo string) (*provider.Document, error) {
	protocolo = strings.TrimSpace(protocolo)
	if protocolo == "" {
		return nil, model.NewValidationError(model.ErrCodeInvalidField, "protocolo", nil,
			"required", "a protocol is required")
	}
	return p.consultarDPS(ctx, protocolo)
}

func (p *Provider) consultarDPS(ctx context.Context, id string) (*provider.Document, error) {
	path := "/dps/" + url.PathEscape(id)
	var resp dpsResponse
	if err := p.call(ctx, p.sefin, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.ChaveAcesso == "" {
		return nil, model.NewTransportError(model.ErrCodeMalformedResponse, path, "response has no access key", 0, nil)
	}
	return p.Consultar(ctx, resp.ChaveAcesso)
}

// DPSID composes the 45 character DPS identifier: "DPS", municipality code,
// registration type, CNPJ, series and number
func DPSID(codigoMunicipio string, rps provider.RpsIdentification) (string, error) {
	if err := model.ValidateMunicipalityCode(codigoMunicipio); err != nil {
		return "", err
	}
	if err := model.ValidateCNPJ(rps.CNPJPrestador); err != nil {
		return "", err
	}
	numero := strings.TrimSpace(rps.Numero)
	if !isDigits(numero) || len(numero) > 15 {
		return "", model.NewValidationError(model.ErrCodeInvalidField, "numero", rps.Numero,
			"digits", "RPS number must have up to 15 digits")
	}
	serie := strings.TrimSpace(rps.Serie)
	if serie == "" {
		serie = "1"
	}
	if !isDigits(serie) || len(serie) > 5 {
		return "", model.NewValidationError(model.ErrCodeInvalidField, "serie", rps.Serie,
			"digits", "RPS series must have up to 5 digits")
	}

	cnpj := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, rps.CNPJPrestador)

	return "DPS" + codigoMunicipio + "2" + cnpj + leftPad(serie, 5) + leftPad(numero, 15), nil
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// BaixarXML implements provider.DocumentDownloader
func (p *Provider) BaixarXML(ctx context.Context, chave string) ([]byte, error) {
	doc, err := p.Consultar(ctx, chave)
	if err != nil {
		return nil, err
	}
	if doc.XML == "" {
		return nil, model.NewTransportError(model.ErrCodeMalformedResponse, "/nfse/"+doc.ChaveAcesso,
			"response has no NFSe document", 0, nil)
	}
	return []byte(doc.XML), nil
}

// BaixarDanfse implements provider.DocumentDownloader. The PDF is validated
// before it is returned.
func (p *Provider) BaixarDanfse(ctx context.Context, chave string) ([]byte, error) {
	chave = strings.TrimSpace(chave)
	if err := validateKey(chave); err != nil {
		return nil, err
	}

	path := "/danfse/" + chave
	pdf, err := p.adn(ctx, catalog.Request{
		Method:  http.MethodGet,
		Path:    path,
		Headers: map[string]string{"Accept": "application/pdf"},
	})
	if err != nil {
		return nil, rejection(path, err)
	}
	if err := ValidatePDF(pdf); err != nil {
		return nil, model.NewTransportError(model.ErrCodeMalformedResponse, path, "DANFSe is not a valid PDF", 0, err)
	}
	return pdf, nil
}

// call sends a JSON request and decodes the JSON response into out
func (p *Provider) call(ctx context.Context, t catalog.Transport, method, path string, in, out any) error {
	req := catalog.Request{Method: method, Path: path}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return err
		}
		req.Body = body
	}

	raw, err := t(ctx, req)
	if err != nil {
		return rejection(path, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return model.NewTransportError(model.ErrCodeMalformedResponse, path, "response is not valid JSON", 0, err)
	}
	return nil
}

// rejection turns a 4xx response carrying an "erros" list into a
// SEFAZ_REJECTION fault
func rejection(path string, err error) error {
	var se *catalog.StatusError
	if !errors.As(err, &se) || se.StatusCode < 400 || se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests {
		return err
	}

	var body rejectionBody
	if json.Unmarshal(se.Body, &body) != nil || len(body.Erros) == 0 {
		return err
	}

	parts := make([]string, 0, len(body.Erros))
	for _, e := range body.Erros {
		msg := e.Codigo + ": " + e.Descricao
		if e.Complemento != "" {
			msg += " (" + e.Complemento + ")"
		}
		parts = append(parts, msg)
	}
	return model.NewTransportError(model.ErrCodeSefazRejection, path, strings.Join(parts, "; "), se.StatusCode, err)
}

func numeroOf(doc []byte) string {
	var n nfseNumber
	if err := xml.Unmarshal(doc, &n); err != nil {
		return ""
	}
	return n.Numero
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
