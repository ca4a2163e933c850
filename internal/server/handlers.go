package server

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rezonia/nfse-processor/internal/model"
	"github.com/rezonia/nfse-processor/internal/provider"
	"github.com/rezonia/nfse-processor/internal/response"
	"github.com/rezonia/nfse-processor/pkg/nfselib"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// respond writes the envelope with the status derived from its outcome
func (s *Server) respond(c *gin.Context, resp *response.Response) {
	status := statusFor(resp)
	if status >= http.StatusInternalServerError {
		s.log.Error("operation failed",
			zap.String("operation", resp.Operation()),
			zap.String("error", resp.ErrorMessage()),
			zap.String("error_code", resp.ErrorCode()),
		)
	}
	c.JSON(status, resp)
}

func (s *Server) handleValidarConfiguracao(c *gin.Context) {
	s.respond(c, s.client.ValidarConfiguracao(c.Request.Context(), c.Query("municipio")))
}

func (s *Server) handleListarMunicipios(c *gin.Context) {
	s.respond(c, s.client.ListarMunicipios(c.Request.Context(), refresh(c)))
}

func (s *Server) handleConsultarAliquotas(c *gin.Context) {
	s.respond(c, s.client.ConsultarAliquotasMunicipio(c.Request.Context(),
		c.Param("codigo"),
		c.Query("servico"),
		c.Query("competencia"),
		refresh(c),
	))
}

func (s *Server) handleHistoricoAliquotas(c *gin.Context) {
	s.respond(c, s.client.HistoricoAliquotas(c.Request.Context(), c.Param("codigo"), c.Query("servico"), refresh(c)))
}

func (s *Server) handleConsultarConvenio(c *gin.Context) {
	s.respond(c, s.client.ConsultarConvenio(c.Request.Context(), c.Param("codigo"), refresh(c)))
}

func (s *Server) handleWarmup(c *gin.Context) {
	var req WarmupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.rejectBody(c, nfselib.OpWarmup, err)
		return
	}
	s.respond(c, s.client.Warmup(c.Request.Context(), req.Codigos))
}

func (s *Server) handleEmitir(c *gin.Context) {
	data, ok := s.bindMap(c, nfselib.OpEmitir)
	if !ok {
		return
	}
	s.respond(c, s.client.Emitir(c.Request.Context(), c.Query("municipio"), data))
}

func (s *Server) handleConsultar(c *gin.Context) {
	s.respond(c, s.client.Consultar(c.Request.Context(), c.Query("municipio"), c.Param("chave")))
}

func (s *Server) handleCancelar(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.rejectBody(c, nfselib.OpCancelar, err)
		return
	}
	s.respond(c, s.client.Cancelar(c.Request.Context(), c.Query("municipio"), c.Param("chave"), req.Motivo, req.Protocolo))
}

func (s *Server) handleSubstituir(c *gin.Context) {
	data, ok := s.bindMap(c, nfselib.OpSubstituir)
	if !ok {
		return
	}
	s.respond(c, s.client.Substituir(c.Request.Context(), c.Query("municipio"), c.Param("chave"), data))
}

// handleBaixarXML returns the raw document on success and the envelope
// otherwise
func (s *Server) handleBaixarXML(c *gin.Context) {
	resp := s.client.BaixarXML(c.Request.Context(), c.Query("municipio"), c.Param("chave"))
	if resp.IsError() {
		s.respond(c, resp)
		return
	}
	doc, _ := resp.DataKey("xml").(string)
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(doc))
}

// handleBaixarDanfse returns the PDF on success and the envelope otherwise
func (s *Server) handleBaixarDanfse(c *gin.Context) {
	resp := s.client.BaixarDanfse(c.Request.Context(), c.Query("municipio"), c.Param("chave"))
	if resp.IsError() {
		s.respond(c, resp)
		return
	}
	encoded, _ := resp.DataKey("pdf_base64").(string)
	pdf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.respond(c, s.envelope(c, response.FromError(fmt.Errorf("failed to decode DANFSe: %w", err), nfselib.OpBaixarDanfse)))
		return
	}
	c.Header("Content-Disposition", `inline; filename="`+c.Param("chave")+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (s *Server) handleConsultarPorRps(c *gin.Context) {
	rps := provider.RpsIdentification{
		Numero:        c.Param("numero"),
		Serie:         c.Query("serie"),
		Tipo:          c.Query("tipo"),
		CNPJPrestador: c.Query("cnpj"),
	}
	s.respond(c, s.client.ConsultarPorRps(c.Request.Context(), c.Query("municipio"), rps))
}

func (s *Server) handleConsultarLote(c *gin.Context) {
	s.respond(c, s.client.ConsultarLote(c.Request.Context(), c.Query("municipio"), c.Param("protocolo")))
}

func refresh(c *gin.Context) bool {
	v, err := strconv.ParseBool(c.DefaultQuery("refresh", "false"))
	return err == nil && v
}

func (s *Server) bindMap(c *gin.Context, operation string) (map[string]any, bool) {
	var data map[string]any
	if err := c.ShouldBindJSON(&data); err != nil {
		s.rejectBody(c, operation, err)
		return nil, false
	}
	return data, true
}

// rejectBody answers a request whose body could not be bound with a
// validation failure envelope
func (s *Server) rejectBody(c *gin.Context, operation string, err error) {
	verr := model.NewValidationError(model.ErrCodeInvalidField, "body", nil, "json",
		"invalid request body: "+err.Error())
	s.respond(c, s.envelope(c, response.FromError(verr, operation)))
}

// envelope stamps the request identifier on envelopes built outside the client
func (s *Server) envelope(c *gin.Context, resp *response.Response) *response.Response {
	return resp.WithMetadata(nfselib.MetaRequestID, c.GetString(nfselib.MetaRequestID))
}
