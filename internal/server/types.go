package server

import (
	"net/http"

	"github.com/rezonia/nfse-processor/internal/model"
	"github.com/rezonia/nfse-processor/internal/response"
)

// CancelRequest is the body of the cancellation endpoint
type CancelRequest struct {
	Motivo    string `json:"motivo" binding:"required"`
	Protocolo string `json:"protocolo"`
}

// WarmupRequest is the body of the catalog warmup endpoint
type WarmupRequest struct {
	Codigos []string `json:"codigos"`
}

// statusFor maps an envelope to an HTTP status from its error code and
// exception type
func statusFor(resp *response.Response) int {
	if resp.IsSuccess() {
		return http.StatusOK
	}

	switch resp.ErrorCode() {
	case model.ErrCodeConfigNotFound:
		return http.StatusNotFound
	case model.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case model.ErrCodeSefazRejection:
		return http.StatusUnprocessableEntity
	}

	kind, _ := resp.MetadataKey(response.MetaExceptionType).(string)
	switch model.Kind(kind) {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindConfiguration, model.KindCertificate:
		return http.StatusUnprocessableEntity
	case model.KindCapability:
		return http.StatusNotImplemented
	case model.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
