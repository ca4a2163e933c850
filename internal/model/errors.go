package model

import (
	"errors"
	"fmt"
)

// Kind names a fault family of the error taxonomy
type Kind string

const (
	KindConfiguration Kind = "ConfigurationError"
	KindCertificate   Kind = "CertificateError"
	KindTransport     Kind = "TransportError"
	KindValidation    Kind = "ValidationError"
	KindCapability    Kind = "CapabilityError"
	KindInternal      Kind = "InternalError"
)

// Error codes
const (
	ErrCodeConfigNotFound          = "CONFIG_NOT_FOUND"
	ErrCodeInvalidConfig           = "INVALID_CONFIG"
	ErrCodeInvalidMunicipalityCode = "INVALID_MUNICIPALITY_CODE"
	ErrCodeMissingField            = "MISSING_FIELD"

	ErrCodeCertNotLoaded     = "CERT_NOT_LOADED"
	ErrCodeCertExpired       = "CERT_EXPIRED"
	ErrCodeCertWrongPassword = "CERT_WRONG_PASSWORD"
	ErrCodeCertFileNotFound  = "CERT_FILE_NOT_FOUND"
	ErrCodeCertInvalid       = "CERT_INVALID"

	ErrCodeUnreachable       = "TRANSPORT_UNREACHABLE"
	ErrCodeHTTPStatus        = "HTTP_STATUS"
	ErrCodeMalformedResponse = "MALFORMED_RESPONSE"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeSefazRejection    = "SEFAZ_REJECTION"

	ErrCodeInvalidAccessKey = "INVALID_ACCESS_KEY"
	ErrCodeInvalidCNPJ      = "INVALID_CNPJ"
	ErrCodeInvalidField     = "INVALID_FIELD"

	ErrCodeCapabilityNotSupported = "CAPABILITY_NOT_SUPPORTED"
)

// Fault is implemented by every error of the taxonomy
type Fault interface {
	error
	ErrorCode() string
	ErrorKind() Kind
	ErrorSuggestions() []string
}

// ConfigurationError represents a missing or malformed provider configuration
type ConfigurationError struct {
	Code        string
	Field       string
	Message     string
	Cause       error
	Suggestions []string
}

func (e *ConfigurationError) Error() string {
	return formatFault(e.Code, e.Field, e.Message, e.Cause)
}

func (e *ConfigurationError) Unwrap() error              { return e.Cause }
func (e *ConfigurationError) ErrorCode() string          { return e.Code }
func (e *ConfigurationError) ErrorKind() Kind            { return KindConfiguration }
func (e *ConfigurationError) ErrorSuggestions() []string { return e.Suggestions }

// NewConfigurationError creates a new configuration error
func NewConfigurationError(code, field, message string, cause error) *ConfigurationError {
	return &ConfigurationError{
		Code:    code,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// ErrNotConfigured returns the error for a provider key with no registration
func ErrNotConfigured(key string) *ConfigurationError {
	e := NewConfigurationError(ErrCodeConfigNotFound, "provider",
		fmt.Sprintf("provedor NFSe não configurado para %q", key), nil)
	e.Suggestions = []string{
		"Registre o provedor no registry antes de utilizá-lo",
		"Verifique a chave do município na configuração",
	}
	return e
}

// ErrInvalidMunicipalityCode returns the error for a code that is not 7 digits
func ErrInvalidMunicipalityCode(code string) *ConfigurationError {
	e := NewConfigurationError(ErrCodeInvalidMunicipalityCode, "codigo_municipio",
		fmt.Sprintf("municipality code must have 7 digits, got %q", code), nil)
	e.Suggestions = []string{"Use o código IBGE do município com 7 dígitos"}
	return e
}

// ErrMissingField returns the error for a required request field left blank
func ErrMissingField(field string) *ConfigurationError {
	return NewConfigurationError(ErrCodeMissingField, field, "required field is missing", nil)
}

// CertificateError represents digital certificate failures
type CertificateError struct {
	Code        string
	Message     string
	Cause       error
	Suggestions []string
}

func (e *CertificateError) Error() string {
	return formatFault(e.Code, "certificate", e.Message, e.Cause)
}

func (e *CertificateError) Unwrap() error              { return e.Cause }
func (e *CertificateError) ErrorCode() string          { return e.Code }
func (e *CertificateError) ErrorKind() Kind            { return KindCertificate }
func (e *CertificateError) ErrorSuggestions() []string { return e.Suggestions }

var certificateSuggestions = map[string][]string{
	ErrCodeCertNotLoaded: {
		"Carregue o certificado digital A1 antes de chamar a operação",
		"Confira o caminho configurado em certificate.path",
	},
	ErrCodeCertExpired: {
		"Renove o certificado junto à autoridade certificadora",
		"Confira a validade com: openssl x509 -enddate -noout",
	},
	ErrCodeCertWrongPassword: {
		"Confirme a senha do arquivo PFX",
		"Verifique se a variável NFSE_CERTIFICATE_PASSWORD está definida",
	},
	ErrCodeCertFileNotFound: {
		"Verifique se o arquivo do certificado existe e pode ser lido",
		"Use um caminho absoluto em certificate.path",
	},
	ErrCodeCertInvalid: {
		"Exporte novamente o certificado no formato PFX ou PEM",
	},
}

// NewCertificateError creates a certificate error with the remediation
// suggestions catalogued for its code
func NewCertificateError(code, message string, cause error) *CertificateError {
	return &CertificateError{
		Code:        code,
		Message:     message,
		Cause:       cause,
		Suggestions: certificateSuggestions[code],
	}
}

// TransportError represents remote endpoint failures
type TransportError struct {
	Code       string
	Endpoint   string
	Message    string
	StatusCode int
	Cause      error
	Retryable  bool
}

func (e *TransportError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status=%d)", e.Message, e.StatusCode)
	}
	return formatFault(e.Code, e.Endpoint, msg, e.Cause)
}

func (e *TransportError) Unwrap() error     { return e.Cause }
func (e *TransportError) ErrorCode() string { return e.Code }
func (e *TransportError) ErrorKind() Kind   { return KindTransport }

func (e *TransportError) ErrorSuggestions() []string {
	switch e.Code {
	case ErrCodeSefazRejection:
		return []string{
			"Consulte o código de rejeição na documentação da Sefin Nacional",
			"Valide o DPS contra o schema antes de reenviar",
		}
	case ErrCodeTimeout, ErrCodeUnreachable:
		return []string{"Verifique a conectividade com o ambiente da Sefin Nacional"}
	}
	return nil
}

// NewTransportError creates a new transport error. Unreachable endpoints,
// timeouts and 5xx/429 statuses are retryable.
func NewTransportError(code, endpoint, message string, status int, cause error) *TransportError {
	retryable := code == ErrCodeUnreachable ||
		code == ErrCodeTimeout ||
		status >= 500 ||
		status == 429

	return &TransportError{
		Code:       code,
		Endpoint:   endpoint,
		Message:    message,
		StatusCode: status,
		Cause:      cause,
		Retryable:  retryable,
	}
}

// ValidationError represents caller-supplied data failing structural checks
type ValidationError struct {
	Code    string
	Field   string
	Value   interface{}
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed on %s: %s (value=%v, rule=%s)", e.Field, e.Message, e.Value, e.Rule)
	}
	return fmt.Sprintf("validation failed on %s: %s (rule=%s)", e.Field, e.Message, e.Rule)
}

func (e *ValidationError) ErrorCode() string { return e.Code }
func (e *ValidationError) ErrorKind() Kind   { return KindValidation }

func (e *ValidationError) ErrorSuggestions() []string {
	return []string{fmt.Sprintf("Corrija o campo %s conforme a regra %s", e.Field, e.Rule)}
}

// NewValidationError creates a new validation error
func NewValidationError(code, field string, value interface{}, rule, message string) *ValidationError {
	return &ValidationError{
		Code:    code,
		Field:   field,
		Value:   value,
		Rule:    rule,
		Message: message,
	}
}

// CapabilityError is returned when an extended operation is invoked on a
// provider that does not implement it
type CapabilityError struct {
	Provider   string
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("[%s] provider does not support advanced capabilities: %s (provider=%s)",
		ErrCodeCapabilityNotSupported, e.Capability, e.Provider)
}

func (e *CapabilityError) ErrorCode() string          { return ErrCodeCapabilityNotSupported }
func (e *CapabilityError) ErrorKind() Kind            { return KindCapability }
func (e *CapabilityError) ErrorSuggestions() []string { return nil }

// NewCapabilityError creates a new capability-mismatch error
func NewCapabilityError(provider, capability string) *CapabilityError {
	return &CapabilityError{Provider: provider, Capability: capability}
}

// KindOf classifies err, InternalError for anything outside the taxonomy
func KindOf(err error) Kind {
	var f Fault
	if errors.As(err, &f) {
		return f.ErrorKind()
	}
	return KindInternal
}

// CodeOf extracts the error code, empty when err carries none
func CodeOf(err error) string {
	var f Fault
	if errors.As(err, &f) {
		return f.ErrorCode()
	}
	return ""
}

// SuggestionsOf extracts the remediation suggestions carried by err
func SuggestionsOf(err error) []string {
	var f Fault
	if errors.As(err, &f) {
		return f.ErrorSuggestions()
	}
	return nil
}

// IsRetryable reports whether repeating the failed call may succeed.
// Errors outside the taxonomy are treated as retryable.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	switch KindOf(err) {
	case KindConfiguration, KindValidation, KindCapability, KindCertificate:
		return false
	}
	return true
}

func formatFault(code, field, message string, cause error) string {
	switch {
	case field != "" && cause != nil:
		return fmt.Sprintf("[%s] %s: %s (%v)", code, field, message, cause)
	case field != "":
		return fmt.Sprintf("[%s] %s: %s", code, field, message)
	case cause != nil:
		return fmt.Sprintf("[%s] %s (%v)", code, message, cause)
	}
	return fmt.Sprintf("[%s] %s", code, message)
}
