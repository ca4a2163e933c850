// Package response provides the uniform result envelope returned by every
// public operation, and the Handler that converts failures into it.
package response

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rezonia/nfse-processor/internal/model"
)

// SchemaVersion is the version stamped into every envelope's metadata
const SchemaVersion = "1.0"

// Severity levels attached to failure envelopes
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Response is an immutable success/failure envelope. A success carries data
// and an empty error; a failure carries a non-empty error and an empty map
// as data.
type Response struct {
	success   bool
	data      any
	err       string
	errorCode string
	operation string
	metadata  *Metadata
}

// Success creates a success envelope. Caller metadata is merged after the
// generated timestamp and version fields.
func Success(data any, operation string, metadata ...*Metadata) *Response {
	if data == nil {
		data = map[string]any{}
	}
	return &Response{
		success:   true,
		data:      data,
		operation: operation,
		metadata:  buildMetadata(metadata),
	}
}

// Error creates a failure envelope with message
func Error(message, operation string, metadata ...*Metadata) *Response {
	if message == "" {
		message = "unknown error"
	}
	return &Response{
		success:   false,
		data:      map[string]any{},
		err:       message,
		operation: operation,
		metadata:  buildMetadata(metadata),
	}
}

// FromError converts err into a failure envelope. The taxonomy kind name is
// stored under exception_type and, when err carries a code, the code is stored
// both as ErrorCode and under error_code.
func FromError(err error, operation string) *Response {
	if err == nil {
		err = errors.New("unknown error")
	}

	meta := NewMetadata().Set(MetaExceptionType, string(model.KindOf(err)))
	code := model.CodeOf(err)
	if code != "" {
		meta.Set(MetaErrorCode, code)
	}

	r := Error(err.Error(), operation, meta)
	r.errorCode = code
	return r
}

func buildMetadata(extra []*Metadata) *Metadata {
	meta := NewMetadata().
		Set(MetaTimestamp, time.Now().UTC().Format(time.RFC3339)).
		Set(MetaVersion, SchemaVersion)
	for _, m := range extra {
		meta.Merge(m)
	}
	return meta
}

// IsSuccess reports whether the operation succeeded
func (r *Response) IsSuccess() bool { return r.success }

// IsError is the complement of IsSuccess
func (r *Response) IsError() bool { return !r.success }

// Data returns the whole payload, an empty map on failure
func (r *Response) Data() any { return r.data }

// DataKey returns a key of a map payload, nil when the payload is not a map
// or the key is absent
func (r *Response) DataKey(key string) any {
	switch d := r.data.(type) {
	case map[string]any:
		return d[key]
	case map[string]string:
		if v, ok := d[key]; ok {
			return v
		}
	}
	return nil
}

// ErrorMessage returns the failure message, empty on success
func (r *Response) ErrorMessage() string { return r.err }

// ErrorCode returns the error code of the fault, if any
func (r *Response) ErrorCode() string { return r.errorCode }

// Operation returns the operation name
func (r *Response) Operation() string { return r.operation }

// Metadata returns a copy of the metadata
func (r *Response) Metadata() *Metadata { return r.metadata.Clone() }

// MetadataKey returns a single metadata value, nil when absent
func (r *Response) MetadataKey(key string) any {
	v, _ := r.metadata.Get(key)
	return v
}

// WithMetadata returns a copy of r with key set
func (r *Response) WithMetadata(key string, value any) *Response {
	c := *r
	c.metadata = r.metadata.Clone().Set(key, value)
	return &c
}

type wireResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data"`
	Error     *string   `json:"error"`
	Operation string    `json:"operation"`
	Metadata  *Metadata `json:"metadata"`
}

// ToJSON renders {success, data, error, operation, metadata} in that order;
// error is null on success
func (r *Response) ToJSON() ([]byte, error) {
	w := wireResponse{
		Success:   r.success,
		Data:      r.data,
		Operation: r.operation,
		Metadata:  r.metadata,
	}
	if !r.success {
		msg := r.err
		w.Error = &msg
	}
	return json.Marshal(w)
}

// MarshalJSON implements json.Marshaler
func (r *Response) MarshalJSON() ([]byte, error) {
	return r.ToJSON()
}
