package response_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-processor/internal/model"
	"github.com/rezonia/nfse-processor/internal/response"
)

func TestSuccess(t *testing.T) {
	data := map[string]any{"codigo_municipio": "4106902"}
	resp := response.Success(data, "listar_municipios",
		response.NewMetadata().Set("source", "remote"))

	assert.True(t, resp.IsSuccess())
	assert.False(t, resp.IsError())
	assert.Empty(t, resp.ErrorMessage())
	assert.Equal(t, "4106902", resp.DataKey("codigo_municipio"))
	assert.Nil(t, resp.DataKey("missing"))
	assert.Equal(t, "listar_municipios", resp.Operation())

	assert.Equal(t, []string{"timestamp", "version", "source"}, resp.Metadata().Keys())
	assert.Equal(t, response.SchemaVersion, resp.MetadataKey(response.MetaVersion))

	ts, ok := resp.MetadataKey(response.MetaTimestamp).(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, ts)
	assert.NoError(t, err)
}

func TestSuccess_NilData(t *testing.T) {
	resp := response.Success(nil, "op")
	assert.Equal(t, map[string]any{}, resp.Data())
}

func TestError(t *testing.T) {
	resp := response.Error("falha na comunicação", "consultar")

	assert.False(t, resp.IsSuccess())
	assert.True(t, resp.IsError())
	assert.Equal(t, "falha na comunicação", resp.ErrorMessage())
	assert.Equal(t, map[string]any{}, resp.Data())
	assert.NotNil(t, resp.Data())
	assert.Nil(t, resp.DataKey("anything"))
}

func TestError_EmptyMessage(t *testing.T) {
	resp := response.Error("", "op")
	assert.NotEmpty(t, resp.ErrorMessage())
}

func TestFromError_Fault(t *testing.T) {
	resp := response.FromError(model.ErrInvalidMunicipalityCode("123"), "consultar_aliquotas")

	assert.True(t, resp.IsError())
	assert.Equal(t, model.ErrCodeInvalidMunicipalityCode, resp.ErrorCode())
	assert.Equal(t, model.ErrCodeInvalidMunicipalityCode, resp.MetadataKey(response.MetaErrorCode))
	assert.Equal(t, "ConfigurationError", resp.MetadataKey(response.MetaExceptionType))
	assert.Contains(t, resp.ErrorMessage(), "7 digits")
}

func TestFromError_PlainError(t *testing.T) {
	resp := response.FromError(errors.New("boom"), "op")

	assert.Equal(t, "boom", resp.ErrorMessage())
	assert.Empty(t, resp.ErrorCode())
	assert.Nil(t, resp.MetadataKey(response.MetaErrorCode))
	assert.Equal(t, "InternalError", resp.MetadataKey(response.MetaExceptionType))
}

func TestResponse_MetadataIsCopied(t *testing.T) {
	resp := response.Success(map[string]any{}, "op")
	resp.Metadata().Set("injected", true)

	assert.Nil(t, resp.MetadataKey("injected"))
}

func TestResponse_WithMetadata(t *testing.T) {
	orig := response.Success(map[string]any{}, "op")
	copied := orig.WithMetadata("request_id", "abc")

	assert.Equal(t, "abc", copied.MetadataKey("request_id"))
	assert.Nil(t, orig.MetadataKey("request_id"))
}

func TestToJSON_FieldOrder(t *testing.T) {
	resp := response.Success([]any{map[string]any{"nome": "Curitiba"}}, "listar_municipios")

	b, err := resp.ToJSON()
	require.NoError(t, err)

	s := string(b)
	order := []string{`"success"`, `"data"`, `"error"`, `"operation"`, `"metadata"`}
	last := -1
	for _, field := range order {
		idx := strings.Index(s, field)
		require.NotEqual(t, -1, idx, "missing %s", field)
		assert.Greater(t, idx, last, "%s out of order", field)
		last = idx
	}
	assert.Contains(t, s, `"error":null`)
	assert.Less(t, strings.Index(s, `"timestamp"`), strings.Index(s, `"version"`))
}

func TestToJSON_Failure(t *testing.T) {
	resp := response.Error("não configurado", "validar_configuracao")

	b, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded struct {
		Success  bool           `json:"success"`
		Data     map[string]any `json:"data"`
		Error    string         `json:"error"`
		Metadata map[string]any `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))

	assert.False(t, decoded.Success)
	assert.NotNil(t, decoded.Data)
	assert.Empty(t, decoded.Data)
	assert.Equal(t, "não configurado", decoded.Error)
	assert.Equal(t, response.SchemaVersion, decoded.Metadata["version"])
}

func TestMetadata_OrderAndReplace(t *testing.T) {
	m := response.NewMetadata().Set("b", 1).Set("a", 2).Set("b", 3)

	assert.Equal(t, []string{"b", "a"}, m.Keys())
	v, ok := m.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":3,"a":2}`, string(b))
	assert.Equal(t, `{"b":3,"a":2}`, string(b))
}

func TestMetadata_UnmarshalKeepsOrder(t *testing.T) {
	var m response.Metadata
	require.NoError(t, json.Unmarshal([]byte(`{"z":1,"source":"cache","a":[1,2]}`), &m))

	assert.Equal(t, []string{"z", "source", "a"}, m.Keys())
	v, _ := m.Get("source")
	assert.Equal(t, "cache", v)

	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &m))
}
