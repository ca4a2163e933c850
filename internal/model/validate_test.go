package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-processor/internal/model"
)

func TestValidateMunicipalityCode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"4106902", true},
		{"3550308", true},
		{"123", false},
		{"41069021", false},
		{"41O6902", false},
		{"", false},
		{" 4106902", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := model.ValidateMunicipalityCode(tt.code)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var cfgErr *model.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, model.ErrCodeInvalidMunicipalityCode, cfgErr.Code)
		})
	}
}

func TestNormalizeServiceCode(t *testing.T) {
	code, err := model.NormalizeServiceCode("  01.07 ")
	require.NoError(t, err)
	assert.Equal(t, "01.07", code)

	code, err = model.NormalizeServiceCode("01 07 01")
	require.NoError(t, err)
	assert.Equal(t, "010701", code)

	_, err = model.NormalizeServiceCode(" \t ")
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeMissingField, model.CodeOf(err))
}

func TestValidateAccessKey(t *testing.T) {
	nfse := strings.Repeat("1", model.NFSeAccessKeyLength)
	nfe := strings.Repeat("3", model.NFeAccessKeyLength)

	assert.NoError(t, model.ValidateAccessKey(nfse, model.NFSeAccessKeyLength))
	assert.NoError(t, model.ValidateAccessKey(nfe, model.NFeAccessKeyLength))

	err := model.ValidateAccessKey(nfe[:43], model.NFeAccessKeyLength)
	require.Error(t, err)
	assert.Equal(t, model.KindValidation, model.KindOf(err))
	assert.Contains(t, err.Error(), "44 digits")

	err = model.ValidateAccessKey(strings.Repeat("a", 44), model.NFeAccessKeyLength)
	require.Error(t, err)
}

func TestValidateCNPJ(t *testing.T) {
	tests := []struct {
		name  string
		cnpj  string
		valid bool
	}{
		{"valid digits", "11222333000181", true},
		{"valid formatted", "11.222.333/0001-81", true},
		{"wrong first digit", "11222333000191", false},
		{"wrong second digit", "11222333000182", false},
		{"repeated digits", "11111111111111", false},
		{"short", "1122233300018", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := model.ValidateCNPJ(tt.cnpj)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, model.ErrCodeInvalidCNPJ, model.CodeOf(err))
		})
	}
}
