package model

import (
	"regexp"
	"strconv"
	"strings"
)

// Access key lengths
const (
	NFSeAccessKeyLength = 50
	NFeAccessKeyLength  = 44
)

var (
	municipalityCodePattern = regexp.MustCompile(`^\d{7}$`)
	digitsPattern           = regexp.MustCompile(`^\d+$`)
)

// ValidateMunicipalityCode checks an IBGE municipality code (7 digits)
func ValidateMunicipalityCode(code string) error {
	if !municipalityCodePattern.MatchString(code) {
		return ErrInvalidMunicipalityCode(code)
	}
	return nil
}

// NormalizeServiceCode collapses whitespace and reports a missing field when
// nothing is left
func NormalizeServiceCode(code string) (string, error) {
	normalized := strings.Join(strings.Fields(code), "")
	if normalized == "" {
		return "", ErrMissingField("codigo_servico")
	}
	return normalized, nil
}

// ValidateAccessKey checks that key is made of exactly length digits
func ValidateAccessKey(key string, length int) error {
	key = strings.TrimSpace(key)
	if len(key) != length || !digitsPattern.MatchString(key) {
		return NewValidationError(ErrCodeInvalidAccessKey, "chave_acesso", key,
			"digits", "access key must have exactly "+strconv.Itoa(length)+" digits")
	}
	return nil
}

// ValidateCNPJ checks the CNPJ length and both check digits. Punctuation
// (dots, slash, dash) is ignored.
func ValidateCNPJ(cnpj string) error {
	digits := onlyDigits(cnpj)
	invalid := NewValidationError(ErrCodeInvalidCNPJ, "cnpj", cnpj, "check_digit", "invalid CNPJ")

	if len(digits) != 14 {
		invalid.Rule = "length"
		invalid.Message = "CNPJ must have 14 digits"
		return invalid
	}
	if strings.Count(digits, digits[:1]) == 14 {
		return invalid
	}

	weights1 := []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	weights2 := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}

	if cnpjDigit(digits[:12], weights1) != int(digits[12]-'0') {
		return invalid
	}
	if cnpjDigit(digits[:13], weights2) != int(digits[13]-'0') {
		return invalid
	}
	return nil
}

func cnpjDigit(base string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(base[i]-'0') * w
	}
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
