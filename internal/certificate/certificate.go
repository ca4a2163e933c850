// Package certificate loads ICP-Brasil A1 certificates (PFX or PEM) and
// exposes their PEM material for mutual-TLS calls.
package certificate

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"

	"github.com/rezonia/nfse-processor/internal/model"
)

// Source exposes the PEM-encoded certificate and private key of the current
// certificate, ok is false when none is loaded
type Source interface {
	PEM() (cert, key []byte, ok bool)
}

// Certificate is a loaded client certificate
type Certificate struct {
	Leaf  *x509.Certificate
	Chain []*x509.Certificate

	certPEM []byte
	keyPEM  []byte
}

// PEM returns the leaf plus chain certificates and the PKCS#8 private key
func (c *Certificate) PEM() (cert, key []byte, ok bool) {
	if c == nil || len(c.certPEM) == 0 || len(c.keyPEM) == 0 {
		return nil, nil, false
	}
	return c.certPEM, c.keyPEM, true
}

// Subject returns the subject common name
func (c *Certificate) Subject() string {
	return c.Leaf.Subject.CommonName
}

// NotAfter returns the expiry instant
func (c *Certificate) NotAfter() time.Time {
	return c.Leaf.NotAfter
}

// CNPJ extracts the CNPJ from an e-CNPJ common name ("RAZAO SOCIAL:CNPJ"),
// empty when the name does not carry one
func (c *Certificate) CNPJ() string {
	cn := c.Subject()
	idx := strings.LastIndex(cn, ":")
	if idx < 0 {
		return ""
	}
	candidate := cn[idx+1:]
	if model.ValidateCNPJ(candidate) != nil {
		return ""
	}
	return candidate
}

// DaysUntilExpiry returns whole days left before NotAfter, negative once expired
func (c *Certificate) DaysUntilExpiry(now time.Time) int {
	return int(c.Leaf.NotAfter.Sub(now).Hours() / 24)
}

// CheckValidity returns a CertificateError when now is outside the validity period
func (c *Certificate) CheckValidity(now time.Time) error {
	if now.After(c.Leaf.NotAfter) {
		return model.NewCertificateError(model.ErrCodeCertExpired,
			fmt.Sprintf("certificate expired at %s", c.Leaf.NotAfter.UTC().Format(time.RFC3339)), nil)
	}
	if now.Before(c.Leaf.NotBefore) {
		return model.NewCertificateError(model.ErrCodeCertInvalid,
			fmt.Sprintf("certificate not valid before %s", c.Leaf.NotBefore.UTC().Format(time.RFC3339)), nil)
	}
	return nil
}

// LoadPFX reads and decodes a PKCS#12 file
func LoadPFX(path, password string) (*Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, model.NewCertificateError(model.ErrCodeCertFileNotFound,
				fmt.Sprintf("certificate file not found: %s", path), err)
		}
		return nil, model.NewCertificateError(model.ErrCodeCertFileNotFound,
			fmt.Sprintf("certificate file unreadable: %s", path), err)
	}
	return ParsePFX(data, password)
}

// ParsePFX decodes PKCS#12 data
func ParsePFX(data []byte, password string) (*Certificate, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return nil, classifyPFXError(err)
	}

	var (
		certs []*x509.Certificate
		key   crypto.PrivateKey
	)
	for _, block := range blocks {
		switch {
		case block.Type == "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, model.NewCertificateError(model.ErrCodeCertInvalid, "failed to parse certificate", err)
			}
			certs = append(certs, cert)
		case strings.HasSuffix(block.Type, "PRIVATE KEY"):
			key, err = parsePrivateKey(block.Bytes)
			if err != nil {
				return nil, model.NewCertificateError(model.ErrCodeCertInvalid, "failed to parse private key", err)
			}
		}
	}

	return build(certs, key)
}

func classifyPFXError(err error) error {
	if errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return model.NewCertificateError(model.ErrCodeCertWrongPassword, "incorrect certificate password", err)
	}
	return model.NewCertificateError(model.ErrCodeCertInvalid, "failed to decode PFX data", err)
}

// LoadPEM reads a certificate chain and private key from PEM files
func LoadPEM(certPath, keyPath string) (*Certificate, error) {
	certData, err := os.ReadFile(certPath)
	if err != nil {
		return nil, model.NewCertificateError(model.ErrCodeCertFileNotFound,
			fmt.Sprintf("certificate file not found: %s", certPath), err)
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, model.NewCertificateError(model.ErrCodeCertFileNotFound,
			fmt.Sprintf("key file not found: %s", keyPath), err)
	}
	return ParsePEM(certData, keyData)
}

// ParsePEM decodes a PEM certificate chain and private key
func ParsePEM(certData, keyData []byte) (*Certificate, error) {
	var certs []*x509.Certificate
	for {
		block, rest := pem.Decode(certData)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, model.NewCertificateError(model.ErrCodeCertInvalid, "failed to parse certificate", err)
			}
			certs = append(certs, cert)
		}
		certData = rest
	}

	var key crypto.PrivateKey
	for {
		block, rest := pem.Decode(keyData)
		if block == nil {
			break
		}
		if strings.HasSuffix(block.Type, "PRIVATE KEY") {
			k, err := parsePrivateKey(block.Bytes)
			if err != nil {
				return nil, model.NewCertificateError(model.ErrCodeCertInvalid, "failed to parse private key", err)
			}
			key = k
			break
		}
		keyData = rest
	}

	return build(certs, key)
}

func build(certs []*x509.Certificate, key crypto.PrivateKey) (*Certificate, error) {
	if len(certs) == 0 {
		return nil, model.NewCertificateError(model.ErrCodeCertInvalid, "no certificates found", nil)
	}
	if key == nil {
		return nil, model.NewCertificateError(model.ErrCodeCertInvalid, "no private key found", nil)
	}

	leafIdx := -1
	for i, cert := range certs {
		if publicKeyMatches(cert.PublicKey, key) {
			leafIdx = i
			break
		}
	}
	if leafIdx < 0 {
		return nil, model.NewCertificateError(model.ErrCodeCertInvalid, "private key does not match any certificate", nil)
	}

	c := &Certificate{Leaf: certs[leafIdx]}
	for i, cert := range certs {
		if i != leafIdx {
			c.Chain = append(c.Chain, cert)
		}
	}

	var buf bytes.Buffer
	pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: c.Leaf.Raw})
	for _, cert := range c.Chain {
		pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	}
	c.certPEM = buf.Bytes()

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, model.NewCertificateError(model.ErrCodeCertInvalid, "unsupported private key", err)
	}
	c.keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	return c, nil
}

func parsePrivateKey(der []byte) (crypto.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("unknown private key encoding")
}

func publicKeyMatches(pub crypto.PublicKey, key crypto.PrivateKey) bool {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k.PublicKey.Equal(pub)
	case *ecdsa.PrivateKey:
		return k.PublicKey.Equal(pub)
	case ed25519.PrivateKey:
		return k.Public().(ed25519.PublicKey).Equal(pub)
	}
	return false
}
