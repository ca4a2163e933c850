package certificate

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

// TrustPool holds the ICP-Brasil root and intermediate CAs client
// certificates are verified against
type TrustPool struct {
	roots     *x509.CertPool
	rootCerts []*x509.Certificate
}

// NewTrustPool creates an empty pool
func NewTrustPool() *TrustPool {
	return &TrustPool{
		roots:     x509.NewCertPool(),
		rootCerts: make([]*x509.Certificate, 0),
	}
}

// LoadTrustPool builds a pool from a PEM bundle file
func LoadTrustPool(path string) (*TrustPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle: %w", err)
	}
	p := NewTrustPool()
	if err := p.AddCertificatesFromPEM(data); err != nil {
		return nil, err
	}
	return p, nil
}

// AddCertificate adds a single certificate to the pool
func (p *TrustPool) AddCertificate(cert *x509.Certificate) {
	if cert != nil {
		p.roots.AddCert(cert)
		p.rootCerts = append(p.rootCerts, cert)
	}
}

// AddCertificatesFromPEM parses and adds certificates from PEM data
func (p *TrustPool) AddCertificatesFromPEM(pemData []byte) error {
	var added int
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return fmt.Errorf("failed to parse certificate: %w", err)
			}
			p.AddCertificate(cert)
			added++
		}
		pemData = rest
	}
	if added == 0 {
		return fmt.Errorf("no certificates found in PEM data")
	}
	return nil
}

// Len returns the number of trusted certificates
func (p *TrustPool) Len() int {
	return len(p.rootCerts)
}

// VerifyChain verifies cert against the pool at instant now
func (p *TrustPool) VerifyChain(cert *x509.Certificate, intermediates []*x509.Certificate, now time.Time) ([]*x509.Certificate, error) {
	if cert == nil {
		return nil, fmt.Errorf("certificate is nil")
	}

	var interPool *x509.CertPool
	if len(intermediates) > 0 {
		interPool = x509.NewCertPool()
		for _, inter := range intermediates {
			interPool.AddCert(inter)
		}
	}

	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         p.roots,
		Intermediates: interPool,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, fmt.Errorf("chain verification failed: %w", err)
	}
	if len(chains) == 0 {
		return nil, fmt.Errorf("no valid certificate chains found")
	}
	return chains[0], nil
}
