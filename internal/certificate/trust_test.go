package certificate

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTrustPool_AddCertificatesFromPEM(t *testing.T) {
	pki := validPKI(t)
	pool := NewTrustPool()

	err := pool.AddCertificatesFromPEM(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: pki.root.Raw}))
	if err != nil {
		t.Fatalf("AddCertificatesFromPEM failed: %v", err)
	}
	if pool.Len() != 1 {
		t.Errorf("Len: got %d, want 1", pool.Len())
	}
}

func TestTrustPool_AddCertificatesFromPEM_Invalid(t *testing.T) {
	pool := NewTrustPool()

	if err := pool.AddCertificatesFromPEM([]byte("not a certificate")); err == nil {
		t.Error("expected error for invalid PEM data")
	}
}

func TestLoadTrustPool(t *testing.T) {
	pki := validPKI(t)
	path := filepath.Join(t.TempDir(), "icp-brasil.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: pki.root.Raw}), 0o600); err != nil {
		t.Fatal(err)
	}

	pool, err := LoadTrustPool(path)
	if err != nil {
		t.Fatalf("LoadTrustPool failed: %v", err)
	}

	chain, err := pool.VerifyChain(pki.leaf, nil, time.Now())
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if len(chain) != 2 {
		t.Errorf("chain length: got %d, want 2", len(chain))
	}

	if _, err := LoadTrustPool(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Error("expected error for missing bundle")
	}
}

func TestTrustPool_VerifyChain_Untrusted(t *testing.T) {
	pki := validPKI(t)

	_, err := NewTrustPool().VerifyChain(pki.leaf, []*x509.Certificate{pki.root}, time.Now())
	if err == nil {
		t.Error("expected error for untrusted root")
	}
}

func TestTrustPool_VerifyChain_NilCert(t *testing.T) {
	if _, err := NewTrustPool().VerifyChain(nil, nil, time.Now()); err == nil {
		t.Error("expected error for nil certificate")
	}
}
