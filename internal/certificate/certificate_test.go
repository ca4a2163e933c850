package certificate

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pkcs12"

	"github.com/rezonia/nfse-processor/internal/model"
)

type testPKI struct {
	root    *x509.Certificate
	leaf    *x509.Certificate
	leafKey *ecdsa.PrivateKey
}

func newTestPKI(t *testing.T, cn string, notBefore, notAfter time.Time) *testPKI {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "AC Teste ICP-Brasil"},
		NotBefore:             notBefore.Add(-time.Hour),
		NotAfter:              notAfter.Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)
	root, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, root, &leafKey.PublicKey, rootKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	return &testPKI{root: root, leaf: leaf, leafKey: leafKey}
}

func (p *testPKI) pem(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.leaf.Raw})
	certPEM = append(certPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.root.Raw})...)
	der, err := x509.MarshalECPrivateKey(p.leafKey)
	require.NoError(t, err)
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	return certPEM, keyPEM
}

func validPKI(t *testing.T) *testPKI {
	return newTestPKI(t, "EMPRESA TESTE LTDA:11222333000181", time.Now().Add(-time.Hour), time.Now().Add(365*24*time.Hour))
}

func TestParsePEM(t *testing.T) {
	pki := validPKI(t)
	certPEM, keyPEM := pki.pem(t)

	c, err := ParsePEM(certPEM, keyPEM)
	require.NoError(t, err)

	assert.Equal(t, pki.leaf.SerialNumber, c.Leaf.SerialNumber)
	assert.Len(t, c.Chain, 1)
	assert.Equal(t, "11222333000181", c.CNPJ())

	certOut, keyOut, ok := c.PEM()
	require.True(t, ok)

	_, err = tls.X509KeyPair(certOut, keyOut)
	assert.NoError(t, err)
}

func TestParsePEM_KeyMismatch(t *testing.T) {
	a := validPKI(t)
	b := validPKI(t)
	certPEM, _ := a.pem(t)
	_, keyPEM := b.pem(t)

	_, err := ParsePEM(certPEM, keyPEM)
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeCertInvalid, model.CodeOf(err))
}

func TestParsePEM_Empty(t *testing.T) {
	_, err := ParsePEM(nil, nil)
	assert.Equal(t, model.ErrCodeCertInvalid, model.CodeOf(err))
}

func TestLoadPEM(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := validPKI(t).pem(t)
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))

	_, err := LoadPEM(certPath, keyPath)
	require.NoError(t, err)

	_, err = LoadPEM(filepath.Join(dir, "missing.pem"), keyPath)
	assert.Equal(t, model.ErrCodeCertFileNotFound, model.CodeOf(err))
}

func TestLoadPFX_Errors(t *testing.T) {
	_, err := LoadPFX(filepath.Join(t.TempDir(), "missing.pfx"), "secret")
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeCertFileNotFound, model.CodeOf(err))
	assert.NotEmpty(t, model.SuggestionsOf(err))

	path := filepath.Join(t.TempDir(), "garbage.pfx")
	require.NoError(t, os.WriteFile(path, []byte("not a pfx"), 0o600))
	_, err = LoadPFX(path, "secret")
	assert.Equal(t, model.ErrCodeCertInvalid, model.CodeOf(err))
}

func TestClassifyPFXError(t *testing.T) {
	err := classifyPFXError(pkcs12.ErrIncorrectPassword)
	assert.Equal(t, model.ErrCodeCertWrongPassword, model.CodeOf(err))
	assert.Equal(t, model.KindCertificate, model.KindOf(err))
}

func TestCheckValidity(t *testing.T) {
	now := time.Now()
	expired := newTestPKI(t, "EXPIRADA", now.Add(-48*time.Hour), now.Add(-24*time.Hour))
	certPEM, keyPEM := expired.pem(t)

	c, err := ParsePEM(certPEM, keyPEM)
	require.NoError(t, err)

	err = c.CheckValidity(now)
	assert.Equal(t, model.ErrCodeCertExpired, model.CodeOf(err))
	assert.Less(t, c.DaysUntilExpiry(now), 0)
	assert.Empty(t, c.CNPJ())
}

func TestStore_Lifecycle(t *testing.T) {
	store := NewStore()

	_, err := store.Current()
	assert.Equal(t, model.ErrCodeCertNotLoaded, model.CodeOf(err))
	_, _, ok := store.PEM()
	assert.False(t, ok)

	certPEM, keyPEM := validPKI(t).pem(t)
	c, err := ParsePEM(certPEM, keyPEM)
	require.NoError(t, err)
	require.NoError(t, store.Init(c))

	current, err := store.Current()
	require.NoError(t, err)
	assert.Same(t, c, current)
	_, _, ok = store.PEM()
	assert.True(t, ok)

	store.Clear()
	_, _, ok = store.PEM()
	assert.False(t, ok)
}

func TestStore_InitRejectsExpired(t *testing.T) {
	now := time.Now()
	certPEM, keyPEM := newTestPKI(t, "X", now.Add(-48*time.Hour), now.Add(-time.Hour)).pem(t)
	c, err := ParsePEM(certPEM, keyPEM)
	require.NoError(t, err)

	err = NewStore().Init(c)
	assert.Equal(t, model.ErrCodeCertExpired, model.CodeOf(err))

	assert.Equal(t, model.ErrCodeCertNotLoaded, model.CodeOf(NewStore().Init(nil)))
}

func TestStore_ExpiresWhileLoaded(t *testing.T) {
	now := time.Now()
	store := NewStore(WithClock(func() time.Time { return now }))

	certPEM, keyPEM := newTestPKI(t, "X", now.Add(-time.Hour), now.Add(time.Hour)).pem(t)
	c, err := ParsePEM(certPEM, keyPEM)
	require.NoError(t, err)
	require.NoError(t, store.Init(c))

	now = now.Add(2 * time.Hour)
	_, err = store.Current()
	assert.Equal(t, model.ErrCodeCertExpired, model.CodeOf(err))
}

func TestStore_TrustPool(t *testing.T) {
	pki := validPKI(t)
	certPEM, keyPEM := pki.pem(t)
	c, err := ParsePEM(certPEM, keyPEM)
	require.NoError(t, err)

	pool := NewTrustPool()
	pool.AddCertificate(pki.root)
	assert.NoError(t, NewStore(WithTrustPool(pool)).Init(c))

	err = NewStore(WithTrustPool(NewTrustPool())).Init(c)
	assert.Equal(t, model.ErrCodeCertInvalid, model.CodeOf(err))
}
