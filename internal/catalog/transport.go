package catalog

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/nfse-processor/internal/certificate"
	"github.com/rezonia/nfse-processor/internal/model"
)

// maxBodySize bounds the response bodies read from the remote API
const maxBodySize = 10 << 20

// Request is a single call to the remote API
type Request struct {
	Method  string
	Path    string
	Body    []byte
	Headers map[string]string
}

// Transport executes a request and returns the raw response body. Non-2xx
// responses must be reported as errors.
type Transport func(ctx context.Context, req Request) ([]byte, error)

// StatusError carries the body of a non-2xx response
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// HTTPTransport is the default Transport over net/http. When Certs holds a
// certificate, each call authenticates with mutual TLS.
type HTTPTransport struct {
	BaseURL string
	Timeout time.Duration
	Certs   certificate.Source
	Log     *zap.Logger

	client *http.Client
}

// NewHTTPTransport creates a transport rooted at baseURL
func NewHTTPTransport(baseURL string, timeout time.Duration, certs certificate.Source, log *zap.Logger) *HTTPTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: timeout,
		Certs:   certs,
		Log:     log,
		client:  &http.Client{Timeout: timeout},
	}
}

// Do implements Transport
func (t *HTTPTransport) Do(ctx context.Context, req Request) ([]byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	endpoint := t.BaseURL + req.Path

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, model.NewTransportError(model.ErrCodeUnreachable, req.Path, "failed to create HTTP request", 0, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	client, cleanup, err := t.clientForCall()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, model.NewTransportError(model.ErrCodeTimeout, req.Path, "request timeout", 0, err)
		}
		return nil, model.NewTransportError(model.ErrCodeUnreachable, req.Path, "request failed", 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, model.NewTransportError(model.ErrCodeUnreachable, req.Path, "failed to read response", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, model.NewTransportError(model.ErrCodeHTTPStatus, req.Path,
			fmt.Sprintf("unexpected HTTP status: %s", snippet(data)), resp.StatusCode,
			&StatusError{StatusCode: resp.StatusCode, Body: data})
	}

	t.Log.Debug("remote call completed",
		zap.String("method", method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
	)
	return data, nil
}

// clientForCall returns the shared client, or a client presenting the
// current certificate. The certificate material is written to per-call
// temporary files that cleanup removes.
func (t *HTTPTransport) clientForCall() (*http.Client, func(), error) {
	noop := func() {}
	if t.Certs == nil {
		return t.client, noop, nil
	}
	certPEM, keyPEM, ok := t.Certs.PEM()
	if !ok {
		return t.client, noop, nil
	}

	var files []string
	cleanup := func() {
		for _, f := range files {
			if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
				t.Log.Warn("failed to remove temporary key material", zap.String("file", f), zap.Error(err))
			}
		}
	}

	certFile, err := writeTemp("nfse-cert-*.pem", certPEM)
	if certFile != "" {
		files = append(files, certFile)
	}
	if err != nil {
		cleanup()
		return nil, noop, model.NewCertificateError(model.ErrCodeCertInvalid, "failed to stage certificate", err)
	}
	keyFile, err := writeTemp("nfse-key-*.pem", keyPEM)
	if keyFile != "" {
		files = append(files, keyFile)
	}
	if err != nil {
		cleanup()
		return nil, noop, model.NewCertificateError(model.ErrCodeCertInvalid, "failed to stage private key", err)
	}

	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		cleanup()
		return nil, noop, model.NewCertificateError(model.ErrCodeCertInvalid, "failed to load certificate key pair", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}
	client := &http.Client{Timeout: t.Timeout, Transport: transport}

	return client, func() {
		transport.CloseIdleConnections()
		cleanup()
	}, nil
}

func writeTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return name, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return name, err
	}
	return name, f.Close()
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
