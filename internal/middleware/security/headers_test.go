package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serve(t *testing.T, cfg HeadersConfig, useTLS bool) http.Header {
	t.Helper()
	h := NewHeadersMiddleware(cfg).Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/fund", nil)
	if useTLS {
		req.TLS = &tls.ConnectionState{}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Header()
}

func TestDefaultHeaders(t *testing.T) {
	h := serve(t, DefaultHeadersConfig(), false)

	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", h.Get("Cache-Control"))
	assert.Contains(t, h.Get("Content-Security-Policy"), "default-src 'none'")
	assert.Empty(t, h.Get("Strict-Transport-Security"), "HSTS is only sent over TLS")
}

func TestHSTSOverTLS(t *testing.T) {
	h := serve(t, DefaultHeadersConfig(), true)
	assert.Equal(t, "max-age=31536000; includeSubDomains", h.Get("Strict-Transport-Security"))
}

func TestEmptyValuesAreSkipped(t *testing.T) {
	h := serve(t, HeadersConfig{XFrameOptions: "SAMEORIGIN"}, true)
	assert.Equal(t, "SAMEORIGIN", h.Get("X-Frame-Options"))
	assert.Empty(t, h.Get("Content-Security-Policy"))
	assert.Empty(t, h.Get("Strict-Transport-Security"))
}
