package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetector_Reason(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		header     map[string]string
		suspicious bool
	}{
		{name: "api call", method: http.MethodGet, target: "/api/settlement"},
		{name: "curl is fine", method: http.MethodPost, target: "/api/fund/deposits", header: map[string]string{"User-Agent": "curl/8.5.0"}},
		{name: "path traversal", method: http.MethodGet, target: "/api/../etc/passwd", suspicious: true},
		{name: "dotenv lookup", method: http.MethodGet, target: "/.env", suspicious: true},
		{name: "sql in query", method: http.MethodGet, target: "/api/expenses?id=1%20union%20select", suspicious: true},
		{name: "scanner agent", method: http.MethodGet, target: "/", header: map[string]string{"User-Agent": "sqlmap/1.7"}, suspicious: true},
		{name: "trace method", method: "TRACE", target: "/", suspicious: true},
		{name: "long url", method: http.MethodGet, target: "/api/expenses/" + strings.Repeat("a", maxURLLength), suspicious: true},
		{name: "long forwarding chain", method: http.MethodGet, target: "/", header: map[string]string{"X-Forwarded-For": "1.1.1.1,2.2.2.2,3.3.3.3,4.4.4.4,5.5.5.5,6.6.6.6,7.7.7.7"}, suspicious: true},
	}

	d := NewDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.suspicious, d.Reason(req) != "")
		})
	}
}

func TestDetector_MiddlewareCountsAndPassesThrough(t *testing.T) {
	d := NewDetector()
	var served int
	h := d.Middleware(func(r *http.Request) string { return r.RemoteAddr }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			served++
			w.WriteHeader(http.StatusNoContent)
		}))

	for _, target := range []string{"/api/fund", "/.git/config", "/wp-admin"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	assert.Equal(t, 3, served)
	assert.Equal(t, int64(2), d.Suspicious())
}
