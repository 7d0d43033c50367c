package security

import (
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
)

// maxURLLength flags request targets longer than any route the API serves.
const maxURLLength = 2048

var (
	suspiciousPatterns = []string{
		"../", "..\\", ".env", "wp-admin", "phpmyadmin",
		"admin.php", "config.php", ".git", ".ssh",
		"eval(", "javascript:", "<script", "union select",
		"etc/passwd", "cmd.exe",
	}

	// Command line clients such as curl are legitimate callers of a JSON
	// API, so only scanners are listed.
	suspiciousAgents = []string{
		"sqlmap", "nmap", "nikto", "gobuster", "dirb", "masscan", "zgrab",
	}

	unusualMethods = map[string]bool{
		"TRACE":   true,
		"TRACK":   true,
		"DEBUG":   true,
		"CONNECT": true,
	}
)

// Detector flags requests that look like scans. It never blocks; flagged
// requests are logged and counted.
type Detector struct {
	suspicious atomic.Int64
}

func NewDetector() *Detector {
	return &Detector{}
}

// Reason returns why r looks suspicious, or "" when it does not.
func (d *Detector) Reason(r *http.Request) string {
	path := strings.ToLower(r.URL.Path)
	query := strings.ToLower(r.URL.RawQuery)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(path, pattern) || strings.Contains(query, pattern) {
			return "pattern " + pattern
		}
	}

	userAgent := strings.ToLower(r.Header.Get("User-Agent"))
	for _, agent := range suspiciousAgents {
		if strings.Contains(userAgent, agent) {
			return "user agent " + agent
		}
	}

	if unusualMethods[r.Method] {
		return "method " + r.Method
	}
	if len(r.URL.String()) > maxURLLength {
		return "url too long"
	}
	// More than five proxy hops
	if strings.Count(r.Header.Get("X-Forwarded-For"), ",") > 5 {
		return "forwarding chain too long"
	}
	return ""
}

// Suspicious reports how many requests have been flagged.
func (d *Detector) Suspicious() int64 {
	return d.suspicious.Load()
}

// Middleware logs flagged requests through the logger returned by
// loggerFor and passes every request on.
func (d *Detector) Middleware(extractIP func(*http.Request) string, loggerFor func(*http.Request) *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reason := d.Reason(r); reason != "" {
				d.suspicious.Add(1)
				logger := slog.Default()
				if loggerFor != nil {
					logger = loggerFor(r)
				}
				logger.WarnContext(r.Context(), "Suspicious request",
					"reason", reason,
					"client_ip", extractIP(r),
					"method", r.Method,
					"path", r.URL.Path,
					"user_agent", r.Header.Get("User-Agent"))
			}
			next.ServeHTTP(w, r)
		})
	}
}
