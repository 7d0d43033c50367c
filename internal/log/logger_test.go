package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{" INFO ", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFieldsToSliceIsSorted(t *testing.T) {
	got := NewFields().WithOperation(OpDeposit).WithDeposit("tx1", "G", 5000).ToSlice()
	want := []any{
		FieldAmount, int64(5000),
		FieldMember, "G",
		FieldOperation, OpDeposit,
		FieldTransactionID, "tx1",
	}
	if len(got) != len(want) {
		t.Fatalf("ToSlice() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ToSlice()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMiddlewareAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: "json", Component: ComponentHTTP, Output: &buf})

	h := middleware.RequestID(Middleware(logger)(AccessLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).InfoContext(r.Context(), "handled")
		w.WriteHeader(http.StatusCreated)
	}))))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/fund/deposits", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	for _, line := range lines {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		if entry[FieldRequestID] == "" || entry[FieldRequestID] == nil {
			t.Errorf("log line missing request id: %s", line)
		}
		if entry[FieldComponent] != ComponentHTTP {
			t.Errorf("component = %v, want %q", entry[FieldComponent], ComponentHTTP)
		}
	}

	var access map[string]any
	_ = json.Unmarshal([]byte(lines[1]), &access)
	if access[FieldStatusCode] != float64(http.StatusCreated) {
		t.Errorf("status_code = %v, want %d", access[FieldStatusCode], http.StatusCreated)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if FromContext(req.Context()).Logger == nil {
		t.Fatal("FromContext returned a logger without a handler")
	}
}
