package panel

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHandler(t *testing.T) {
	handler := Handler("")

	tests := []struct {
		path     string
		contains string
	}{
		{"/", "<!DOCTYPE html>"},
		{"/app.js", "WebSocket"},
		{"/style.css", "font-family"},
		{"/devices/thermo-1", "<!DOCTYPE html>"}, // fallback
		{"/../../etc/passwd", "<!DOCTYPE html>"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.URL.Path = tt.path
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("GET %s: status %d, want 200", tt.path, w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("GET %s: body does not contain %q", tt.path, tt.contains)
			}
			if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "no-cache") {
				t.Errorf("GET %s: Cache-Control = %q", tt.path, cc)
			}
		})
	}
}

func TestHandlerServesDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<!DOCTYPE html><p>dev build</p>"), 0o600); err != nil {
		t.Fatalf("write index: %v", err)
	}

	w := httptest.NewRecorder()
	Handler(dir).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.Contains(w.Body.String(), "dev build") {
		t.Errorf("body = %q, want the directory copy", w.Body.String())
	}
}

func TestHandlerMissingDirectoryFallsBackToEmbedded(t *testing.T) {
	w := httptest.NewRecorder()
	Handler(filepath.Join(t.TempDir(), "absent")).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/app.js", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "WebSocket") {
		t.Errorf("status %d, want embedded app.js", w.Code)
	}
}
