package middleware

import (
	"net/http"
	"strings"
)

// MaxManifestSize bounds a submitted run. Scenes reference their assets by
// URL, so even long videos stay far below this.
const MaxManifestSize = 1 << 20

// RequireJSON rejects bodies that are not JSON or exceed maxBytes
func RequireJSON(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
					http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
					return
				}
				if r.ContentLength == 0 {
					http.Error(w, "Request body is required", http.StatusBadRequest)
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
