package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// openPaths skip the API key check.
var openPaths = map[string]bool{
	"/api/health": true,
}

// Auth gates every route except openPaths behind a static API key, sent as
// "Authorization: Bearer <key>" or "X-API-Key: <key>". An empty key turns
// the check off.
func Auth(apiKey string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if openPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			got := presentedKey(r.Header)
			switch {
			case got == "":
				unauthorized(w, "missing authentication token")
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				unauthorized(w, "invalid authentication token")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func presentedKey(h http.Header) string {
	if scheme, token, ok := strings.Cut(h.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(h.Get("X-API-Key"))
}
