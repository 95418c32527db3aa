package middleware

import (
	"encoding/json"
	"net/http"
)

// writeErr renders the same {"error","message"} body the handlers use.
func writeErr(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeErr(w, http.StatusUnauthorized, "unauthenticated", msg)
}
