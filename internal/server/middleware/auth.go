package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth returns middleware that guards mutating endpoints (POST, PUT, PATCH,
// DELETE) with a static API key. Read endpoints and the WebSocket upgrade
// stay public; an empty key disables the guard entirely.
//
// Clients present the key either as "Authorization: Bearer <key>" or in the
// X-API-Key header.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			presented := presentedKey(r)
			switch {
			case presented == "":
				unauthorized(w, "missing API key")
			case subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1:
				unauthorized(w, "invalid API key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// presentedKey pulls the API key from the Authorization Bearer scheme or the
// X-API-Key header, preferring the former.
func presentedKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, rest, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
