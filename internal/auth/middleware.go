/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"net/http"
	"path"
	"strings"
)

// eventStreamPath is the only route that may carry its token in the query
// string, since browsers cannot set headers on a websocket upgrade.
const eventStreamPath = "/api/v1/events"

// Middleware authenticates Bearer tokens and stores the claims on the request.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				reject(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			claims, err := Parse(secret, raw)
			if err != nil {
				reject(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole answers 403 unless the authenticated caller holds role.
// Requests that never passed Middleware get 401.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			switch {
			case !ok:
				reject(w, http.StatusUnauthorized, "unauthorized")
			case !claims.HasRole(role):
				reject(w, http.StatusForbidden, "forbidden")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func reject(w http.ResponseWriter, status int, code string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="robobs"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `"}`))
}

func bearerToken(r *http.Request) string {
	if scheme, value, found := strings.Cut(r.Header.Get("Authorization"), " "); found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(value)
	}
	upgrade := strings.TrimSpace(r.Header.Get("Upgrade"))
	if strings.EqualFold(upgrade, "websocket") && path.Clean(r.URL.Path) == eventStreamPath {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}
