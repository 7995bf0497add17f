package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/laotypo/sessionsrv/internal/auth"
	"github.com/laotypo/sessionsrv/internal/laotypo"
)

type ctxKey int

const (
	ctxKeyIdentity ctxKey = iota
	ctxKeyPlayer
)

const adminKeyHeader = "X-Admin-Key"

func bearerToken(r *http.Request) string {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return strings.TrimSpace(token)
}

// identityMiddleware resolves an optional user bearer token. Requests
// without one continue anonymously; a bad token is rejected outright.
func identityMiddleware(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id laotypo.Identity
			if token := bearerToken(r); token != "" {
				var err error
				id, err = a.User(token)
				if err != nil {
					writeError(w, laotypo.KindUnauthenticated, "invalid bearer token")
					return
				}
				id.Admin = a.AdminKey(r.Header.Get(adminKeyHeader))
			}
			ctx := context.WithValue(r.Context(), ctxKeyIdentity, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// playerMiddleware requires a player token issued for the session in the
// {id} path parameter.
func playerMiddleware(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, laotypo.KindUnauthenticated, "player token required")
				return
			}
			ref, err := a.Player(token)
			if err != nil {
				writeError(w, laotypo.KindUnauthenticated, "invalid player token")
				return
			}
			if ref.SessionID != chi.URLParam(r, "id") {
				writeError(w, laotypo.KindPermissionDenied, "player token is for another session")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPlayer, ref)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identityFrom(r *http.Request) laotypo.Identity {
	id, _ := r.Context().Value(ctxKeyIdentity).(laotypo.Identity)
	return id
}

func playerFrom(r *http.Request) laotypo.PlayerRef {
	return r.Context().Value(ctxKeyPlayer).(laotypo.PlayerRef)
}
