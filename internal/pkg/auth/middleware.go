package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

//CookieName is the cookie the session token is stored in by the sign in endpoint
const CookieName = "auth_token"

type identityKey struct{}

//WithIdentity returns a copy of ctx carrying the identity
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

//IdentityFromContext returns the identity attached by Middleware, or nil for anonymous requests
func IdentityFromContext(ctx context.Context) *domain.Identity {
	identity, ok := ctx.Value(identityKey{}).(domain.Identity)
	if !ok {
		return nil
	}
	return &identity
}

//TokenFromRequest extracts a session token from the Authorization header or the session cookie.
//Tokens are never read from the query string, since request URIs end up in the access log.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}

	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	return ""
}

//Middleware attaches the identity of a valid session token to the request context.
//Requests without a valid token pass through anonymously, RequireIdentity rejects them where it matters.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := a.Verify(token)
		if err != nil {
			log.Infof("Token validation failed, continuing anonymously: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

//RequireIdentity rejects anonymous requests
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFromContext(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, domain.ErrAuthRequired.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
