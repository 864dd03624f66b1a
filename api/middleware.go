package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/notewise-ai/notewise/auth"
	"github.com/notewise-ai/notewise/store"
)

type contextKey string

const identityKey contextKey = "identity"

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		tokenStr := authHeader[7:]
		identity, err := s.authProvider.ValidateToken(r.Context(), tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getIdentityFromContext(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityKey).(*auth.Identity)
	return identity
}

// ensureUserMiddleware auto-provisions a local user record the first time an
// externally-authenticated identity is seen, and rewrites the identity's
// UserID to the local id so quota and notes key on it. Only active when the
// auth provider is "jwks".
func (s *Server) ensureUserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := getIdentityFromContext(r.Context())
		if identity == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		existing, err := s.store.GetUserByExternalID(ctx, identity.UserID)
		if err != nil {
			// A read failure is not "user not yet provisioned"; creating a
			// duplicate here would be worse than failing the request.
			s.logger.Error("user lookup failed", "external_id", identity.UserID, "error", err)
			writeError(w, http.StatusInternalServerError, "user lookup failed")
			return
		}
		if existing == nil {
			created := &store.User{
				ID:         newID(),
				ExternalID: identity.UserID,
				Username:   identity.Username,
				Role:       identity.Role,
				CreatedAt:  time.Now().UTC(),
			}
			if err := s.store.CreateUser(ctx, created); err != nil {
				// A concurrent request may have provisioned the user first.
				existing, _ = s.store.GetUserByExternalID(ctx, identity.UserID)
				if existing == nil {
					writeError(w, http.StatusInternalServerError, "user provisioning failed")
					return
				}
			} else {
				existing = created
			}
		}

		identity.UserID = existing.ID
		ctx = context.WithValue(ctx, identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func makeCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && originSet[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
