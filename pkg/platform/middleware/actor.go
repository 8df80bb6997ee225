package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"tsunami/internal/tracking"
)

// Actor resolves the acting user from a bearer token and stores it in the
// tracking state for the duration of the request, so events recorded while
// handling it are stamped with the actor. Requests without a valid token
// proceed with no actor; this middleware authenticates attribution, it does
// not authorize access.
func Actor(signingKey []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor := actorFromRequest(r, signingKey, logger); actor != "" {
				r = r.WithContext(tracking.WithActor(r.Context(), actor))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actorFromRequest(r *http.Request, signingKey []byte, logger *slog.Logger) string {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return ""
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return signingKey, nil
	})
	if err != nil || !token.Valid {
		logger.WarnContext(r.Context(), "ignoring invalid bearer token",
			"request_id", GetRequestID(r.Context()), "error", err)
		return ""
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return ""
	}
	return subject
}
