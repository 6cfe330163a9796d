package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ivoshchikov/movie-quiz/internal/auth/jwt"
	httperrors "github.com/ivoshchikov/movie-quiz/pkg/http/errors"
)

// Player is the authenticated identity attached to a request.
type Player struct {
	ID    uuid.UUID
	Email string
}

// TokenValidator verifies access tokens.
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

type playerKey struct{}

// WithPlayer stores the player in ctx.
func WithPlayer(ctx context.Context, p Player) context.Context {
	return context.WithValue(ctx, playerKey{}, p)
}

// PlayerFromContext returns the authenticated player, if any.
func PlayerFromContext(ctx context.Context) (Player, bool) {
	p, ok := ctx.Value(playerKey{}).(Player)
	return p, ok
}

// PlayerFromToken validates a raw token and extracts the player identity.
func PlayerFromToken(v TokenValidator, token string) (Player, error) {
	claims, err := v.Validate(token)
	if err != nil {
		return Player{}, err
	}
	id, err := claims.PlayerID()
	if err != nil {
		return Player{}, err
	}
	return Player{ID: id, Email: claims.Email}, nil
}

// Middleware validates bearer tokens and injects the player into the request
// context. Requests without an Authorization header pass through anonymously.
func Middleware(v TokenValidator, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Parse "Bearer <token>"
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				httperrors.RespondUnauthorized(w, httperrors.ErrCodeInvalidToken, "Invalid authorization header")
				return
			}

			player, err := PlayerFromToken(v, parts[1])
			if err != nil {
				logger.Warn().Err(err).Msg("token validation failed")
				code := httperrors.ErrCodeInvalidToken
				if errors.Is(err, jwt.ErrExpiredToken) {
					code = httperrors.ErrCodeTokenExpired
				}
				httperrors.RespondUnauthorized(w, code, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPlayer(r.Context(), player)))
		})
	}
}

// RequireAuth ensures the request is authenticated.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PlayerFromContext(r.Context()); !ok {
			httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
