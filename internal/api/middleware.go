package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/token-queue-scheduling/internal/account"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	actorKey     contextKey = "actor"
)

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs HTTP requests with method, path, status, duration, actor and request ID
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		actorID := "-"
		if a, ok := wrapped.actor(); ok {
			actorID = a.ID.String()
		}

		log.Printf(
			"method=%s path=%s status=%d duration=%s actor=%s request_id=%s",
			r.Method,
			r.URL.Path,
			wrapped.statusCode,
			time.Since(start),
			actorID,
			GetRequestID(r.Context()),
		)
	})
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status code and the
// actor resolved further down the chain.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	resolved   *Actor
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) actor() (Actor, bool) {
	if rw.resolved == nil {
		return Actor{}, false
	}
	return *rw.resolved, true
}

// Actor is the caller identity attached to a request.
type Actor struct {
	ID   uuid.UUID
	Role account.Role
}

type actorClaims struct {
	jwt.RegisteredClaims
	ActorID string `json:"id"`
	Role    string `json:"role"`
}

var errMissingActor = errors.New("missing actor")

// ActorMiddleware resolves the caller. With a secret it expects an HS256
// bearer token carrying id and role claims; without one it trusts the
// X-Actor-ID and X-Actor-Role headers. Requests with no identity pass
// through anonymous; handlers that need an actor reject them.
func ActorMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				actor Actor
				err   error
			)
			if secret != "" {
				actor, err = actorFromToken(r, secret)
			} else {
				actor, err = actorFromHeaders(r)
			}

			switch {
			case errors.Is(err, errMissingActor):
				next.ServeHTTP(w, r)
				return
			case err != nil:
				writeError(w, http.StatusUnauthorized, "invalid_actor", err.Error())
				return
			}

			if rw, ok := w.(*responseWriter); ok {
				rw.resolved = &actor
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
		})
	}
}

// GetActor returns the actor attached by ActorMiddleware.
func GetActor(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}

func actorFromHeaders(r *http.Request) (Actor, error) {
	raw := strings.TrimSpace(r.Header.Get("X-Actor-ID"))
	if raw == "" {
		return Actor{}, errMissingActor
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return Actor{}, errors.New("X-Actor-ID must be a valid UUID")
	}
	return Actor{ID: id, Role: account.Role(strings.ToLower(r.Header.Get("X-Actor-Role")))}, nil
}

func actorFromToken(r *http.Request, secret string) (Actor, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Actor{}, errMissingActor
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return Actor{}, errors.New("authorization header must be a bearer token")
	}

	var claims actorClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Actor{}, fmt.Errorf("invalid token: %w", err)
	}

	id, err := uuid.Parse(claims.ActorID)
	if err != nil {
		return Actor{}, errors.New("token id claim must be a valid UUID")
	}
	return Actor{ID: id, Role: account.Role(claims.Role)}, nil
}

// IssueActorToken signs an HS256 token accepted by ActorMiddleware.
func IssueActorToken(secret string, actor Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := actorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ActorID: actor.ID.String(),
		Role:    string(actor.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
