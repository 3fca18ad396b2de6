package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/jharden/gigpay/pkg/response"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ActorIDKey is the context key for the calling user's id
	ActorIDKey ContextKey = "actor_id"
)

// QueueToken guards the internal task-target endpoints with a shared token.
// The durable task queue is configured to send the token with every delivery;
// anything else gets a 401 so misdirected traffic never mutates escrow state.
func QueueToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Queue-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				response.Unauthorized(w, "Invalid queue token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Actor propagates the authenticated caller's id from the gateway header.
// Session management is handled upstream; this service only needs the id for
// ownership checks and audit logging.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID := r.Header.Get("X-Actor-ID")
		if actorID != "" {
			ctx := context.WithValue(r.Context(), ActorIDKey, actorID)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetActorID extracts the caller id from the request context
func GetActorID(ctx context.Context) (string, bool) {
	actorID, ok := ctx.Value(ActorIDKey).(string)
	return actorID, ok
}
