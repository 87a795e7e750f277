package session

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/kirachat/backend/internal/model/chat"
)

type contextKey struct{}

// SessionStore is the slice of the persistence layer the heartbeat needs.
type SessionStore interface {
	UpsertSession(ctx context.Context, sess chat.Session) error
}

// FromContext returns the identity attached by Middleware. The zero
// Identity is returned for requests that bypassed the middleware.
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(contextKey{}).(Identity)
	return id
}

// Middleware resolves the request identity before the handler runs and
// records a session heartbeat after it completes. The heartbeat is
// best-effort by contract: failures are logged and never propagate to
// the caller, whose response has already been written.
func Middleware(store SessionStore, userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := Resolve(r)
			ctx := context.WithValue(r.Context(), contextKey{}, identity)

			next.ServeHTTP(w, r.WithContext(ctx))

			heartbeat := chat.Session{
				UserID:    userID,
				DeviceID:  identity.DeviceID,
				SessionID: identity.SessionID,
				LastSeen:  time.Now().UTC(),
			}
			// Use a fresh context: the request context may already be done.
			if err := store.UpsertSession(context.Background(), heartbeat); err != nil {
				log.Printf("[session] heartbeat failed for %s: %v", identity.SessionID, err)
			}
		})
	}
}
