package generate

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/kirachat/backend/internal/routing"
)

// Generator produces a reply for a user message. Implementations are
// synchronous and single-attempt: no retry, and no timeout beyond what
// the caller's context carries.
type Generator interface {
	// Name identifies the backend ("agent" or "ark") for logs and health.
	Name() string
	// Generate returns the reply text for the message. The tier is
	// advisory; backends without tiered models ignore it.
	Generate(ctx context.Context, message string, tier routing.Tier) (string, error)
}

// Streamer is implemented by generators that can emit the reply
// incrementally. Only the hosted backend supports it.
type Streamer interface {
	Stream(ctx context.Context, message string, tier routing.Tier) (*schema.StreamReader[*schema.Message], error)
}
