package generate

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/kirachat/backend/internal/config"
	"github.com/kirachat/backend/internal/routing"
)

// HostedGenerator calls a hosted chat model selected by tier. One chain
// is compiled per tier at startup so routing is a map lookup at request
// time.
type HostedGenerator struct {
	chains       map[routing.Tier]compose.Runnable[map[string]any, *schema.Message]
	systemPrompt string
}

// NewHostedGenerator compiles a prompt-template -> chat-model chain for
// every configured tier.
func NewHostedGenerator(ctx context.Context, cfg config.AIConfig) (*HostedGenerator, error) {
	tiers := map[routing.Tier]routing.ModelInfo{
		routing.TierLite:  cfg.Models.Lite,
		routing.TierFlash: cfg.Models.Flash,
		routing.TierPro:   cfg.Models.Pro,
		routing.TierUltra: cfg.Models.Ultra,
	}

	chains := make(map[routing.Tier]compose.Runnable[map[string]any, *schema.Message], len(tiers))
	for tier, info := range tiers {
		chatModel, err := cfg.NewChatModel(ctx, info.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s chat model: %w", tier, err)
		}

		promptTemplate := prompt.FromMessages(
			schema.FString,
			schema.SystemMessage("{system}"),
			schema.UserMessage("{query}"),
		)

		chain := compose.NewChain[map[string]any, *schema.Message]()
		chain.AppendChatTemplate(promptTemplate)
		chain.AppendChatModel(chatModel)

		runnable, err := chain.Compile(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s chain: %w", tier, err)
		}
		chains[tier] = runnable
	}

	return &HostedGenerator{
		chains:       chains,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// Name implements Generator.
func (g *HostedGenerator) Name() string { return "ark" }

// Generate invokes the chain for the routed tier and returns the
// generated text.
func (g *HostedGenerator) Generate(ctx context.Context, message string, tier routing.Tier) (string, error) {
	chain, ok := g.chains[tier]
	if !ok {
		chain = g.chains[routing.TierLite]
	}

	response, err := chain.Invoke(ctx, g.chainInput(message))
	if err != nil {
		return "", fmt.Errorf("failed to run %s chain: %w", tier, err)
	}
	return response.Content, nil
}

// Stream implements Streamer for the SSE endpoint.
func (g *HostedGenerator) Stream(ctx context.Context, message string, tier routing.Tier) (*schema.StreamReader[*schema.Message], error) {
	chain, ok := g.chains[tier]
	if !ok {
		chain = g.chains[routing.TierLite]
	}

	stream, err := chain.Stream(ctx, g.chainInput(message))
	if err != nil {
		return nil, fmt.Errorf("failed to stream %s chain: %w", tier, err)
	}
	return stream, nil
}

func (g *HostedGenerator) chainInput(message string) map[string]any {
	return map[string]any{
		"system": g.systemPrompt,
		"query":  message,
	}
}
