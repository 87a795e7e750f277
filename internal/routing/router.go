package routing

import (
	"strings"
)

// Tier names one backend model configuration, ordered by cost.
type Tier string

const (
	TierLite  Tier = "lite"
	TierFlash Tier = "flash"
	TierPro   Tier = "pro"
	TierUltra Tier = "ultra"
)

// ModelInfo pairs a provider model identifier with its display name.
type ModelInfo struct {
	ID          string
	DisplayName string
}

// Models maps every tier to a concrete model.
type Models struct {
	Lite  ModelInfo
	Flash ModelInfo
	Pro   ModelInfo
	Ultra ModelInfo
}

// Info returns the model backing a tier.
func (m Models) Info(tier Tier) ModelInfo {
	switch tier {
	case TierFlash:
		return m.Flash
	case TierPro:
		return m.Pro
	case TierUltra:
		return m.Ultra
	default:
		return m.Lite
	}
}

// Decision is the outcome of routing one message.
type Decision struct {
	Tier        Tier
	Model       string
	DisplayName string
	Reason      string
}

// escalation keywords: prompts asking for analysis or design work go
// straight to the pro tier regardless of length.
var proMarkers = []string{
	"analyze", "analyse", "architect", "design", "trade-off", "tradeoff",
	"compare", "refactor", "implement", "review", "pros and cons",
}

// flash keywords: explanatory or debugging prompts that deserve more
// than the lite tier but not the full pro model.
var flashMarkers = []string{
	"how", "why", "explain", "debug", "fix", "error", "code", "write",
}

// ResolveOverride maps a manual model name to a tier. Unrecognized
// names fall back to the lite tier rather than erroring; the fallback
// is a deliberate fail-soft policy so client typos degrade to the
// cheapest model instead of breaking the request.
func ResolveOverride(name string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(name))) {
	case TierLite:
		return TierLite, true
	case TierFlash:
		return TierFlash, true
	case TierPro:
		return TierPro, true
	case TierUltra:
		return TierUltra, true
	default:
		return TierLite, false
	}
}

// Route picks a tier for the message. An explicit override wins over
// the heuristic; otherwise longer or more complex prompts escalate and
// short simple prompts stay on the cheapest tier.
func Route(message, override string, models Models) Decision {
	if strings.TrimSpace(override) != "" {
		tier, known := ResolveOverride(override)
		reason := "manual override"
		if !known {
			reason = "unknown model " + strings.TrimSpace(override) + ", falling back to lite"
		}
		return decide(tier, reason, models)
	}

	lower := strings.ToLower(message)
	words := len(strings.Fields(message))

	if strings.Contains(message, "```") {
		return decide(TierPro, "contains a code block", models)
	}
	for _, marker := range proMarkers {
		if strings.Contains(lower, marker) {
			return decide(TierPro, "complex prompt: "+marker, models)
		}
	}
	if words > 40 {
		return decide(TierPro, "long prompt", models)
	}

	for _, marker := range flashMarkers {
		if strings.Contains(lower, marker) {
			return decide(TierFlash, "moderate prompt: "+marker, models)
		}
	}
	if words > 12 {
		return decide(TierFlash, "medium-length prompt", models)
	}

	if words > 0 {
		return decide(TierLite, "short prompt", models)
	}

	return decide(TierPro, "default", models)
}

func decide(tier Tier, reason string, models Models) Decision {
	info := models.Info(tier)
	return Decision{
		Tier:        tier,
		Model:       info.ID,
		DisplayName: info.DisplayName,
		Reason:      reason,
	}
}
