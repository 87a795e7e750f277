package generate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kirachat/backend/internal/routing"
)

// AgentGenerator shells out to a local command-line agent, passing the
// user message as the final argument and returning captured stdout.
type AgentGenerator struct {
	command string
	args    []string
}

// NewAgentGenerator builds a generator around the given command and
// fixed leading arguments, e.g. ("openclaw", "agent").
func NewAgentGenerator(command string, args ...string) *AgentGenerator {
	return &AgentGenerator{command: command, args: args}
}

// Name implements Generator.
func (g *AgentGenerator) Name() string { return "agent" }

// Generate runs the agent process once. Non-zero exit surfaces captured
// stderr as the generation error, matching the process contract.
func (g *AgentGenerator) Generate(ctx context.Context, message string, _ routing.Tier) (string, error) {
	args := make([]string, 0, len(g.args)+1)
	args = append(args, g.args...)
	args = append(args, message)

	cmd := exec.CommandContext(ctx, g.command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("agent command failed: %s", detail)
	}

	return strings.TrimSpace(stdout.String()), nil
}
