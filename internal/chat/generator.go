package chat

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitGenerator adapts a Genkit model to the Generator interface.
// Sampling parameters are fixed conservatively: low temperature keeps the
// model close to the supplied context.
type GenkitGenerator struct {
	g         *genkit.Genkit
	modelName string
}

// NewGenkitGenerator creates a Generator backed by the named model, e.g.
// "googleai/gemini-2.5-flash" or "ollama/llama3.3".
func NewGenkitGenerator(g *genkit.Genkit, modelName string) *GenkitGenerator {
	return &GenkitGenerator{g: g, modelName: modelName}
}

var _ Generator = (*GenkitGenerator)(nil)

// Generate produces a draft answer for the prompt. The call honors ctx
// cancellation; the orchestrator bounds it with the generate timeout.
func (gg *GenkitGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	text, err := genkit.GenerateText(ctx, gg.g,
		ai.WithModelName(gg.modelName),
		ai.WithPrompt(prompt),
		ai.WithConfig(map[string]any{"temperature": 0.2}),
	)
	if err != nil {
		return "", fmt.Errorf("generating draft: %w", err)
	}
	return text, nil
}
