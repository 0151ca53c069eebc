package chat

import (
	"fmt"
	"strings"

	"github.com/kjellm/anchor/internal/retrieval"
)

// systemInstruction constrains the model to the supplied context. The
// retrieved context may be empty; the model is told so explicitly rather
// than being left to improvise.
const systemInstruction = `You are the assistant on a personal portfolio site.
Answer ONLY from the context passages below. If the context does not contain
the answer, say that you do not have enough information. Never invent names,
numbers, or dates. Keep answers short and factual.`

// hedgePrefix is prepended to softened answers.
const hedgePrefix = "I'm not fully certain, but based on the material I have: "

// FallbackMessage is the fixed, honest response used when a draft is refused
// or generation fails.
const FallbackMessage = "I don't have enough information in my knowledge base to answer that reliably."

// buildPrompt assembles the LLM prompt from the system instruction, recent
// session turns, the retrieved context, and the user message.
func buildPrompt(history []TurnRecord, citations []retrieval.Citation, message string) string {
	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n\n")

	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", turn.UserMessage, turn.Answer)
		}
		b.WriteString("\n")
	}

	if len(citations) == 0 {
		b.WriteString("Context passages: (none available)\n")
	} else {
		b.WriteString("Context passages:\n")
		for i, c := range citations {
			fmt.Fprintf(&b, "[%d] %s", i+1, c.DocTitle)
			if c.Section != "" && c.Section != c.DocTitle {
				fmt.Fprintf(&b, " / %s", c.Section)
			}
			fmt.Fprintf(&b, "\n%s\n", c.Content)
		}
	}

	fmt.Fprintf(&b, "\nUser question: %s\n", message)
	return b.String()
}
