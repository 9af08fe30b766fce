package retrieval

import "strings"

const groundingInstruction = "Keep your answer grounded in the facts of the context above. " +
	"If the context does not contain the facts to answer the user prompt, say that you don't know."

// FormatPrompt renders result as a context block followed by the original query.
func FormatPrompt(result *RetrievalResult) string {
	texts := make([]string, len(result.Passages))
	for i, p := range result.Passages {
		texts[i] = p.Text
	}

	var b strings.Builder
	b.WriteString("<context>\n")
	b.WriteString(strings.Join(texts, "\n\n"))
	b.WriteString("\n</context>\n\n")
	b.WriteString("<user prompt>\n")
	b.WriteString(result.QueryText)
	b.WriteString("\n</user prompt>\n\n")
	b.WriteString(groundingInstruction)
	return b.String()
}
