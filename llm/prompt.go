package llm

import "strings"

// ReplyInstruction asks the model to open by identifying itself as automated.
// The compliance footer is appended separately and never trusted to the model.
const ReplyInstruction = "Please provide a helpful, professional, and concise response based on the context. START YOUR RESPONSE BY STATING YOU ARE AN AI RECRUITING ASSISTANT."

// BuildPrompt places the retrieved context first, then the question, then
// the reply instruction.
func BuildPrompt(question string, chunks []string) string {
	var sb strings.Builder
	sb.WriteString("Context:\n")
	sb.WriteString(strings.Join(chunks, "\n\n"))
	sb.WriteString("\n\nUser Question:\n")
	sb.WriteString(question)
	sb.WriteString("\n\n")
	sb.WriteString(ReplyInstruction)
	return sb.String()
}
