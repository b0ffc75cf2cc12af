package chat

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kaiwa/internal/index"
	"github.com/hyperjump/kaiwa/internal/models"
)

// systemInstruction frames every model call. Answers must come from the
// supplied document context when one is present.
const systemInstruction = `You are a question answering assistant. When document context is provided, answer strictly from that context and cite which source you used. If the context does not contain the answer, say so plainly instead of guessing. When no context is provided, answer from general knowledge and say that no documents were consulted.`

// groundedFallback is returned without calling the model when documents are
// attached but retrieval found nothing relevant.
const groundedFallback = `I don't know based on the provided documents. They do not appear to contain information relevant to your question.`

// buildUserPrompt assembles the retrieval context, recent history, and the
// question into one prompt. Context is cut off at maxContextChars (runes);
// history keeps at most maxHistory of the latest messages, dropping oldest
// first.
func buildUserPrompt(question string, results []index.Result, msgs []*models.ChatMessage, maxContextChars, maxHistory int) string {
	var b strings.Builder

	if len(results) > 0 {
		b.WriteString("Context from documents:\n\n")
		used := 0
		for i, r := range results {
			content := r.Chunk.Content
			runes := []rune(content)
			if maxContextChars > 0 {
				remaining := maxContextChars - used
				if remaining <= 0 {
					break
				}
				if len(runes) > remaining {
					content = string(runes[:remaining])
				}
			}
			fmt.Fprintf(&b, "=== Source %d: %s (similarity: %.2f) ===\n%s\n\n", i+1, r.Filename, r.Score, content)
			used += len([]rune(content))
		}
	}

	if maxHistory > 0 && len(msgs) > maxHistory {
		msgs = msgs[len(msgs)-maxHistory:]
	}
	if len(msgs) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range msgs {
			switch m.Role {
			case models.RoleUser:
				b.WriteString("User: ")
			case models.RoleAssistant:
				b.WriteString("Assistant: ")
			}
			b.WriteString(m.Content)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}
