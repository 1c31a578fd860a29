package ollama

import "fmt"

const systemPrompt = `You are a friendly, conversational voice assistant. Your responses are spoken aloud.

Rules:
- Engage naturally with whatever the user wants to talk about.
- Ask thoughtful follow-up questions to keep the conversation going.
- If the user's words are unclear, make your best guess at their meaning and respond helpfully.
- Never say "I don't understand" or "Could you clarify". Always try to contribute something useful.
- Respond in plain sentences. No markdown, no bullet points, no code blocks, no emojis.
- Keep responses concise, 1 to 3 sentences.
- When citing documents, mention the source naturally (e.g. "On page three...").
`

// buildMessages lays out the system prompt, prior turns, and the user's
// message wrapped with any retrieved document text.
func buildMessages(req ChatRequest) []Message {
	msgs := make([]Message, 0, len(req.History)+2)
	msgs = append(msgs, Message{Role: "system", Content: systemPrompt})
	msgs = append(msgs, req.History...)

	content := req.Message
	if req.Context != "" {
		content = fmt.Sprintf("Use the following document text to answer my question.\n\n"+
			"Document text:\n---\n%s\n---\n\nMy question: %s", req.Context, req.Message)
	}
	return append(msgs, Message{Role: "user", Content: content})
}
