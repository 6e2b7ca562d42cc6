package core

import "strings"

// Role identifies the author of a message.
type Role string

const (
	System    Role = "system"
	User      Role = "user"
	Assistant Role = "assistant"
)

// Message represents a single conversation turn. Messages are immutable once
// appended to a transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message {
	return Message{Role: System, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: User, Content: content}
}

// AssistantMessage builds an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: Assistant, Content: content}
}

// JoinContent concatenates message contents, used for token estimation.
func JoinContent(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, " ")
}

// MessagesToPrompt flattens a transcript into a single completion prompt for
// providers without a native chat endpoint.
func MessagesToPrompt(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case System:
			b.WriteString("System: ")
		case User:
			b.WriteString("User: ")
		case Assistant:
			b.WriteString("Assistant: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}
