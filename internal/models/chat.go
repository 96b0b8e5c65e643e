package models

// Chat represents a conversation container in the chat system. It provides basic identification and
// labeling capabilities for organizing message threads.
type Chat struct {
	ID    string
	Title string
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a user message.
	RoleUser Role = "user"
	// RoleAssistant represents an assistant message. A message with this role carries the answer text
	// streamed from the knowledge base, and once the answer completes, the sources it was grounded on.
	RoleAssistant Role = "assistant"
)

// Source identifies a knowledge-base chunk that contributed to an answer. The JSON field names mirror
// the backend's retrieval payload.
type Source struct {
	Source     string  `json:"source"`
	Page       int     `json:"page,omitempty"`
	ChunkID    string  `json:"chunk_id,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
	Text       string  `json:"text,omitempty"`
}
