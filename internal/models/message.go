package models

import "time"

// Message represents an individual communication entry within a chat. Assistant messages are created
// empty and filled incrementally while the backend streams an answer; StreamingState tracks where in
// that lifecycle the message currently is.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Sources   []Source
	Provider  string
	Timestamp time.Time

	// StreamingState is never persisted; a message read back from storage is always final.
	StreamingState string `json:"-"`
}

const (
	// StreamingStateLoading marks an assistant message that has been created but has not received
	// anything from the backend yet.
	StreamingStateLoading = "loading"
	// StreamingStateThinking marks an assistant message whose backend is retrieving context before
	// producing tokens.
	StreamingStateThinking = "thinking"
	// StreamingStateStreaming marks an assistant message that is receiving answer tokens.
	StreamingStateStreaming = "streaming"
	// StreamingStateEnded marks a message whose content is final. Ended content is never mutated again.
	StreamingStateEnded = "ended"
)

// Streaming reports whether the message is still waiting for or receiving content.
func (m Message) Streaming() bool {
	return m.StreamingState != "" && m.StreamingState != StreamingStateEnded
}
