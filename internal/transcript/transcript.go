// Package transcript maintains the live message list of a chat while an answer streams in. It is
// the single writer of message content between the moment a question is submitted and the moment
// the finished answer is persisted.
package transcript

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/northlight-labs/kb-web-ui/internal/models"
)

// Transcript is an id-addressed list of messages. All methods are safe for concurrent use.
// Mutations addressed to an unknown message ID, or to a message that already ended, are ignored;
// the boolean returns report whether anything was changed.
type Transcript struct {
	mu       sync.Mutex
	messages []models.Message
	index    map[string]int
}

// New creates a transcript seeded with the chat's existing messages.
func New(initial []models.Message) *Transcript {
	t := &Transcript{
		messages: slices.Clone(initial),
		index:    make(map[string]int, len(initial)),
	}
	for i, m := range t.messages {
		t.index[m.ID] = i
	}
	return t
}

// NewExchange builds the message pair for one submission: the user's question, final from the
// start, and the assistant's placeholder waiting for the stream.
func NewExchange(userText string) (models.Message, models.Message) {
	now := time.Now()
	user := models.Message{
		ID:             uuid.New().String(),
		Role:           models.RoleUser,
		Content:        userText,
		Timestamp:      now,
		StreamingState: models.StreamingStateEnded,
	}
	assistant := models.Message{
		ID:             uuid.New().String(),
		Role:           models.RoleAssistant,
		Timestamp:      now,
		StreamingState: models.StreamingStateLoading,
	}
	return user, assistant
}

// Append adds messages to the end of the transcript in one atomic step.
func (t *Transcript) Append(messages ...models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range messages {
		t.index[m.ID] = len(t.messages)
		t.messages = append(t.messages, m)
	}
}

// Messages returns a copy of the current transcript.
func (t *Transcript) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.messages)
}

// Message returns the message with the given ID.
func (t *Transcript) Message(id string) (models.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok {
		return models.Message{}, false
	}
	return t.messages[i], true
}

// ApplyToken appends a fragment to the addressed message's content and marks it streaming.
func (t *Transcript) ApplyToken(id, fragment string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok || t.messages[i].StreamingState == models.StreamingStateEnded {
		return false
	}
	t.messages[i].Content += fragment
	t.messages[i].StreamingState = models.StreamingStateStreaming
	return true
}

// ApplyDone attaches the answer's sources and provider to the addressed message and ends it. The
// content present at that moment becomes final.
func (t *Transcript) ApplyDone(id string, sources []models.Source, provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok || t.messages[i].StreamingState == models.StreamingStateEnded {
		return false
	}
	t.messages[i].Sources = sources
	t.messages[i].Provider = provider
	t.messages[i].StreamingState = models.StreamingStateEnded
	return true
}

// SetState moves the addressed message to a new streaming state, for example when the backend
// reports that it is still retrieving context. Ended messages stay ended.
func (t *Transcript) SetState(id, state string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok || t.messages[i].StreamingState == models.StreamingStateEnded {
		return false
	}
	t.messages[i].StreamingState = state
	return true
}

// Fail ends the addressed message after a broken stream. When nothing has been applied to it yet,
// its content is replaced with fallback so the user sees what happened; content that did arrive is
// preserved as the final answer. The return reports whether the fallback was used.
func (t *Transcript) Fail(id, fallback string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok || t.messages[i].StreamingState == models.StreamingStateEnded {
		return false
	}
	replaced := false
	if t.messages[i].Content == "" {
		t.messages[i].Content = fallback
		replaced = true
	}
	t.messages[i].StreamingState = models.StreamingStateEnded
	return replaced
}
