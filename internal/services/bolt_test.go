package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/northlight-labs/kb-web-ui/internal/models"
)

func testBoltDB(t *testing.T) BoltDB {
	t.Helper()

	db, err := NewBoltDB(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Failed to create bolt db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBoltDBChats(t *testing.T) {
	db := testBoltDB(t)
	ctx := context.Background()

	// More than nine chats so ordering depends on the zero-padded sequence prefix.
	var ids []string
	for i := 0; i < 12; i++ {
		id, err := db.AddChat(ctx, models.Chat{ID: fmt.Sprintf("c%d", i), Title: fmt.Sprintf("Chat %d", i)})
		if err != nil {
			t.Fatalf("Failed to add chat %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	chats, err := db.Chats(ctx)
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if len(chats) != 12 {
		t.Fatalf("Chats() returned %d chats, want 12", len(chats))
	}
	// Newest first.
	for i, chat := range chats {
		wantID := ids[len(ids)-1-i]
		if chat.ID != wantID {
			t.Errorf("chats[%d].ID = %q, want %q", i, chat.ID, wantID)
		}
	}
}

func TestBoltDBUpdateChat(t *testing.T) {
	db := testBoltDB(t)
	ctx := context.Background()

	id, err := db.AddChat(ctx, models.Chat{ID: "c1", Title: "New Chat"})
	if err != nil {
		t.Fatalf("Failed to add chat: %v", err)
	}

	if err := db.UpdateChat(ctx, models.Chat{ID: id, Title: "Renamed"}); err != nil {
		t.Fatalf("Failed to update chat: %v", err)
	}

	chats, err := db.Chats(ctx)
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if len(chats) != 1 || chats[0].Title != "Renamed" {
		t.Errorf("Chats() = %+v, want single chat titled Renamed", chats)
	}

	// Updating an unknown chat is silently ignored.
	if err := db.UpdateChat(ctx, models.Chat{ID: "missing", Title: "x"}); err != nil {
		t.Errorf("UpdateChat() with unknown ID returned error: %v", err)
	}
}

func TestBoltDBMessages(t *testing.T) {
	db := testBoltDB(t)
	ctx := context.Background()

	chatID, err := db.AddChat(ctx, models.Chat{ID: "c1", Title: "New Chat"})
	if err != nil {
		t.Fatalf("Failed to add chat: %v", err)
	}

	userID, err := db.AddMessage(ctx, chatID, models.Message{
		ID:        "u1",
		Role:      models.RoleUser,
		Content:   "What is the answer?",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Failed to add user message: %v", err)
	}

	aiID, err := db.AddMessage(ctx, chatID, models.Message{
		ID:             "a1",
		Role:           models.RoleAssistant,
		Timestamp:      time.Now(),
		StreamingState: models.StreamingStateLoading,
	})
	if err != nil {
		t.Fatalf("Failed to add assistant message: %v", err)
	}

	final := models.Message{
		ID:       aiID,
		Role:     models.RoleAssistant,
		Content:  "The answer is 42.",
		Provider: "groq",
		Sources: []models.Source{
			{Source: "guide.pdf", Page: 3, ChunkID: "c-9", Similarity: 0.87},
		},
	}
	if err := db.UpdateMessage(ctx, chatID, final); err != nil {
		t.Fatalf("Failed to update message: %v", err)
	}

	messages, err := db.Messages(ctx, chatID)
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Messages() returned %d messages, want 2", len(messages))
	}
	if messages[0].ID != userID || messages[0].Role != models.RoleUser {
		t.Errorf("messages[0] = %+v, want the user message first", messages[0])
	}
	if messages[1].Content != "The answer is 42." || messages[1].Provider != "groq" {
		t.Errorf("messages[1] = %+v, want updated content and provider", messages[1])
	}
	if len(messages[1].Sources) != 1 || messages[1].Sources[0].Source != "guide.pdf" {
		t.Errorf("messages[1].Sources = %+v, want guide.pdf", messages[1].Sources)
	}
	if messages[1].StreamingState != "" {
		t.Errorf("messages[1].StreamingState = %q, want empty after reload", messages[1].StreamingState)
	}
}

func TestBoltDBUpdateMessageMissing(t *testing.T) {
	db := testBoltDB(t)
	ctx := context.Background()

	chatID, err := db.AddChat(ctx, models.Chat{ID: "c1", Title: "New Chat"})
	if err != nil {
		t.Fatalf("Failed to add chat: %v", err)
	}

	if err := db.UpdateMessage(ctx, chatID, models.Message{ID: "missing", Content: "x"}); err != nil {
		t.Errorf("UpdateMessage() with unknown ID returned error: %v", err)
	}

	messages, err := db.Messages(ctx, chatID)
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("Messages() returned %d messages, want 0", len(messages))
	}
}
