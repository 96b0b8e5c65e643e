package handlers

import (
	"log/slog"
	"net/http"
)

type homePageData struct {
	Chats         []chat
	CurrentChatID string
	Messages      []message
	Status        statusBanner
}

// HandleHome renders the main page with the chat list, the current conversation when a chat_id
// query parameter selects one, and the backend's availability banner.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	chats, err := m.store.Chats(r.Context())
	if err != nil {
		m.logger.Error("Failed to get chats", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	currentChatID := r.URL.Query().Get("chat_id")
	var msgs []message
	if currentChatID != "" {
		messages, err := m.store.Messages(r.Context(), currentChatID)
		if err != nil {
			m.logger.Error("Failed to get messages",
				slog.String("chatID", currentChatID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		msgs = make([]message, len(messages))
		for i := range messages {
			msgs[i] = viewMessage(messages[i])
		}
	}

	chatList := make([]chat, len(chats))
	for i, ch := range chats {
		chatList[i] = chat{
			ID:     ch.ID,
			Title:  ch.Title,
			Active: ch.ID == currentChatID,
		}
	}

	snap := m.monitor.Snapshot()
	data := homePageData{
		Chats:         chatList,
		CurrentChatID: currentChatID,
		Messages:      msgs,
		Status: statusBanner{
			Status:  string(snap.Status),
			Elapsed: snap.Elapsed,
		},
	}

	err = m.templates.ExecuteTemplate(w, "home.html", data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
