package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
)

// activeJobs tracks the cancel functions of work that can be aborted from another request: one
// streaming answer per chat, any number of uploads. A chat admits only one stream at a time so two
// drains can never interleave writes into the same transcript.
type activeJobs struct {
	mu      sync.Mutex
	streams map[string]context.CancelFunc
	uploads map[string]context.CancelFunc
}

func newActiveJobs() *activeJobs {
	return &activeJobs{
		streams: make(map[string]context.CancelFunc),
		uploads: make(map[string]context.CancelFunc),
	}
}

// addStream registers a stream for the chat and reports whether the slot was free.
func (a *activeJobs) addStream(chatID string, cancel context.CancelFunc) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.streams[chatID]; ok {
		return false
	}
	a.streams[chatID] = cancel
	return true
}

// removeStream evicts the chat's slot and releases the stream's context. Evicting a chat with no
// registered stream is a no-op.
func (a *activeJobs) removeStream(chatID string) {
	a.mu.Lock()
	cancel, ok := a.streams[chatID]
	delete(a.streams, chatID)
	a.mu.Unlock()
	if ok {
		cancel()
	}
}

// cancelStream aborts the chat's stream and reports whether one was running.
func (a *activeJobs) cancelStream(chatID string) bool {
	a.mu.Lock()
	cancel, ok := a.streams[chatID]
	a.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (a *activeJobs) addUpload(uploadID string, cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.uploads[uploadID] = cancel
}

// removeUpload evicts the upload's entry and releases its context.
func (a *activeJobs) removeUpload(uploadID string) {
	a.mu.Lock()
	cancel, ok := a.uploads[uploadID]
	delete(a.uploads, uploadID)
	a.mu.Unlock()
	if ok {
		cancel()
	}
}

// cancelUpload aborts the upload and reports whether one was running.
func (a *activeJobs) cancelUpload(uploadID string) bool {
	a.mu.Lock()
	cancel, ok := a.uploads[uploadID]
	a.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (a *activeJobs) cancelAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, cancel := range a.streams {
		cancel()
	}
	for _, cancel := range a.uploads {
		cancel()
	}
}

// HandleChatCancel aborts the answer currently streaming for a chat. Content already applied to
// the assistant message stays; everything still queued is discarded. Cancelling a chat with no
// running stream is a no-op.
func (m Main) HandleChatCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := r.FormValue("chat_id")
	if chatID == "" {
		m.logger.Error("Chat ID is required")
		http.Error(w, "Chat ID is required", http.StatusBadRequest)
		return
	}

	if !m.active.cancelStream(chatID) {
		m.logger.Warn("No stream to cancel", slog.String("chatID", chatID))
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUploadCancel aborts a running upload. The upload's own request answers with the cancelled
// outcome, so this endpoint only has to fire the signal.
func (m Main) HandleUploadCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uploadID := r.FormValue("upload_id")
	if uploadID == "" {
		m.logger.Error("Upload ID is required")
		http.Error(w, "Upload ID is required", http.StatusBadRequest)
		return
	}

	if !m.active.cancelUpload(uploadID) {
		m.logger.Warn("No upload to cancel", slog.String("uploadID", uploadID))
	}
	w.WriteHeader(http.StatusNoContent)
}
