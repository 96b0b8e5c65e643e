package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/northlight-labs/kb-web-ui/internal/liveness"
	"github.com/northlight-labs/kb-web-ui/internal/metrics"
	"github.com/northlight-labs/kb-web-ui/internal/models"
	"github.com/northlight-labs/kb-web-ui/internal/services"
	"github.com/northlight-labs/kb-web-ui/internal/stream"
	"github.com/northlight-labs/kb-web-ui/internal/transcript"
	"github.com/tmaxmax/go-sse"
)

type chat struct {
	ID    string
	Title string

	Active bool
}

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Sources   []models.Source
	Provider  string
	Timestamp time.Time

	StreamingState string
}

// SSE event types for real-time updates.
var (
	chatsSSEType    = sse.Type("chats")
	messagesSSEType = sse.Type("messages")
	statusSSEType   = sse.Type("status")
	uploadsSSEType  = sse.Type("uploads")
)

// connectFailureText replaces an assistant message whose stream broke before any content arrived.
const connectFailureText = "Unable to connect to the knowledge base. " +
	"Please make sure the backend is running and try again."

// historyWindow caps how many prior messages accompany a question so follow-ups stay cheap.
const historyWindow = 10

// splitThreshold is the content length above which a frame is split into word tokens before
// drainage, so a burst of text does not jump onto the screen in one piece.
const splitThreshold = 20

func viewMessage(msg models.Message) message {
	state := msg.StreamingState
	if state == "" {
		state = models.StreamingStateEnded
	}
	return message{
		ID:             msg.ID,
		Role:           string(msg.Role),
		Content:        models.RenderMarkdown(msg.Content),
		Sources:        msg.Sources,
		Provider:       msg.Provider,
		Timestamp:      msg.Timestamp,
		StreamingState: state,
	}
}

// HandleChats processes question submissions through HTTP POST requests, managing both new chat
// creation and the streaming answer pipeline. It accepts the question through form data, creates
// the chat context when needed, and starts the asynchronous stream that feeds the assistant
// message through Server-Sent Events.
//
// The handler expects a "message" form field and an optional "chat_id" field. If no chat_id is
// provided, it creates a new chat titled after the question. Questions are rejected with 503 while
// the backend is not online, and with 409 while an answer is still streaming for the same chat.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")
	if msg == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	if snap := m.monitor.Snapshot(); snap.Status != liveness.StatusOnline {
		m.logger.Warn("Rejected question while backend is unavailable",
			slog.String("status", string(snap.Status)))
		http.Error(w, "Knowledge base is not available", http.StatusServiceUnavailable)
		return
	}

	var err error

	chatID := r.FormValue("chat_id")
	// We track if this is a new chat to determine the appropriate template rendering strategy
	isNewChat := false
	if chatID == "" {
		chatID, err = m.newChat(msg)
		if err != nil {
			m.logger.Error("Failed to create new chat", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		isNewChat = true
	}

	history, err := m.store.Messages(r.Context(), chatID)
	if err != nil {
		m.logger.Error("Failed to get messages",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if !m.active.addStream(chatID, cancel) {
		cancel()
		m.logger.Warn("Rejected question while an answer is still streaming",
			slog.String("chatID", chatID))
		http.Error(w, "An answer is still streaming for this chat", http.StatusConflict)
		return
	}

	// We create two messages: the user's question and a placeholder the answer streams into. The
	// store re-keys messages on insert, so the returned IDs are the ones every later lookup and
	// SSE topic must use.
	um, am := transcript.NewExchange(msg)
	userMsgID, err := m.store.AddMessage(r.Context(), chatID, um)
	if err != nil {
		m.active.removeStream(chatID)
		m.logger.Error("Failed to add user message",
			slog.String("message", fmt.Sprintf("%+v", um)),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	um.ID = userMsgID

	aiMsgID, err := m.store.AddMessage(r.Context(), chatID, am)
	if err != nil {
		m.active.removeStream(chatID)
		m.logger.Error("Failed to add AI message",
			slog.String("message", fmt.Sprintf("%+v", am)),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	am.ID = aiMsgID

	tr := transcript.New(history)
	tr.Append(um, am)

	// Start the async stream that fills the assistant message
	go m.streamAnswer(ctx, chatID, tr, aiMsgID, msg, chatHistory(history))

	if isNewChat {
		// For new chats, we render the whole chatbox so the page swaps in the conversation view
		msgs := make([]message, 0, len(history)+2)
		for _, hm := range history {
			msgs = append(msgs, viewMessage(hm))
		}
		msgs = append(msgs, viewMessage(um), viewMessage(am))

		data := homePageData{
			CurrentChatID: chatID,
			Messages:      msgs,
		}
		err = m.templates.ExecuteTemplate(w, "chatbox", data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	err = m.templates.ExecuteTemplate(w, "user_message", viewMessage(um))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = m.templates.ExecuteTemplate(w, "ai_message", viewMessage(am))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) newChat(firstMessage string) (string, error) {
	newChat := models.Chat{
		ID:    uuid.New().String(),
		Title: chatTitle(firstMessage),
	}
	newChatID, err := m.store.AddChat(context.Background(), newChat)
	if err != nil {
		return "", fmt.Errorf("failed to add chat: %w", err)
	}
	newChat.ID = newChatID

	divs, err := m.chatDivs(newChat.ID)
	if err != nil {
		return "", fmt.Errorf("failed to create chat divs: %w", err)
	}

	msg := sse.Message{
		Type: chatsSSEType,
	}
	msg.AppendData(divs)

	if err := m.sseSrv.Publish(&msg, chatsSSETopic); err != nil {
		return "", fmt.Errorf("failed to publish chats: %w", err)
	}

	return newChat.ID, nil
}

// chatTitle derives a sidebar title from the first question.
func chatTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	runes := []rune(title)
	if len(runes) > 40 {
		title = string(runes[:40]) + "…"
	}
	return title
}

// chatHistory converts the most recent stored messages into the prior-turns payload the backend
// uses to resolve follow-up questions. Messages without content, such as a placeholder left behind
// by an interrupted stream, are skipped.
func chatHistory(messages []models.Message) []services.HistoryEntry {
	start := 0
	if len(messages) > historyWindow {
		start = len(messages) - historyWindow
	}

	var entries []services.HistoryEntry
	for _, msg := range messages[start:] {
		if msg.Content == "" {
			continue
		}
		entries = append(entries, services.HistoryEntry{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return entries
}

// streamAnswer runs the backend query and feeds the assistant message. Decoded frames land in the
// smoothing queue and reach the transcript at the drainer's cadence. The function returns when the
// response stream ends; drainage may still be running then and settles the message on its own.
func (m Main) streamAnswer(
	ctx context.Context,
	chatID string,
	tr *transcript.Transcript,
	aiMsgID, question string,
	history []services.HistoryEntry,
) {
	queue := stream.NewQueue(stream.WhitespaceSplit(splitThreshold))
	drainer := stream.NewDrainer(aiMsgID, queue, messageSink{m: m, chatID: chatID, tr: tr}, 0)

	doneSeen := false
	it := m.backend.Query(ctx, services.QueryRequest{
		Question:    question,
		ChatHistory: history,
	})
	for ev, err := range it {
		if err != nil {
			m.logger.Error("Error from knowledge base", slog.String(errLoggerKey, err.Error()))
			m.failStream(chatID, tr, drainer, aiMsgID, "error")
			return
		}

		metrics.ObserveFrame(ev.Type)

		switch ev.Type {
		case services.StreamEventStatus:
			if tr.SetState(aiMsgID, models.StreamingStateThinking) {
				m.publishMessage(tr, aiMsgID)
			}
		case services.StreamEventToken:
			queue.EnqueueContent(ev.Content)
			drainer.Start()
		case services.StreamEventDone:
			queue.EnqueueDone(ev.Sources, ev.Provider)
			drainer.Start()
			doneSeen = true
		}
	}

	if ctx.Err() != nil {
		m.failStream(chatID, tr, drainer, aiMsgID, "cancelled")
		return
	}

	if !doneSeen {
		// The backend closed the stream without a terminal frame. Finish the message with what
		// arrived so the drain timer still stops.
		queue.EnqueueDone(nil, "")
		drainer.Start()
	}
}

// messageSink applies drained items to the transcript and re-renders the assistant message for
// subscribers after every change.
type messageSink struct {
	m      Main
	chatID string
	tr     *transcript.Transcript
}

func (s messageSink) ApplyToken(messageID, fragment string) {
	if !s.tr.ApplyToken(messageID, fragment) {
		return
	}
	metrics.ObserveTokenDrained()
	s.m.publishMessage(s.tr, messageID)
}

func (s messageSink) ApplyDone(messageID string, sources []models.Source, provider string) {
	if !s.tr.ApplyDone(messageID, sources, provider) {
		return
	}
	s.m.finishStream(s.chatID, s.tr, messageID, "success")
}

// failStream settles an assistant message whose stream broke or was cancelled. The drainer stops
// and everything still queued is discarded; content already applied stays, and a message that got
// nothing shows the connection notice instead.
func (m Main) failStream(
	chatID string,
	tr *transcript.Transcript,
	drainer *stream.Drainer,
	aiMsgID, outcome string,
) {
	drainer.Abort()

	// The done item may have drained in the window before the abort landed; the answer is
	// complete then and there is nothing to settle.
	if msg, ok := tr.Message(aiMsgID); ok && msg.StreamingState == models.StreamingStateEnded {
		return
	}
	tr.Fail(aiMsgID, connectFailureText)

	m.finishStream(chatID, tr, aiMsgID, outcome)
}

// finishStream persists the final assistant message, renders it one last time, tells the
// message's subscribers the stream is over, and releases the chat for the next question.
func (m Main) finishStream(chatID string, tr *transcript.Transcript, aiMsgID, outcome string) {
	if msg, ok := tr.Message(aiMsgID); ok {
		if err := m.store.UpdateMessage(context.Background(), chatID, msg); err != nil {
			m.logger.Error("Failed to update message",
				slog.String("message", fmt.Sprintf("%+v", msg)),
				slog.String(errLoggerKey, err.Error()))
		}
	}

	m.publishMessage(tr, aiMsgID)

	e := &sse.Message{Type: sse.Type("closeMessage")}
	e.AppendData("bye")
	_ = m.sseSrv.Publish(e, messageIDTopic(aiMsgID))

	m.active.removeStream(chatID)
	metrics.ObserveQuery(outcome)
}

func (m Main) publishMessage(tr *transcript.Transcript, messageID string) {
	msg, ok := tr.Message(messageID)
	if !ok {
		return
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "ai_message", viewMessage(msg)); err != nil {
		m.logger.Error("Failed to execute ai_message template",
			slog.String("messageID", messageID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	e := sse.Message{
		Type: messagesSSEType,
	}
	e.AppendData(sb.String())
	if err := m.sseSrv.Publish(&e, messageIDTopic(messageID)); err != nil {
		m.logger.Error("Failed to publish message",
			slog.String("messageID", messageID),
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) chatDivs(activeID string) (string, error) {
	chats, err := m.store.Chats(context.Background())
	if err != nil {
		return "", fmt.Errorf("failed to get chats: %w", err)
	}

	var sb strings.Builder
	for _, ch := range chats {
		err := m.templates.ExecuteTemplate(&sb, "chat_title", chat{
			ID:     ch.ID,
			Title:  ch.Title,
			Active: ch.ID == activeID,
		})
		if err != nil {
			return "", fmt.Errorf("failed to execute chat_title template: %w", err)
		}
	}
	return sb.String(), nil
}
