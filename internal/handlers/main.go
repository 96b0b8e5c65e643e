package handlers

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	kbwebui "github.com/northlight-labs/kb-web-ui"
	"github.com/northlight-labs/kb-web-ui/internal/liveness"
	"github.com/northlight-labs/kb-web-ui/internal/metrics"
	"github.com/northlight-labs/kb-web-ui/internal/models"
	"github.com/northlight-labs/kb-web-ui/internal/services"
	"github.com/tmaxmax/go-sse"
)

// Backend represents the knowledge-base service interface that answers questions and ingests
// documents. Query accepts a context and a request, returning an iterator that yields decoded
// stream events and potential errors.
type Backend interface {
	Query(ctx context.Context, req services.QueryRequest) iter.Seq2[services.StreamEvent, error]
	Upload(ctx context.Context, filename string, size int64, file io.Reader,
		onProgress services.UploadProgress) services.UploadResult
}

// Store defines the interface for managing chat and message persistence. It provides methods for
// creating, reading, and updating chats and their associated messages. The interface supports both
// atomic operations and bulk retrieval of chats and messages.
type Store interface {
	Chats(ctx context.Context) ([]models.Chat, error)
	AddChat(ctx context.Context, chat models.Chat) (string, error)
	UpdateChat(ctx context.Context, chat models.Chat) error

	Messages(ctx context.Context, chatID string) ([]models.Message, error)
	AddMessage(ctx context.Context, chatID string, message models.Message) (string, error)
	UpdateMessage(ctx context.Context, chatID string, message models.Message) error
}

// Liveness reports whether the backend is reachable. Snapshot returns the current reading, Updates
// delivers every change, and Retry restarts the availability checks after the backend was declared
// offline.
type Liveness interface {
	Snapshot() liveness.Snapshot
	Updates() <-chan liveness.Snapshot
	Retry()
}

// Main handles the core functionality of the web UI, managing server-sent events, HTML templates,
// and interactions between the knowledge-base backend and the Store.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	backend Backend
	store   Store
	monitor Liveness

	active *activeJobs

	logger *slog.Logger
}

const (
	chatsSSETopic  = "chats"
	statusSSETopic = "status"
)

const errLoggerKey = "err"

// NewMain creates a new Main instance with the provided backend, store, and liveness monitor. It
// initializes the SSE server with default configurations and parses the required HTML templates
// from the embedded filesystem. The SSE server is configured to handle both default events and
// per-message and per-upload topics.
func NewMain(backend Backend, store Store, monitor Liveness, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		kbwebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				// We start with default topics that all clients should subscribe to
				topics := []string{sse.DefaultTopic, chatsSSETopic, statusSSETopic}

				// We create a message-specific topic if the client requests updates for a particular message
				messageID := s.Req.URL.Query().Get("message_id")
				if messageID != "" {
					topics = append(topics, messageIDTopic(messageID))
				}

				// Likewise for a running upload
				uploadID := s.Req.URL.Query().Get("upload_id")
				if uploadID != "" {
					topics = append(topics, uploadIDTopic(uploadID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates: tmpl,
		backend:   backend,
		store:     store,
		monitor:   monitor,
		active:    newActiveJobs(),
		logger:    logger.With(slog.String("module", "handlers")),
	}, nil
}

func messageIDTopic(messageID string) string {
	return fmt.Sprintf("message-%s", messageID)
}

func uploadIDTopic(uploadID string) string {
	return fmt.Sprintf("upload-%s", uploadID)
}

// HandleSSE serves the server-sent events endpoint clients subscribe to for chat list updates,
// availability changes, streamed answers, and upload progress.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

type statusBanner struct {
	Status  string
	Elapsed int
}

// StartStatusPump forwards availability updates from the liveness monitor to connected clients. It
// returns immediately; forwarding stops when the monitor is disposed.
func (m Main) StartStatusPump() {
	go func() {
		last := m.monitor.Snapshot().Status
		for snap := range m.monitor.Updates() {
			if snap.Status != last {
				metrics.ObserveStatus(string(snap.Status))
				last = snap.Status
			}
			m.publishStatus(snap)
		}
	}()
}

func (m Main) publishStatus(snap liveness.Snapshot) {
	var sb strings.Builder
	err := m.templates.ExecuteTemplate(&sb, "status_banner", statusBanner{
		Status:  string(snap.Status),
		Elapsed: snap.Elapsed,
	})
	if err != nil {
		m.logger.Error("Failed to execute status_banner template",
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: statusSSEType}
	msg.AppendData(sb.String())
	if err := m.sseSrv.Publish(&msg, statusSSETopic); err != nil {
		m.logger.Error("Failed to publish status",
			slog.String(errLoggerKey, err.Error()))
	}
}

// Shutdown gracefully terminates the Main instance. Streams and uploads still in flight are
// cancelled, a close message is broadcast to all connected clients, and the SSE server waits up to
// 5 seconds for connections to terminate. After the timeout, any remaining connections are
// forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.active.cancelAll()

	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
