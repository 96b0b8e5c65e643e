package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/northlight-labs/kb-web-ui/internal/metrics"
	"github.com/northlight-labs/kb-web-ui/internal/services"
	"github.com/tmaxmax/go-sse"
)

// progressInterval throttles progress publishes so large files do not flood subscribers.
const progressInterval = 150 * time.Millisecond

type uploadView struct {
	UploadID      string
	Filename      string
	State         string
	Message       string
	Source        string
	ChunksCreated int
}

type uploadProgressView struct {
	UploadID string
	Sent     int64
	Total    int64
	Percent  int
}

// HandleUpload ingests a document into the knowledge base. The file is forwarded to the backend
// while the request is held open; progress reaches the page through the upload's SSE topic and the
// response carries the rendered outcome. The form must provide the file under "file" and may pin
// the upload id under "upload_id" so the page can subscribe to progress before submitting.
func (m Main) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		m.logger.Error("File is required", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "File is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	uploadID := r.FormValue("upload_id")
	if uploadID == "" {
		uploadID = uuid.New().String()
	}

	// The upload also dies with the submitting request, so an abandoned page does not keep
	// feeding the backend.
	ctx, cancel := context.WithCancel(r.Context())
	m.active.addUpload(uploadID, cancel)
	defer m.active.removeUpload(uploadID)

	result := m.backend.Upload(ctx, header.Filename, header.Size, file, m.uploadProgress(uploadID))

	switch result.State {
	case services.UploadCompleted:
		metrics.ObserveUpload("success")
		m.logger.Info("Upload completed",
			slog.String("filename", header.Filename),
			slog.Int("chunks", result.ChunksCreated))
	case services.UploadCancelled:
		metrics.ObserveUpload("cancelled")
		m.logger.Info("Upload cancelled", slog.String("filename", header.Filename))
	case services.UploadFailed:
		metrics.ObserveUpload("error")
		m.logger.Error("Upload failed",
			slog.String("filename", header.Filename),
			slog.String(errLoggerKey, result.Message))
	}

	err = m.templates.ExecuteTemplate(w, "upload_result", uploadView{
		UploadID:      uploadID,
		Filename:      header.Filename,
		State:         string(result.State),
		Message:       result.Message,
		Source:        result.Source,
		ChunksCreated: result.ChunksCreated,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// uploadProgress returns a callback that publishes a rendered progress bar to the upload's topic.
// The transfer drives it from a single goroutine, so the throttle state needs no locking.
func (m Main) uploadProgress(uploadID string) services.UploadProgress {
	var last time.Time
	return func(sent, total int64) {
		if time.Since(last) < progressInterval && sent < total {
			return
		}
		last = time.Now()

		// Multipart totals are the client-announced file size, so the actual bytes can outrun them
		percent := 0
		if total > 0 {
			percent = min(int(sent*100/total), 100)
		}

		var sb strings.Builder
		err := m.templates.ExecuteTemplate(&sb, "upload_progress", uploadProgressView{
			UploadID: uploadID,
			Sent:     sent,
			Total:    total,
			Percent:  percent,
		})
		if err != nil {
			m.logger.Error("Failed to execute upload_progress template",
				slog.String(errLoggerKey, err.Error()))
			return
		}

		e := sse.Message{Type: uploadsSSEType}
		e.AppendData(sb.String())
		_ = m.sseSrv.Publish(&e, uploadIDTopic(uploadID))
	}
}
