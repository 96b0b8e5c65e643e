package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// UploadState classifies how an upload ended. A cancelled upload is deliberately distinct from a
// failed one so the caller can show a neutral notice instead of an error.
type UploadState string

const (
	// UploadCompleted means the backend ingested the file.
	UploadCompleted UploadState = "completed"
	// UploadFailed means the transfer or the backend's processing failed.
	UploadFailed UploadState = "failed"
	// UploadCancelled means the caller aborted the transfer.
	UploadCancelled UploadState = "cancelled"
)

// UploadResult is the outcome of an Upload call. Source and ChunksCreated are only meaningful when
// State is UploadCompleted.
type UploadResult struct {
	State         UploadState
	Message       string
	Source        string
	ChunksCreated int
}

// UploadProgress receives the transferred byte count as the upload body is written to the backend.
// Multipart routes count file bytes against the announced file size; the text route counts the
// JSON envelope it actually sends.
type UploadProgress func(sent, total int64)

type uploadResponse struct {
	Message       string `json:"message"`
	Source        string `json:"source"`
	ChunksCreated int    `json:"chunks_created"`
}

type backendError struct {
	Detail string `json:"detail"`
}

var audioExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".webm": true,
}

// Upload sends a file to the backend for ingestion, choosing the processing route from the file
// extension: PDFs and audio recordings go up as multipart bodies, anything else is read and sent
// to the plain-text route. Progress is reported through onProgress as the transfer advances.
// Cancelling ctx aborts the transfer and yields an UploadCancelled result.
func (k KnowledgeBase) Upload(
	ctx context.Context,
	filename string,
	size int64,
	file io.Reader,
	onProgress UploadProgress,
) UploadResult {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case ext == ".pdf":
		return k.uploadMultipart(ctx, k.baseURL+"/api/upload/pdf", filename, size, file, onProgress)
	case audioExtensions[ext]:
		return k.uploadMultipart(ctx, k.baseURL+"/api/upload/audio", filename, size, file, onProgress)
	default:
		return k.uploadText(ctx, filename, file, onProgress)
	}
}

func (k KnowledgeBase) uploadMultipart(
	ctx context.Context,
	url, filename string,
	size int64,
	file io.Reader,
	onProgress UploadProgress,
) UploadResult {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		counted := &progressReader{r: file, total: size, fn: onProgress}
		if _, err := io.Copy(part, counted); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return UploadResult{State: UploadFailed, Message: fmt.Sprintf("error creating request: %v", err)}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return k.doUpload(ctx, req)
}

func (k KnowledgeBase) uploadText(
	ctx context.Context,
	filename string,
	file io.Reader,
	onProgress UploadProgress,
) UploadResult {
	content, err := io.ReadAll(file)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return UploadResult{State: UploadCancelled, Message: "Upload cancelled"}
		}
		return UploadResult{State: UploadFailed, Message: fmt.Sprintf("error reading file: %v", err)}
	}

	title := strings.TrimSuffix(filename, filepath.Ext(filename))
	jsonBody, err := json.Marshal(map[string]string{
		"content": string(content),
		"title":   title,
	})
	if err != nil {
		return UploadResult{State: UploadFailed, Message: fmt.Sprintf("error marshaling request: %v", err)}
	}

	// The envelope is the wire body, so progress has to measure it, not the raw file size.
	body := &progressReader{r: bytes.NewReader(jsonBody), total: int64(len(jsonBody)), fn: onProgress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+"/api/upload/text", body)
	if err != nil {
		return UploadResult{State: UploadFailed, Message: fmt.Sprintf("error creating request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	return k.doUpload(ctx, req)
}

func (k KnowledgeBase) doUpload(ctx context.Context, req *http.Request) UploadResult {
	resp, err := k.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return UploadResult{State: UploadCancelled, Message: "Upload cancelled"}
		}
		return UploadResult{State: UploadFailed, Message: fmt.Sprintf("error sending request: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		var e backendError
		msg := strings.TrimSpace(string(detail))
		if err := json.Unmarshal(detail, &e); err == nil && e.Detail != "" {
			msg = e.Detail
		}
		return UploadResult{
			State:   UploadFailed,
			Message: fmt.Sprintf("upload returned status %d: %s", resp.StatusCode, msg),
		}
	}

	var uploadResp uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		return UploadResult{State: UploadFailed, Message: fmt.Sprintf("error unmarshaling response: %v", err)}
	}

	return UploadResult{
		State:         UploadCompleted,
		Message:       uploadResp.Message,
		Source:        uploadResp.Source,
		ChunksCreated: uploadResp.ChunksCreated,
	}
}

type progressReader struct {
	r     io.Reader
	total int64
	sent  int64
	fn    UploadProgress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}
