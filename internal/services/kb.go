package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
)

// KnowledgeBase provides access to the retrieval backend that answers questions from ingested
// documents. It exposes a health probe, a streaming query, and document uploads. All methods are
// safe for concurrent use.
type KnowledgeBase struct {
	baseURL string
	project string
	apiKey  string

	client *http.Client

	logger *slog.Logger
}

// QueryRequest is the body of a streaming query. ChatHistory carries the recent turns of the
// conversation so the backend can resolve follow-up questions; TopK and Threshold tune retrieval
// and fall back to backend defaults when zero.
type QueryRequest struct {
	Question       string         `json:"question"`
	TopK           int            `json:"top_k,omitempty"`
	Threshold      float64        `json:"threshold,omitempty"`
	ChatHistory    []HistoryEntry `json:"chat_history,omitempty"`
	ConversationID int64          `json:"conversation_id,omitempty"`
}

// HistoryEntry is one prior conversation turn, oldest first.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewKnowledgeBase creates a client for the backend at baseURL. When project is non-empty, queries
// are scoped to that project's documents. When apiKey is non-empty, it is forwarded so the backend
// can use the caller's own LLM quota.
func NewKnowledgeBase(baseURL, project, apiKey string, logger *slog.Logger) KnowledgeBase {
	return KnowledgeBase{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		project: project,
		apiKey:  apiKey,
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "kb")),
	}
}

// Health probes the backend's health endpoint. Any 2xx status counts as alive; everything else,
// including transport failures, is reported as an error. The caller bounds the probe through ctx.
func (k KnowledgeBase) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("error probing health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("health returned status %d", resp.StatusCode)
	}
	return nil
}

func (k KnowledgeBase) queryURL() string {
	if k.project != "" {
		return k.baseURL + "/api/projects/" + k.project + "/query"
	}
	return k.baseURL + "/api/query"
}

// Query sends a question to the backend and returns an iterator over the decoded answer stream.
// The iterator yields status, token, and done events in arrival order and stops after the response
// body ends; a partial frame left at that point is discarded. The context can be used to cancel
// the request, which ends the iteration without yielding an error.
func (k KnowledgeBase) Query(ctx context.Context, queryReq QueryRequest) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		jsonBody, err := json.Marshal(queryReq)
		if err != nil {
			yield(StreamEvent{}, fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.queryURL(), bytes.NewBuffer(jsonBody))
		if err != nil {
			yield(StreamEvent{}, fmt.Errorf("error creating request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if k.apiKey != "" {
			req.Header.Set("X-Groq-API-Key", k.apiKey)
		}

		resp, err := k.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(StreamEvent{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			yield(StreamEvent{}, fmt.Errorf("query returned status %d: %s",
				resp.StatusCode, strings.TrimSpace(string(detail))))
			return
		}

		dec := &frameDecoder{}
		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				for _, ev := range dec.feed(string(buf[:n])) {
					k.logger.Debug("Received event",
						slog.String("type", ev.Type),
					)
					if !yield(ev, nil) {
						return
					}
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return
				}
				yield(StreamEvent{}, fmt.Errorf("error reading response: %w", err))
				return
			}
		}
	}
}
