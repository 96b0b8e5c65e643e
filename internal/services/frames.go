package services

import (
	"encoding/json"
	"strings"

	"github.com/northlight-labs/kb-web-ui/internal/models"
)

// StreamEvent is a single decoded frame from the backend's answer stream. The backend emits three
// frame types: "status" frames describing retrieval progress, "token" frames carrying an answer
// fragment in Content, and a terminal "done" frame carrying the grounding Sources and the Provider
// that generated the answer.
type StreamEvent struct {
	Type     string          `json:"type"`
	Content  string          `json:"content,omitempty"`
	Sources  []models.Source `json:"sources,omitempty"`
	Provider string          `json:"provider,omitempty"`
}

// Frame types emitted by the backend.
const (
	StreamEventStatus = "status"
	StreamEventToken  = "token"
	StreamEventDone   = "done"
)

const framePrefix = "data: "

// frameDecoder reassembles complete wire frames from arbitrarily chunked reads. The backend writes
// frames as "data: <json>\n\n"; network reads may split a frame anywhere, including inside the
// delimiter, so the decoder carries the unterminated tail between feeds.
type frameDecoder struct {
	buf string
}

// feed consumes one read chunk and returns every frame completed by it, in wire order. Each
// completed segment is trimmed of surrounding whitespace before matching, so stray blank lines
// between frames are ignored. Segments without the "data: " prefix, with an empty payload, or with
// a payload that fails to parse as JSON are skipped without affecting later frames. A frame never
// terminated by a blank line is never returned; callers that hit EOF simply stop feeding and the
// tail is discarded with the decoder.
func (d *frameDecoder) feed(chunk string) []StreamEvent {
	parts := strings.Split(d.buf+chunk, "\n\n")
	d.buf = parts[len(parts)-1]

	var events []StreamEvent
	for _, raw := range parts[:len(parts)-1] {
		raw = strings.TrimSpace(raw)
		if !strings.HasPrefix(raw, framePrefix) {
			continue
		}
		payload := strings.TrimSpace(raw[len(framePrefix):])
		if payload == "" {
			continue
		}
		var ev StreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events
}
