// Package stream paces the delivery of answer fragments between the backend reader and the UI.
// Fragments are buffered in a FIFO queue and applied by a drainer at a fixed cadence, one item per
// tick, so large fragments surface as a steady typing motion instead of a single jump.
package stream

import (
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/northlight-labs/kb-web-ui/internal/models"
)

// ItemKind discriminates queued items.
type ItemKind int

const (
	// ItemToken carries one answer fragment.
	ItemToken ItemKind = iota
	// ItemDone marks the end of the answer and carries its closing metadata. It is always the last
	// item a queue ever yields.
	ItemDone
)

// Item is one unit of streamed output waiting to be applied.
type Item struct {
	Kind     ItemKind
	Text     string
	Sources  []models.Source
	Provider string
}

// SplitFunc breaks one received content fragment into the pieces that are queued individually.
// The concatenation of the pieces must equal the input.
type SplitFunc func(string) []string

// WhitespaceSplit returns a SplitFunc that passes fragments of up to threshold runes through
// untouched and breaks longer ones into alternating word and whitespace runs. Separators are kept
// as their own pieces, so joining the pieces reproduces the fragment exactly.
func WhitespaceSplit(threshold int) SplitFunc {
	return func(s string) []string {
		if utf8.RuneCountInString(s) <= threshold {
			return []string{s}
		}

		var parts []string
		start := 0
		inSpace := false
		for i, r := range s {
			isSpace := unicode.IsSpace(r)
			if i == 0 {
				inSpace = isSpace
				continue
			}
			if isSpace != inSpace {
				parts = append(parts, s[start:i])
				start = i
				inSpace = isSpace
			}
		}
		return append(parts, s[start:])
	}
}

// Queue is the FIFO buffer between the network reader and the drainer. Enqueues and dequeues may
// happen from different goroutines; ordering is preserved across both.
type Queue struct {
	split SplitFunc

	mu    sync.Mutex
	items []Item
}

// NewQueue creates a queue that applies split to every enqueued content fragment. A nil split
// enqueues fragments whole.
func NewQueue(split SplitFunc) *Queue {
	if split == nil {
		split = func(s string) []string { return []string{s} }
	}
	return &Queue{split: split}
}

// EnqueueContent splits text and appends the resulting token items in order, atomically with
// respect to concurrent dequeues.
func (q *Queue) EnqueueContent(text string) {
	parts := q.split(text)

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, part := range parts {
		q.items = append(q.items, Item{Kind: ItemToken, Text: part})
	}
}

// EnqueueDone appends the terminal marker with the answer's sources and provider.
func (q *Queue) EnqueueDone(sources []models.Source, provider string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, Item{Kind: ItemDone, Sources: sources, Provider: provider})
}

// Dequeue removes and returns the oldest item. The second return is false when the queue is empty.
func (q *Queue) Dequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len reports how many items are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Discard drops everything still queued.
func (q *Queue) Discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
