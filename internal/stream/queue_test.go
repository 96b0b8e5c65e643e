package stream

import (
	"reflect"
	"strings"
	"testing"

	"github.com/northlight-labs/kb-web-ui/internal/models"
)

func TestWhitespaceSplit(t *testing.T) {
	split := WhitespaceSplit(20)

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "short fragment passes through",
			in:   "short",
			want: []string{"short"},
		},
		{
			name: "threshold length passes through",
			in:   strings.Repeat("a", 20),
			want: []string{strings.Repeat("a", 20)},
		},
		{
			name: "long fragment splits into word and separator runs",
			in:   "The quick brown fox jumps",
			want: []string{"The", " ", "quick", " ", "brown", " ", "fox", " ", "jumps"},
		},
		{
			name: "separator runs are kept whole",
			in:   "first line\n\n  second part of answer",
			want: []string{"first", " ", "line", "\n\n  ", "second", " ", "part", " ", "of", " ", "answer"},
		},
		{
			name: "leading and trailing whitespace survive",
			in:   "  padded fragment with spaces around  ",
			want: []string{"  ", "padded", " ", "fragment", " ", "with", " ", "spaces", " ", "around", "  "},
		},
		{
			name: "multibyte runes count as single characters",
			in:   strings.Repeat("ü", 20),
			want: []string{strings.Repeat("ü", 20)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := split(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("split(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if joined := strings.Join(got, ""); joined != tt.in {
				t.Errorf("joined pieces = %q, want original %q", joined, tt.in)
			}
		})
	}
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(nil)

	q.EnqueueContent("first")
	q.EnqueueContent("second")

	item, ok := q.Dequeue()
	if !ok || item.Text != "first" {
		t.Errorf("Dequeue() = %+v, %v, want first", item, ok)
	}

	q.EnqueueContent("third")

	for _, want := range []string{"second", "third"} {
		item, ok := q.Dequeue()
		if !ok || item.Text != want {
			t.Errorf("Dequeue() = %+v, %v, want %q", item, ok, want)
		}
	}

	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue() on empty queue returned ok")
	}
}

func TestQueueEnqueueContentSplits(t *testing.T) {
	q := NewQueue(WhitespaceSplit(20))

	const content = "This fragment is comfortably longer than the threshold."
	q.EnqueueContent(content)

	if q.Len() <= 1 {
		t.Fatalf("Len() = %d, want the fragment split into several items", q.Len())
	}

	var joined strings.Builder
	for {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		if item.Kind != ItemToken {
			t.Fatalf("Dequeue() kind = %v, want ItemToken", item.Kind)
		}
		joined.WriteString(item.Text)
	}
	if joined.String() != content {
		t.Errorf("joined items = %q, want %q", joined.String(), content)
	}
}

func TestQueueEnqueueDone(t *testing.T) {
	q := NewQueue(WhitespaceSplit(20))

	q.EnqueueContent("hi")
	q.EnqueueDone([]models.Source{{Source: "a.pdf"}}, "groq")

	if _, ok := q.Dequeue(); !ok {
		t.Fatal("Dequeue() returned no token item")
	}
	item, ok := q.Dequeue()
	if !ok || item.Kind != ItemDone {
		t.Fatalf("Dequeue() = %+v, %v, want the done item", item, ok)
	}
	if item.Provider != "groq" || len(item.Sources) != 1 {
		t.Errorf("done item = %+v, want provider groq with one source", item)
	}
}

func TestQueueDiscard(t *testing.T) {
	q := NewQueue(nil)

	q.EnqueueContent("a")
	q.EnqueueContent("b")
	q.Discard()

	if q.Len() != 0 {
		t.Errorf("Len() after Discard = %d, want 0", q.Len())
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue() after Discard returned ok")
	}
}
