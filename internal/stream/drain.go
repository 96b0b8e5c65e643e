package stream

import (
	"sync"
	"time"

	"github.com/northlight-labs/kb-web-ui/internal/models"
)

const defaultInterval = 30 * time.Millisecond

// Sink receives drained items. Implementations apply them to the message identified by messageID
// and re-render it for connected clients.
type Sink interface {
	ApplyToken(messageID, fragment string)
	ApplyDone(messageID string, sources []models.Source, provider string)
}

// Drainer applies queued items to a sink at a fixed cadence, one item per tick. A drainer serves
// exactly one assistant message: applying the done item, or a call to Abort, stops its timer for
// good.
type Drainer struct {
	messageID string
	queue     *Queue
	sink      Sink
	interval  time.Duration

	mu      sync.Mutex
	running bool
	stopped bool
	stop    chan struct{}
}

// NewDrainer creates a drainer for the given message. An interval of zero or less selects the
// default cadence.
func NewDrainer(messageID string, queue *Queue, sink Sink, interval time.Duration) *Drainer {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Drainer{
		messageID: messageID,
		queue:     queue,
		sink:      sink,
		interval:  interval,
	}
}

// Start launches the drain loop if it is not already running. Calling Start on a running or
// finished drainer is a no-op, so callers may invoke it on every enqueue.
func (d *Drainer) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.stopped {
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	go d.loop(d.stop)
}

// Abort permanently stops the drainer and discards everything still queued. Items already applied
// stay applied; no further items will be.
func (d *Drainer) Abort() {
	d.mu.Lock()
	d.stopped = true
	if d.running {
		d.running = false
		close(d.stop)
	}
	d.mu.Unlock()

	d.queue.Discard()
}

func (d *Drainer) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if d.tick() {
				return
			}
		}
	}
}

// tick applies at most one queued item and reports whether the loop should exit.
func (d *Drainer) tick() bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return true
	}
	d.mu.Unlock()

	item, ok := d.queue.Dequeue()
	if !ok {
		return false
	}

	switch item.Kind {
	case ItemToken:
		d.sink.ApplyToken(d.messageID, item.Text)
		return false
	case ItemDone:
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return true
		}
		d.stopped = true
		d.running = false
		d.mu.Unlock()

		d.sink.ApplyDone(d.messageID, item.Sources, item.Provider)
		return true
	}
	return false
}
