package pipeline

import (
	"sync"
	"time"

	"github.com/nao1215/onionharvest/internal/model"
)

// EventKind identifies a progress event.
type EventKind int

// Progress events published during a run.
const (
	EventPageAccepted EventKind = iota
	EventPageRejected
	EventFetchFailed
	EventSiteDone
	EventRunDone
	EventLog
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventPageAccepted:
		return "page_accepted"
	case EventPageRejected:
		return "page_rejected"
	case EventFetchFailed:
		return "fetch_failed"
	case EventSiteDone:
		return "site_done"
	case EventRunDone:
		return "run_done"
	case EventLog:
		return "log"
	default:
		return "unknown"
	}
}

// Event is one progress notification.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Site    string
	URL     string
	Depth   int
	Err     error
	Message string

	// Page is set for EventPageAccepted.
	Page *model.PageRecord

	// Stats is set for EventSiteDone.
	Stats *model.SiteStats

	// Summary is set for EventRunDone.
	Summary *model.RunSummary
}

// EventBus delivers events over a buffered channel to one consumer.
// Publish blocks when the buffer is full, so the consumer must keep
// draining Events until the channel is closed.
type EventBus struct {
	ch chan Event

	mu     sync.RWMutex
	closed bool
}

// NewEventBus creates a bus with the given buffer size.
func NewEventBus(buffer int) *EventBus {
	return &EventBus{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the bus.
func (b *EventBus) Events() <-chan Event {
	return b.ch
}

// Publish sends ev. Events published after Close are dropped.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.ch <- ev
}

// Close closes the channel once every in-flight Publish has returned.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
