// Package dashboard fans events out to streaming subscribers (the browser
// dashboard's SSE feed). Slow subscribers are disconnected once their
// buffer overflows so one stalled reader can never back up the pipeline.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/agentchaos/chaosproxy/pkg/defaults"
	"github.com/agentchaos/chaosproxy/pkg/event"
	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
)

// SubscriberBuffer is the per-subscriber event buffer; a subscriber that
// falls this far behind is dropped.
const SubscriberBuffer = defaults.DashboardSubscriberBuffer

// Fanout distributes events to subscribers. Implements event.Consumer.
type Fanout struct {
	mu     sync.RWMutex
	subs   map[string]chan event.Event
	closed bool

	dropped uint64
	logger  *slog.Logger
}

// NewFanout returns an empty fan-out hub.
func NewFanout(logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{subs: make(map[string]chan event.Event), logger: logger}
}

// Subscribe registers a new subscriber and returns its id and channel.
// The channel closes when the subscriber is dropped or the hub shuts down.
func (f *Fanout) Subscribe() (string, <-chan event.Event) {
	id := uuid.NewString()
	ch := make(chan event.Event, SubscriberBuffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return id, ch
	}
	f.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber.
func (f *Fanout) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

// SubscriberCount reports connected subscribers.
func (f *Fanout) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// DroppedSubscribers reports how many slow subscribers were disconnected.
func (f *Fanout) DroppedSubscribers() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

// OnEvent pushes a copy of the event to every subscriber; a full buffer
// drops the subscriber.
func (f *Fanout) OnEvent(_ context.Context, ev event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			delete(f.subs, id)
			close(ch)
			f.dropped++
			f.logger.Warn("dropping slow dashboard subscriber", "subscriber", id)
		}
	}
}

// Close disconnects all subscribers.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

// ServeHTTP streams events to one subscriber as server-sent events.
func (f *Fanout) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusNotImplemented)
		return
	}
	id, ch := f.Subscribe()
	defer f.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := jsonutil.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
