package event

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/agentchaos/chaosproxy/pkg/defaults"
	"github.com/agentchaos/chaosproxy/pkg/duration"
)

// Consumer receives events from the bus. Consumers run on the bus's pump
// goroutine and must not block; each consumer sees its own copy.
type Consumer interface {
	OnEvent(ctx context.Context, ev Event)
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(ctx context.Context, ev Event)

// OnEvent calls f.
func (f ConsumerFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// DefaultCapacity is the bounded queue size.
const DefaultCapacity = defaults.EventQueueCapacity

// Bus is the bounded event channel. Publish never blocks the data path:
// when the queue is full, the oldest non-error event is dropped and
// counted; error events are only dropped when the queue holds nothing but
// errors.
type Bus struct {
	mu    sync.Mutex
	queue []Event
	cap   int

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	consumers []Consumer

	drops    uint64
	dropWarn rate.Sometimes
	logger   *slog.Logger
}

// Config tunes the bus.
type Config struct {
	// Capacity bounds the queue; values < 1 use DefaultCapacity.
	Capacity int

	// Logger receives drop warnings; nil uses slog.Default.
	Logger *slog.Logger
}

// NewBus creates a bus. Register consumers before Start.
func NewBus(cfg Config) *Bus {
	capacity := cfg.Capacity
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		cap:      capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		dropWarn: rate.Sometimes{Interval: duration.DropWarnInterval},
		logger:   logger,
	}
}

// Register adds a consumer. Not safe to call after Start.
func (b *Bus) Register(c Consumer) {
	b.consumers = append(b.consumers, c)
}

// Start launches the pump goroutine delivering events to consumers.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.pump(ctx)
}

// Publish enqueues an event. Never blocks; applies the drop-oldest policy
// on overflow.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if len(b.queue) >= b.cap {
		b.dropOldestLocked()
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Drops reports how many events were dropped under backpressure.
func (b *Bus) Drops() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drops
}

// dropOldestLocked removes the oldest non-error event, falling back to the
// oldest event when the queue is all errors. Warned at most once per
// second.
func (b *Bus) dropOldestLocked() {
	idx := 0
	for i := range b.queue {
		if !b.queue[i].IsError() {
			idx = i
			break
		}
	}
	b.queue = append(b.queue[:idx], b.queue[idx+1:]...)
	b.drops++
	b.dropWarn.Do(func() {
		b.logger.Warn("event queue saturated, dropping events", "drops", b.drops)
	})
}

// Close stops the pump after draining the queue.
func (b *Bus) Close() {
	close(b.done)
	b.wg.Wait()
}

func (b *Bus) pump(ctx context.Context) {
	defer b.wg.Done()
	for {
		b.drain(ctx)
		select {
		case <-b.notify:
		case <-b.done:
			b.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bus) drain(ctx context.Context) {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		for _, c := range b.consumers {
			c.OnEvent(ctx, ev)
		}
	}
}
