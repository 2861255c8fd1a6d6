package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentchaos/chaosproxy/pkg/flow"
)

type captureConsumer struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureConsumer) OnEvent(_ context.Context, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureConsumer) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func makeEvent(seq uint64, phase Phase) Event {
	return Event{
		T:           time.Now().UTC(),
		Seq:         seq,
		Phase:       phase,
		TrafficType: flow.TrafficToolCall,
		Method:      "GET",
		URLRedacted: "http://x/a",
	}
}

func TestBusDeliversToAllConsumers(t *testing.T) {
	bus := NewBus(Config{Capacity: 16})
	a := &captureConsumer{}
	b := &captureConsumer{}
	bus.Register(a)
	bus.Register(b)
	bus.Start(context.Background())

	for i := uint64(1); i <= 5; i++ {
		bus.Publish(makeEvent(i, PhaseResponse))
	}
	bus.Close()

	require.Len(t, a.snapshot(), 5)
	require.Len(t, b.snapshot(), 5)
	assert.EqualValues(t, 0, bus.Drops())
}

func TestBusOrderingPerFlowMonotonic(t *testing.T) {
	bus := NewBus(Config{Capacity: 64})
	c := &captureConsumer{}
	bus.Register(c)
	bus.Start(context.Background())

	for i := uint64(1); i <= 20; i++ {
		bus.Publish(makeEvent(i, PhaseResponse))
	}
	bus.Close()

	events := c.snapshot()
	require.Len(t, events, 20)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}
}

func TestBusDropsOldestNonErrorOnOverflow(t *testing.T) {
	// No consumer pump running: fill the queue beyond capacity first.
	bus := NewBus(Config{Capacity: 4})
	c := &captureConsumer{}
	bus.Register(c)

	bus.Publish(makeEvent(1, PhaseError))
	bus.Publish(makeEvent(2, PhaseResponse))
	bus.Publish(makeEvent(3, PhaseResponse))
	bus.Publish(makeEvent(4, PhaseResponse))
	// Overflow: seq 2 (oldest non-error) must go, the error must stay.
	bus.Publish(makeEvent(5, PhaseResponse))

	assert.EqualValues(t, 1, bus.Drops())

	bus.Start(context.Background())
	bus.Close()

	seqs := []uint64{}
	for _, ev := range c.snapshot() {
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []uint64{1, 3, 4, 5}, seqs)
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus(Config{Capacity: 2})
	done := make(chan struct{})
	go func() {
		for i := uint64(0); i < 1000; i++ {
			bus.Publish(makeEvent(i, PhaseResponse))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	assert.Greater(t, bus.Drops(), uint64(0))
}

func TestIsError(t *testing.T) {
	ev := makeEvent(1, PhaseError)
	assert.True(t, ev.IsError())
	ev2 := makeEvent(2, PhaseResponse)
	assert.False(t, ev2.IsError())
	ev2.ErrorCode = "strategy"
	assert.True(t, ev2.IsError())
}
