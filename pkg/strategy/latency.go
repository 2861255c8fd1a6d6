package strategy

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/agentchaos/chaosproxy/pkg/flow"
)

// Latency suspends a flow for a configured delay. Suspension is
// cancellable: when the interceptor aborts the flow, the strategy returns
// promptly and the flow is tagged cancelled instead of delayed.
type Latency struct {
	baseStrategy
	delay time.Duration
	side  string // "request" or "response"
}

// NewLatency builds a latency strategy from scenario params:
// delay (seconds, required > 0), side ("request" default, or "response").
func NewLatency(params map[string]any) (Strategy, error) {
	delay, err := durationParam(params, "delay", 0)
	if err != nil {
		return nil, err
	}
	side, err := stringParam(params, "side", "request")
	if err != nil {
		return nil, err
	}
	return &Latency{baseStrategy: baseStrategy{name: "latency"}, delay: delay, side: side}, nil
}

func (l *Latency) InterceptRequest(ctx context.Context, f *flow.Flow, _ *rand.Rand) error {
	if l.side != "request" {
		return nil
	}
	return l.suspend(ctx, f)
}

func (l *Latency) InterceptResponse(ctx context.Context, f *flow.Flow, _ *rand.Rand) error {
	if l.side != "response" {
		return nil
	}
	return l.suspend(ctx, f)
}

func (l *Latency) suspend(ctx context.Context, f *flow.Flow) error {
	if l.delay <= 0 {
		f.RecordStrategy(l.name)
		return nil
	}
	timer := time.NewTimer(l.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		f.RecordStrategy(l.name)
	case <-ctx.Done():
		// Fail soft: the flow proceeds immediately.
		f.Metadata.Cancelled = true
		f.RecordStrategy(l.name)
	}
	return nil
}
