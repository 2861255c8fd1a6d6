package strategy

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/agentchaos/chaosproxy/pkg/flow"
	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
)

// DataCorruption mutates response bodies. JSON bodies get numeric jitter,
// boolean flips, or truncation; binary bodies get random byte flips.
type DataCorruption struct {
	baseStrategy
	mode      string // "jitter", "flip", "truncate", "byte_flip"
	jitterPct float64
	flipProb  float64
	byteFlips int
}

// NewDataCorruption builds a corruption strategy from scenario params:
// mode (default "jitter"), jitter_pct (default 10), flip_prob (default
// 0.5), byte_flips (default 8).
func NewDataCorruption(params map[string]any) (Strategy, error) {
	mode, err := stringParam(params, "mode", "jitter")
	if err != nil {
		return nil, err
	}
	switch mode {
	case "jitter", "flip", "truncate", "byte_flip":
	default:
		return nil, fmt.Errorf("param \"mode\": unknown corruption mode %q", mode)
	}
	jitterPct, err := floatParam(params, "jitter_pct", 10)
	if err != nil {
		return nil, err
	}
	flipProb, err := floatParam(params, "flip_prob", 0.5)
	if err != nil {
		return nil, err
	}
	byteFlips, err := intParam(params, "byte_flips", 8)
	if err != nil {
		return nil, err
	}
	return &DataCorruption{
		baseStrategy: baseStrategy{name: "data_corruption"},
		mode:         mode,
		jitterPct:    jitterPct,
		flipProb:     flipProb,
		byteFlips:    byteFlips,
	}, nil
}

func (d *DataCorruption) InterceptResponse(_ context.Context, f *flow.Flow, rng *rand.Rand) error {
	if f.Response == nil || len(f.Response.Body) == 0 {
		return nil
	}
	doc, isJSON := jsonutil.Document(f.Response.Body)
	if !isJSON {
		d.corruptBinary(f, rng)
		return nil
	}

	switch d.mode {
	case "truncate":
		f.Response.Body = f.Response.Body[:len(f.Response.Body)/2]
		f.RecordStrategy(d.name)
		return nil
	case "byte_flip":
		d.corruptBinary(f, rng)
		return nil
	}

	mutated := false
	walkLeaves(doc, func(leaf Leaf) {
		switch d.mode {
		case "jitter":
			if n, ok := asNumber(leaf.Val); ok {
				factor := 1 + (rng.Float64()*2-1)*d.jitterPct/100
				leaf.Set(n * factor)
				mutated = true
			}
		case "flip":
			if b, ok := leaf.Val.(bool); ok && rng.Float64() < d.flipProb {
				leaf.Set(!b)
				mutated = true
			}
		}
	})
	if !mutated {
		return nil
	}
	body, err := jsonutil.Marshal(doc)
	if err != nil {
		return fmt.Errorf("re-encode corrupted body: %w", err)
	}
	f.Response.Body = body
	f.Response.Headers.Del("Content-Length")
	f.RecordStrategy(d.name)
	return nil
}

// corruptBinary flips byteFlips random bytes in place.
func (d *DataCorruption) corruptBinary(f *flow.Flow, rng *rand.Rand) {
	body := f.Response.Body
	if len(body) == 0 || d.byteFlips <= 0 {
		return
	}
	for i := 0; i < d.byteFlips; i++ {
		pos := rng.IntN(len(body))
		body[pos] ^= byte(1 << rng.IntN(8))
	}
	f.RecordStrategy(d.name)
}
