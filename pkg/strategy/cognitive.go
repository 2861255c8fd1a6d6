package strategy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/agentchaos/chaosproxy/pkg/flow"
	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
)

// Hallucination perturbs response payloads in ways an agent is likely to
// trust: plausible numbers, slightly wrong dates. The JSON key set and
// structure are preserved exactly; only leaf values move.
type Hallucination struct {
	baseStrategy
	mode       string // "swap_entities", "invert_numbers", "shift_dates"
	dateOffset time.Duration
}

// NewHallucination builds a hallucination strategy from scenario params:
// mode (default "swap_entities"), date_offset_days (shift_dates only,
// default 30).
func NewHallucination(params map[string]any) (Strategy, error) {
	mode, err := stringParam(params, "mode", "swap_entities")
	if err != nil {
		return nil, err
	}
	switch mode {
	case "swap_entities", "invert_numbers", "shift_dates":
	default:
		return nil, fmt.Errorf("param \"mode\": unknown hallucination mode %q", mode)
	}
	offsetDays, err := intParam(params, "date_offset_days", 30)
	if err != nil {
		return nil, err
	}
	return &Hallucination{
		baseStrategy: baseStrategy{name: "hallucination"},
		mode:         mode,
		dateOffset:   time.Duration(offsetDays) * 24 * time.Hour,
	}, nil
}

func (h *Hallucination) InterceptResponse(_ context.Context, f *flow.Flow, rng *rand.Rand) error {
	if f.Response == nil {
		return nil
	}
	doc, ok := jsonutil.Document(f.Response.Body)
	if !ok {
		return nil
	}
	mutated := false
	walkLeaves(doc, func(leaf Leaf) {
		switch h.mode {
		case "swap_entities":
			if n, ok := asNumber(leaf.Val); ok {
				// plausible but wrong: factor in [0.8, 1.2)
				leaf.Set(n * (0.8 + rng.Float64()*0.4))
				mutated = true
				return
			}
			if ts, layout, ok := asDate(leaf.Val); ok {
				days := rng.IntN(15) - 7 // [-7, +7]
				leaf.Set(ts.AddDate(0, 0, days).Format(layout))
				mutated = true
			}
		case "invert_numbers":
			if n, ok := asNumber(leaf.Val); ok {
				leaf.Set(-n)
				mutated = true
			}
		case "shift_dates":
			if ts, layout, ok := asDate(leaf.Val); ok {
				leaf.Set(ts.Add(h.dateOffset).Format(layout))
				mutated = true
			}
		}
	})
	if !mutated {
		return nil
	}
	body, err := jsonutil.Marshal(doc)
	if err != nil {
		return fmt.Errorf("re-encode hallucinated body: %w", err)
	}
	f.Response.Body = body
	f.Response.Headers.Del("Content-Length")
	f.RecordStrategy(h.name)
	return nil
}

// ContextOverflow pads the last message of an LLM request with filler,
// pushing the real context out of the model's window. Message order is
// never changed.
type ContextOverflow struct {
	baseStrategy
	tokenCount int
	mode       string // "repeat", "lorem", "noise"
}

// NewContextOverflow builds an overflow strategy from scenario params:
// token_count (default 4096), mode (default "repeat").
func NewContextOverflow(params map[string]any) (Strategy, error) {
	tokenCount, err := intParam(params, "token_count", 4096)
	if err != nil {
		return nil, err
	}
	mode, err := stringParam(params, "mode", "repeat")
	if err != nil {
		return nil, err
	}
	switch mode {
	case "repeat", "lorem", "noise":
	default:
		return nil, fmt.Errorf("param \"mode\": unknown overflow mode %q", mode)
	}
	return &ContextOverflow{
		baseStrategy: baseStrategy{name: "context_overflow"},
		tokenCount:   tokenCount,
		mode:         mode,
	}, nil
}

func (c *ContextOverflow) InterceptRequest(_ context.Context, f *flow.Flow, rng *rand.Rand) error {
	if f.Metadata.TrafficType != flow.TrafficLLMAPI {
		return nil
	}
	body, ok := jsonutil.Object(f.Request.Body)
	if !ok {
		return nil
	}
	msgs, ok := body["messages"].([]any)
	if !ok || len(msgs) == 0 {
		return nil
	}
	last, ok := msgs[len(msgs)-1].(map[string]any)
	if !ok {
		return nil
	}
	content, _ := last["content"].(string)
	last["content"] = content + " " + c.filler(rng)

	out, err := jsonutil.Marshal(body)
	if err != nil {
		return fmt.Errorf("re-encode overflowed body: %w", err)
	}
	f.Request.Body = out
	f.Request.Headers.Del("Content-Length")
	f.RecordStrategy(c.name)
	return nil
}

// filler produces roughly tokenCount tokens of padding (one word ~ one
// token is close enough for overflow purposes).
func (c *ContextOverflow) filler(rng *rand.Rand) string {
	var sb strings.Builder
	sb.Grow(c.tokenCount * 8)
	switch c.mode {
	case "lorem":
		words := []string{"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing", "elit"}
		for i := 0; i < c.tokenCount; i++ {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(words[i%len(words)])
		}
	case "noise":
		const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
		for i := 0; i < c.tokenCount; i++ {
			if i > 0 {
				sb.WriteByte(' ')
			}
			for j := 0; j < 5; j++ {
				sb.WriteByte(alphabet[rng.IntN(len(alphabet))])
			}
		}
	default: // repeat
		for i := 0; i < c.tokenCount; i++ {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString("padding")
		}
	}
	return sb.String()
}
