package strategy

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/agentchaos/chaosproxy/pkg/flow"
	"github.com/agentchaos/chaosproxy/pkg/jsonpath"
	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
)

// RAGPoisoning plants phantom documents in retrieval responses: matched
// leaves are overwritten, prepended, or suffixed with misinformation in
// round-robin order.
type RAGPoisoning struct {
	baseStrategy
	path           *jsonpath.Path
	mode           string // "overwrite", "injection", "suffix"
	misinformation []string
}

// NewRAGPoisoning builds a poisoning strategy from scenario params:
// target_json_path (required), mode (default "overwrite"),
// misinformation (string list, required non-empty).
//
// The JSONPath expression is compiled at plan load; the restricted dialect
// makes an unsupported expression a load failure, never a runtime
// fallback.
func NewRAGPoisoning(params map[string]any) (Strategy, error) {
	expr, err := stringParam(params, "target_json_path", "")
	if err != nil {
		return nil, err
	}
	if expr == "" {
		return nil, fmt.Errorf("param \"target_json_path\": required")
	}
	path, err := jsonpath.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("param \"target_json_path\": %w", err)
	}
	mode, err := stringParam(params, "mode", "overwrite")
	if err != nil {
		return nil, err
	}
	switch mode {
	case "overwrite", "injection", "suffix":
	default:
		return nil, fmt.Errorf("param \"mode\": unknown rag mode %q", mode)
	}
	misinformation, err := stringSliceParam(params, "misinformation")
	if err != nil {
		return nil, err
	}
	if len(misinformation) == 0 {
		return nil, fmt.Errorf("param \"misinformation\": required non-empty list")
	}
	return &RAGPoisoning{
		baseStrategy:   baseStrategy{name: "rag_poisoning"},
		path:           path,
		mode:           mode,
		misinformation: misinformation,
	}, nil
}

func (r *RAGPoisoning) InterceptResponse(_ context.Context, f *flow.Flow, _ *rand.Rand) error {
	if f.Response == nil {
		return nil
	}
	doc, ok := jsonutil.Document(f.Response.Body)
	if !ok {
		return nil
	}
	next := 0
	n := r.path.Apply(doc, func(old any) any {
		// round-robin restarts per response so playback stays deterministic
		phantom := r.misinformation[next%len(r.misinformation)]
		next++
		switch r.mode {
		case "injection":
			if s, ok := old.(string); ok {
				return phantom + " " + s
			}
			return phantom
		case "suffix":
			if s, ok := old.(string); ok {
				return s + phantom
			}
			return phantom
		default: // overwrite
			return phantom
		}
	})
	if n == 0 {
		return nil
	}
	body, err := jsonutil.Marshal(doc)
	if err != nil {
		return fmt.Errorf("re-encode poisoned body: %w", err)
	}
	f.Response.Body = body
	f.Response.Headers.Del("Content-Length")
	f.RecordStrategy(r.name)
	return nil
}
