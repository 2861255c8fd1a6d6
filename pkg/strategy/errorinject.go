package strategy

import (
	"context"
	"math/rand/v2"
	"net/http"

	"github.com/agentchaos/chaosproxy/pkg/flow"
)

// ErrorInjection short-circuits the flow before upstream with a synthesized
// error response. The upstream is never attempted.
type ErrorInjection struct {
	baseStrategy
	status  int
	body    []byte
	headers map[string]string
}

// NewErrorInjection builds an error strategy from scenario params:
// status (default 500), body (default empty), headers (string map).
func NewErrorInjection(params map[string]any) (Strategy, error) {
	status, err := intParam(params, "status", http.StatusInternalServerError)
	if err != nil {
		return nil, err
	}
	body, err := stringParam(params, "body", "")
	if err != nil {
		return nil, err
	}
	hdrs, err := mapParam(params, "headers")
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string, len(hdrs))
	for k, v := range hdrs {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return &ErrorInjection{
		baseStrategy: baseStrategy{name: "error"},
		status:       status,
		body:         []byte(body),
		headers:      headers,
	}, nil
}

func (e *ErrorInjection) InterceptRequest(_ context.Context, f *flow.Flow, _ *rand.Rand) error {
	h := make(http.Header, len(e.headers)+1)
	for k, v := range e.headers {
		h.Set(k, v)
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "text/plain; charset=utf-8")
	}
	f.SetResponse(e.status, h, e.body)
	f.RecordStrategy(e.name)
	return nil
}
