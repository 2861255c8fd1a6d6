package strategy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"regexp"

	"github.com/agentchaos/chaosproxy/pkg/flow"
)

// GroupFailure takes down a whole class of agents at once: any flow whose
// agent role matches target_role is short-circuited with the configured
// response.
type GroupFailure struct {
	baseStrategy
	targetRole *regexp.Regexp
	status     int
	body       []byte
}

// NewGroupFailure builds a group-failure strategy from scenario params:
// target_role (regex, required), status (default 503), body.
func NewGroupFailure(params map[string]any) (Strategy, error) {
	rolePattern, err := stringParam(params, "target_role", "")
	if err != nil {
		return nil, err
	}
	if rolePattern == "" {
		return nil, fmt.Errorf("param \"target_role\": required")
	}
	re, err := regexp.Compile(rolePattern)
	if err != nil {
		return nil, fmt.Errorf("param \"target_role\": %w", err)
	}
	status, err := intParam(params, "status", http.StatusServiceUnavailable)
	if err != nil {
		return nil, err
	}
	body, err := stringParam(params, "body", `{"error":"agent group failed by chaos plan","code":"group_failure"}`)
	if err != nil {
		return nil, err
	}
	return &GroupFailure{
		baseStrategy: baseStrategy{name: "group_failure"},
		targetRole:   re,
		status:       status,
		body:         []byte(body),
	}, nil
}

func (g *GroupFailure) InterceptRequest(_ context.Context, f *flow.Flow, _ *rand.Rand) error {
	role := f.Metadata.AgentRole
	if role == "" || !g.targetRole.MatchString(role) {
		return nil
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	f.SetResponse(g.status, h, g.body)
	f.RecordStrategy(g.name)
	return nil
}
