package strategy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/agentchaos/chaosproxy/pkg/flow"
	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
)

// SwarmDisruption attacks inter-agent coordination. It triggers only on
// AGENT_TO_AGENT flows; the matcher additionally honors the scenario's
// target_subtype before this strategy runs.
//
// Attack types are table-dispatched by tag, one handler per attack.
type SwarmDisruption struct {
	baseStrategy
	attackType     string
	mutationRules  map[string]any
	consensusDelay time.Duration
	isolatedAgents map[string]struct{}
}

const isolationBody = `{"error":"agent isolated by chaos plan","code":"agent_isolation"}`

// NewSwarmDisruption builds a swarm strategy from scenario params:
// attack_type ("message_mutation" default, "consensus_delay",
// "agent_isolation"), mutation_rules (field -> replacement),
// consensus_delay (seconds), isolated_agents (string list).
func NewSwarmDisruption(params map[string]any) (Strategy, error) {
	attackType, err := stringParam(params, "attack_type", "message_mutation")
	if err != nil {
		return nil, err
	}
	switch attackType {
	case "message_mutation", "consensus_delay", "agent_isolation":
	default:
		return nil, fmt.Errorf("param \"attack_type\": unknown attack type %q", attackType)
	}
	rules, err := mapParam(params, "mutation_rules")
	if err != nil {
		return nil, err
	}
	delay, err := durationParam(params, "consensus_delay", 2*time.Second)
	if err != nil {
		return nil, err
	}
	agents, err := stringSliceParam(params, "isolated_agents")
	if err != nil {
		return nil, err
	}
	isolated := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		isolated[a] = struct{}{}
	}
	return &SwarmDisruption{
		baseStrategy:   baseStrategy{name: "swarm_disruption"},
		attackType:     attackType,
		mutationRules:  rules,
		consensusDelay: delay,
		isolatedAgents: isolated,
	}, nil
}

func (s *SwarmDisruption) InterceptRequest(ctx context.Context, f *flow.Flow, rng *rand.Rand) error {
	if f.Metadata.TrafficType != flow.TrafficAgentToAgent {
		return nil
	}
	switch s.attackType {
	case "message_mutation":
		return s.mutateMessage(f, rng)
	case "consensus_delay":
		return s.delayConsensus(ctx, f)
	case "agent_isolation":
		return s.isolateAgent(f)
	}
	return nil
}

// mutateMessage applies configured rules to matching fields; without rules
// the default is to flip booleans and jitter numerics by ±20% (±1 for
// integer-looking values close to zero).
func (s *SwarmDisruption) mutateMessage(f *flow.Flow, rng *rand.Rand) error {
	doc, ok := jsonutil.Document(f.Request.Body)
	if !ok {
		return nil
	}
	mutated := false
	walkLeaves(doc, func(leaf Leaf) {
		if len(s.mutationRules) > 0 {
			if repl, ok := s.mutationRules[leaf.Key]; ok {
				leaf.Set(repl)
				mutated = true
			}
			return
		}
		switch v := leaf.Val.(type) {
		case bool:
			leaf.Set(!v)
			mutated = true
		default:
			if n, ok := asNumber(leaf.Val); ok {
				if n >= -5 && n <= 5 {
					if rng.IntN(2) == 0 {
						leaf.Set(n + 1)
					} else {
						leaf.Set(n - 1)
					}
				} else {
					leaf.Set(n * (1 + (rng.Float64()*2-1)*0.2))
				}
				mutated = true
			}
		}
	})
	if !mutated {
		return nil
	}
	body, err := jsonutil.Marshal(doc)
	if err != nil {
		return fmt.Errorf("re-encode mutated message: %w", err)
	}
	f.Request.Body = body
	f.Request.Headers.Del("Content-Length")
	f.RecordStrategy(s.name)
	return nil
}

// delayConsensus suspends consensus votes; other subtypes pass untouched.
func (s *SwarmDisruption) delayConsensus(ctx context.Context, f *flow.Flow) error {
	if f.Metadata.TrafficSubtype != flow.SubtypeConsensusVote {
		return nil
	}
	if s.consensusDelay <= 0 {
		f.RecordStrategy(s.name)
		return nil
	}
	timer := time.NewTimer(s.consensusDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		f.RecordStrategy(s.name)
	case <-ctx.Done():
		f.Metadata.Cancelled = true
		f.RecordStrategy(s.name)
	}
	return nil
}

// isolateAgent short-circuits flows from blocked sender agents with 503.
func (s *SwarmDisruption) isolateAgent(f *flow.Flow) error {
	sender := senderAgent(f)
	if sender == "" {
		return nil
	}
	if _, blocked := s.isolatedAgents[sender]; !blocked {
		return nil
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	f.SetResponse(http.StatusServiceUnavailable, h, []byte(isolationBody))
	f.RecordStrategy(s.name)
	return nil
}

// senderAgent extracts the sending agent id: header first, body second.
func senderAgent(f *flow.Flow) string {
	if id := f.Header("X-Agent-ID"); id != "" {
		return id
	}
	if body, ok := jsonutil.Object(f.Request.Body); ok {
		for _, key := range []string{"sender_agent", "agent_id", "sender"} {
			if v, ok := body[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}
