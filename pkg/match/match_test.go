package match

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentchaos/chaosproxy/pkg/chaosplan"
	"github.com/agentchaos/chaosproxy/pkg/flow"
)

func compilePlan(t *testing.T, yamlPlan string) *chaosplan.Plan {
	t.Helper()
	err := chaosplan.ValidatePlan([]byte(yamlPlan), chaosplan.LoadOptions{})
	require.NoError(t, err)
	plan, err := chaosplan.ParsePlan([]byte(yamlPlan), chaosplan.LoadOptions{})
	require.NoError(t, err)
	return plan
}

const matcherPlan = `
version: "1"
revision: 1
metadata:
  name: m
  experiment_id: exp-42
targets:
  - name: pay-endpoint
    type: http_endpoint
    pattern: ".*/pay"
  - name: any-llm
    type: llm_input
    pattern: "LLM_API"
  - name: booker-role
    type: agent_role
    pattern: "booker.*"
scenarios:
  - name: always-latency
    type: latency
    target_ref: pay-endpoint
    probability: 1.0
  - name: never-error
    type: error
    target_ref: pay-endpoint
    probability: 0.0
  - name: disabled-error
    type: error
    target_ref: pay-endpoint
    enabled: false
  - name: llm-halluc
    type: hallucination
    target_ref: any-llm
  - name: role-group-fail
    type: group_failure
    target_ref: booker-role
  - name: vote-delay
    type: swarm_disruption
    target_ref: pay-endpoint
    target_subtype: consensus_vote
`

func payFlow() *flow.Flow {
	f := &flow.Flow{Request: flow.Request{Method: "POST", URL: "http://api/pay", Headers: http.Header{}}}
	f.Metadata.TrafficType = flow.TrafficToolCall
	f.Metadata.TrafficSubtype = flow.SubtypeNone
	f.Metadata.Fingerprint = "fp-1"
	return f
}

func TestProbabilityBoundaries(t *testing.T) {
	plan := compilePlan(t, matcherPlan)
	f := payFlow()
	rng := FlowRNG(plan.Metadata.ExperimentID, f.Metadata.Fingerprint)
	matches := Strategies(plan, f, rng)

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Scenario.Name)
	}
	// probability 1 always triggers, probability 0 never, disabled never,
	// subtype-restricted skips on subtype mismatch.
	assert.Contains(t, names, "always-latency")
	assert.NotContains(t, names, "never-error")
	assert.NotContains(t, names, "disabled-error")
	assert.NotContains(t, names, "vote-delay")
}

func TestSubtypeRestriction(t *testing.T) {
	plan := compilePlan(t, matcherPlan)
	f := payFlow()
	f.Metadata.TrafficType = flow.TrafficAgentToAgent
	f.Metadata.TrafficSubtype = flow.SubtypeConsensusVote
	rng := FlowRNG(plan.Metadata.ExperimentID, f.Metadata.Fingerprint)
	matches := Strategies(plan, f, rng)

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Scenario.Name)
	}
	assert.Contains(t, names, "vote-delay")
}

func TestAgentRoleTarget(t *testing.T) {
	plan := compilePlan(t, matcherPlan)
	f := &flow.Flow{Request: flow.Request{Method: "GET", URL: "http://other/x"}}
	f.Metadata.TrafficType = flow.TrafficToolCall
	f.Metadata.Fingerprint = "fp-2"
	f.Metadata.AgentRole = "booker-eu"
	rng := FlowRNG(plan.Metadata.ExperimentID, f.Metadata.Fingerprint)
	matches := Strategies(plan, f, rng)
	require.Len(t, matches, 1)
	assert.Equal(t, "role-group-fail", matches[0].Scenario.Name)

	// Empty role never matches an agent_role target.
	f.Metadata.AgentRole = ""
	rng = FlowRNG(plan.Metadata.ExperimentID, f.Metadata.Fingerprint)
	assert.Empty(t, Strategies(plan, f, rng))
}

func TestLLMInputTargetMatchesTrafficType(t *testing.T) {
	plan := compilePlan(t, matcherPlan)
	f := &flow.Flow{Request: flow.Request{Method: "POST", URL: "https://api.openai.com/v1/chat"}}
	f.Metadata.TrafficType = flow.TrafficLLMAPI
	f.Metadata.Fingerprint = "fp-3"
	rng := FlowRNG(plan.Metadata.ExperimentID, f.Metadata.Fingerprint)
	matches := Strategies(plan, f, rng)
	require.Len(t, matches, 1)
	assert.Equal(t, "llm-halluc", matches[0].Scenario.Name)
}

func TestDeterministicRNG(t *testing.T) {
	// Same experiment id + fingerprint must yield an identical draw stream.
	a := FlowRNG("exp-42", "fp-x")
	b := FlowRNG("exp-42", "fp-x")
	for i := 0; i < 16; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
	}

	// A different fingerprint diverges.
	c := FlowRNG("exp-42", "fp-y")
	d := FlowRNG("exp-42", "fp-x")
	same := true
	for i := 0; i < 16; i++ {
		if c.Float64() != d.Float64() {
			same = false
			break
		}
	}
	assert.False(t, same)
}

func TestMatchOrderIsPlanOrder(t *testing.T) {
	plan := compilePlan(t, matcherPlan)
	f := payFlow()
	f.Metadata.AgentRole = "booker-1"
	rng := FlowRNG(plan.Metadata.ExperimentID, f.Metadata.Fingerprint)
	matches := Strategies(plan, f, rng)
	require.Len(t, matches, 2)
	assert.Equal(t, "always-latency", matches[0].Scenario.Name)
	assert.Equal(t, "role-group-fail", matches[1].Scenario.Name)
}
