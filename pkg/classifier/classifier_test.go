package classifier

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentchaos/chaosproxy/pkg/chaosplan"
	"github.com/agentchaos/chaosproxy/pkg/flow"
)

func testPlan(t *testing.T) *chaosplan.Plan {
	t.Helper()
	plan := &chaosplan.Plan{
		Version:  "1",
		Revision: 1,
		Metadata: chaosplan.Metadata{Name: "t", ExperimentID: "e"},
		ClassifierRulePacks: []chaosplan.ClassifierRulePack{
			{
				Name: "default",
				Rules: chaosplan.ClassifierRules{
					AgentPatterns: []string{`.*/agents/.*`},
					LLMPatterns:   []string{`.*api\.openai\.com.*`, `.*api\.openai\.com/v1/chat.*`},
					ToolPatterns:  []string{`.*/tools/.*`},
				},
			},
		},
	}
	return plan
}

func newFlow(method, url string, headers map[string]string, body string) *flow.Flow {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &flow.Flow{Request: flow.Request{Method: method, URL: url, Headers: h, Body: []byte(body)}}
}

func TestHeaderSignalWinsOverURLRules(t *testing.T) {
	c := New(testPlan(t), Options{})
	// URL matches llm_patterns, but the header decides.
	f := newFlow("POST", "https://api.openai.com/v1/chat", map[string]string{
		HeaderAgentToAgent: "true",
	}, "")
	res := c.Classify(f, false)
	assert.Equal(t, flow.TrafficAgentToAgent, res.Type)
	assert.Equal(t, flow.TrafficAgentToAgent, f.Metadata.TrafficType)
}

func TestRulePackURLMatch(t *testing.T) {
	c := New(testPlan(t), Options{})
	tests := []struct {
		name string
		url  string
		want flow.TrafficType
	}{
		{"agent url", "http://hub/agents/7/inbox", flow.TrafficAgentToAgent},
		{"llm url", "https://api.openai.com/v1/chat/completions", flow.TrafficLLMAPI},
		{"tool url", "http://svc/tools/search", flow.TrafficToolCall},
		{"no match no body", "http://svc/other", flow.TrafficUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(newFlow("GET", tt.url, nil, ""), false)
			assert.Equal(t, tt.want, res.Type)
		})
	}
}

func TestBodyStructureFallback(t *testing.T) {
	c := New(testPlan(t), Options{})
	tests := []struct {
		name string
		body string
		want flow.TrafficType
	}{
		{"sender recipient envelope", `{"sender_agent":"a","recipient_agent":"b"}`, flow.TrafficAgentToAgent},
		{"autogen shape", `{"agent_id":"a1","messages":[{"role":"assistant","content":"hi"}]}`, flow.TrafficAgentToAgent},
		{"llm messages with model", `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`, flow.TrafficLLMAPI},
		{"messages without model", `{"messages":[{"role":"user"}]}`, flow.TrafficToolCall},
		{"plain object", `{"query":"x"}`, flow.TrafficToolCall},
		{"invalid json", `{"query":`, flow.TrafficUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(newFlow("POST", "http://svc/other", nil, tt.body), false)
			assert.Equal(t, tt.want, res.Type)
		})
	}
}

func TestSubtypeDetection(t *testing.T) {
	c := New(testPlan(t), Options{})
	tests := []struct {
		name    string
		url     string
		headers map[string]string
		body    string
		want    flow.TrafficSubtype
	}{
		{
			"explicit subtype header",
			"http://hub/agents/x",
			map[string]string{HeaderAgentToAgent: "true", HeaderAgentSubtype: "consensus_vote"},
			"",
			flow.SubtypeConsensusVote,
		},
		{
			"vote path",
			"http://hub/agents/vote/round2",
			map[string]string{HeaderAgentToAgent: "true"},
			"",
			flow.SubtypeConsensusVote,
		},
		{
			"vote body",
			"http://hub/agents/x",
			map[string]string{HeaderAgentToAgent: "true"},
			`{"vote":"yes"}`,
			flow.SubtypeConsensusVote,
		},
		{
			"supervisor to worker",
			"http://hub/agents/x",
			map[string]string{HeaderAgentToAgent: "true"},
			`{"sender_role":"supervisor-1","recipient_role":"worker-3"}`,
			flow.SubtypeSupervisorToWorker,
		},
		{
			"swarm marker",
			"http://hub/agents/x",
			map[string]string{HeaderSwarmMessage: "true"},
			`{"swarm_id":"s1"}`,
			flow.SubtypeSwarmMessage,
		},
		{
			"default worker communication",
			"http://hub/agents/x",
			map[string]string{HeaderAgentToAgent: "true"},
			`{"payload":1}`,
			flow.SubtypeWorkerCommunication,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(newFlow("POST", tt.url, tt.headers, tt.body), false)
			require.Equal(t, flow.TrafficAgentToAgent, res.Type)
			assert.Equal(t, tt.want, res.Subtype)
		})
	}
}

func TestAgentRoleHeaderBeatsBody(t *testing.T) {
	c := New(testPlan(t), Options{})
	f := newFlow("POST", "http://svc/other", map[string]string{HeaderAgentRole: "planner"},
		`{"agent_role":"booker"}`)
	res := c.Classify(f, false)
	assert.Equal(t, "planner", res.AgentRole)

	f2 := newFlow("POST", "http://svc/other", nil, `{"agent_role":"booker"}`)
	assert.Equal(t, "booker", c.Classify(f2, false).AgentRole)
}

func TestStrictModeWithoutRulePacks(t *testing.T) {
	plan := testPlan(t)
	plan.ClassifierRulePacks = nil
	c := New(plan, Options{Strict: true})
	res := c.Classify(newFlow("GET", "http://svc/tools/x", nil, ""), false)
	assert.Equal(t, flow.TrafficUnknown, res.Type)
	assert.Error(t, res.Err)
}

func TestClientOverride(t *testing.T) {
	plan := testPlan(t)
	plan.Metadata.AllowClientOverride = true
	c := New(plan, Options{})
	hdrs := map[string]string{HeaderChaosType: "LLM_API"}

	// Unauthorized callers cannot override.
	res := c.Classify(newFlow("GET", "http://svc/tools/x", hdrs, ""), false)
	assert.Equal(t, flow.TrafficToolCall, res.Type)

	// Authorized callers can.
	res = c.Classify(newFlow("GET", "http://svc/tools/x", hdrs, ""), true)
	assert.Equal(t, flow.TrafficLLMAPI, res.Type)
}

func TestClassificationImmutableSubtypeNoneDefault(t *testing.T) {
	c := New(testPlan(t), Options{})
	f := newFlow("GET", "http://svc/tools/x", nil, "")
	c.Classify(f, false)
	assert.Equal(t, flow.SubtypeNone, f.Metadata.TrafficSubtype)
}
