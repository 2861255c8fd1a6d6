// Package classifier tags each flow with a TrafficType and TrafficSubtype
// before strategy matching. Classification is stateless given a compiled
// rule set; the result is written once to the flow's metadata and is
// immutable for the remainder of the flow.
package classifier

import (
	"regexp"
	"strings"

	"github.com/agentchaos/chaosproxy/pkg/chaosplan"
	"github.com/agentchaos/chaosproxy/pkg/flow"
	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
)

// Header signals checked before any URL or body inspection.
const (
	HeaderAgentToAgent = "X-Agent-To-Agent"
	HeaderSwarmMessage = "X-Swarm-Message"
	HeaderAgentSubtype = "X-Agent-Subtype"
	HeaderAgentRole    = "X-Agent-Role"

	// Client override headers, honored only when the plan allows it and the
	// caller is authorized.
	HeaderChaosType    = "X-Agent-Chaos-Type"
	HeaderChaosSubtype = "X-Agent-Chaos-Subtype"
)

type compiledPattern struct {
	expr string
	re   *regexp.Regexp
}

// Classifier is a compiled rule set. Safe for concurrent use.
type Classifier struct {
	agentPatterns []compiledPattern
	llmPatterns   []compiledPattern
	toolPatterns  []compiledPattern

	// strict forces UNKNOWN when the plan carried no rule packs.
	strict       bool
	hasRulePacks bool

	// allowOverride honors X-Agent-Chaos-Type from authorized clients.
	allowOverride bool
}

// Options configures classifier compilation.
type Options struct {
	// Strict requires classifier rule packs (CHAOS_CLASSIFIER_STRICT);
	// without them every flow classifies UNKNOWN and counts an error.
	Strict bool
}

// New compiles the merged classifier rules of a validated plan. Patterns
// were regex-checked at plan load; a compile failure here means the plan
// bypassed validation and is treated as no-match.
func New(plan *chaosplan.Plan, opts Options) *Classifier {
	rules := plan.MergedClassifierRules()
	c := &Classifier{
		strict:        opts.Strict,
		hasRulePacks:  plan.HasRulePacks(),
		allowOverride: plan.Metadata.AllowClientOverride,
	}
	compile := func(patterns []string) []compiledPattern {
		out := make([]compiledPattern, 0, len(patterns))
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				continue
			}
			out = append(out, compiledPattern{expr: p, re: re})
		}
		return out
	}
	c.agentPatterns = compile(rules.AgentPatterns)
	c.llmPatterns = compile(rules.LLMPatterns)
	c.toolPatterns = compile(rules.ToolPatterns)
	return c
}

// Result is one classification outcome.
type Result struct {
	Type      flow.TrafficType
	Subtype   flow.TrafficSubtype
	AgentRole string

	// Err is set when classification degraded (strict mode without rule
	// packs). The flow is still tagged UNKNOWN and processing continues.
	Err error
}

// Classify tags f's metadata. overrideAuthorized reports whether the
// caller may use the X-Agent-Chaos-Type escape hatch.
func (c *Classifier) Classify(f *flow.Flow, overrideAuthorized bool) Result {
	res := c.classify(f, overrideAuthorized)
	if res.Subtype == "" {
		res.Subtype = flow.SubtypeNone
	}
	f.Metadata.TrafficType = res.Type
	f.Metadata.TrafficSubtype = res.Subtype
	f.Metadata.AgentRole = res.AgentRole
	return res
}

func (c *Classifier) classify(f *flow.Flow, overrideAuthorized bool) Result {
	role := c.agentRole(f)

	// Client override short-circuits everything when allowed.
	if c.allowOverride && overrideAuthorized {
		if t := f.Header(HeaderChaosType); t != "" {
			if tt, ok := parseTrafficType(t); ok {
				return Result{
					Type:      tt,
					Subtype:   parseSubtype(f.Header(HeaderChaosSubtype)),
					AgentRole: role,
				}
			}
		}
	}

	// 1. Header signal wins over every URL or body rule.
	if isTrue(f.Header(HeaderAgentToAgent)) || isTrue(f.Header(HeaderSwarmMessage)) {
		return Result{
			Type:      flow.TrafficAgentToAgent,
			Subtype:   c.agentSubtype(f),
			AgentRole: role,
		}
	}

	if c.strict && !c.hasRulePacks {
		return Result{Type: flow.TrafficUnknown, AgentRole: role, Err: errNoRulePacks}
	}

	// 2. Rule-pack URL match: agent, then llm, then tool.
	url := f.Request.URL
	if match(c.agentPatterns, url) {
		return Result{Type: flow.TrafficAgentToAgent, Subtype: c.agentSubtype(f), AgentRole: role}
	}
	if match(c.llmPatterns, url) {
		return Result{Type: flow.TrafficLLMAPI, AgentRole: role}
	}
	if match(c.toolPatterns, url) {
		return Result{Type: flow.TrafficToolCall, AgentRole: role}
	}

	// 3. Body structure, JSON objects only.
	if body, ok := jsonutil.Object(f.Request.Body); ok {
		if isAgentBody(body) {
			return Result{Type: flow.TrafficAgentToAgent, Subtype: c.agentSubtype(f), AgentRole: role}
		}
		if _, ok := body["messages"].([]any); ok {
			if _, hasModel := body["model"]; hasModel {
				return Result{Type: flow.TrafficLLMAPI, AgentRole: role}
			}
			return Result{Type: flow.TrafficToolCall, AgentRole: role}
		}
		if len(body) > 0 {
			return Result{Type: flow.TrafficToolCall, AgentRole: role}
		}
	}

	return Result{Type: flow.TrafficUnknown, AgentRole: role}
}

// match applies one category's patterns: longest expression wins; the
// strict comparison over merged plan order breaks ties in favor of the
// earlier pattern.
func match(patterns []compiledPattern, url string) bool {
	bestLen := -1
	for _, p := range patterns {
		if !p.re.MatchString(url) {
			continue
		}
		if len(p.expr) > bestLen {
			bestLen = len(p.expr)
		}
	}
	return bestLen >= 0
}

// isAgentBody recognizes explicit sender/recipient envelopes and the
// AutoGen/Swarm message shape.
func isAgentBody(body map[string]any) bool {
	_, hasSender := body["sender_agent"]
	_, hasRecipient := body["recipient_agent"]
	if hasSender && hasRecipient {
		return true
	}
	if _, hasAgentID := body["agent_id"]; !hasAgentID {
		return false
	}
	msgs, ok := body["messages"].([]any)
	if !ok {
		return false
	}
	for _, m := range msgs {
		obj, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if role, _ := obj["role"].(string); role == "assistant" || role == "tool" {
			return true
		}
	}
	return false
}

// agentSubtype refines an AGENT_TO_AGENT classification.
func (c *Classifier) agentSubtype(f *flow.Flow) flow.TrafficSubtype {
	if s := parseSubtype(f.Header(HeaderAgentSubtype)); s != flow.SubtypeNone {
		return s
	}

	body, _ := jsonutil.Object(f.Request.Body)

	// supervisor -> worker: role fields naming both ends.
	sender := strings.ToLower(stringField(body, "sender_role", "sender_agent", "agent_role", "role"))
	recipient := strings.ToLower(stringField(body, "recipient_role", "recipient_agent"))
	if strings.Contains(sender, "supervisor") && strings.Contains(recipient, "worker") {
		return flow.SubtypeSupervisorToWorker
	}

	if strings.Contains(f.Request.URL, "/vote") {
		return flow.SubtypeConsensusVote
	}
	if body != nil {
		if _, ok := body["vote"]; ok {
			return flow.SubtypeConsensusVote
		}
		if _, ok := body["autogen_version"]; ok {
			return flow.SubtypeAutogenMessage
		}
		if _, ok := body["swarm_id"]; ok {
			return flow.SubtypeSwarmMessage
		}
	}
	return flow.SubtypeWorkerCommunication
}

// agentRole extracts the acting agent's role: header first, body second.
func (c *Classifier) agentRole(f *flow.Flow) string {
	if role := f.Header(HeaderAgentRole); role != "" {
		return role
	}
	if body, ok := jsonutil.Object(f.Request.Body); ok {
		if role := stringField(body, "agent_role", "role"); role != "" {
			return role
		}
	}
	return ""
}

func stringField(body map[string]any, keys ...string) string {
	if body == nil {
		return ""
	}
	for _, k := range keys {
		if v, ok := body[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func parseTrafficType(s string) (flow.TrafficType, bool) {
	switch flow.TrafficType(strings.ToUpper(s)) {
	case flow.TrafficToolCall:
		return flow.TrafficToolCall, true
	case flow.TrafficLLMAPI:
		return flow.TrafficLLMAPI, true
	case flow.TrafficAgentToAgent:
		return flow.TrafficAgentToAgent, true
	case flow.TrafficUnknown:
		return flow.TrafficUnknown, true
	}
	return "", false
}

func parseSubtype(s string) flow.TrafficSubtype {
	switch flow.TrafficSubtype(strings.ToLower(s)) {
	case flow.SubtypeSupervisorToWorker:
		return flow.SubtypeSupervisorToWorker
	case flow.SubtypeConsensusVote:
		return flow.SubtypeConsensusVote
	case flow.SubtypeWorkerCommunication:
		return flow.SubtypeWorkerCommunication
	case flow.SubtypeAutogenMessage:
		return flow.SubtypeAutogenMessage
	case flow.SubtypeSwarmMessage:
		return flow.SubtypeSwarmMessage
	}
	return flow.SubtypeNone
}

func isTrue(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	}
	return false
}
