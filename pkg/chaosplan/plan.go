// Package chaosplan loads, validates, and holds the declarative chaos plan.
// A plan is parsed with total up-front validation and stored as an
// immutable snapshot; reload swaps the snapshot pointer atomically and
// in-flight flows keep the reference they started with.
package chaosplan

import (
	"regexp"
)

// TargetType selects how a target's pattern is tested against a flow.
type TargetType string

const (
	TargetHTTPEndpoint TargetType = "http_endpoint"
	TargetLLMInput     TargetType = "llm_input"
	TargetToolCall     TargetType = "tool_call"
	TargetAgentRole    TargetType = "agent_role"
	TargetCustom       TargetType = "custom"
)

// Mode is the proxy operating mode.
type Mode string

const (
	ModeLive     Mode = "live"
	ModeRecord   Mode = "record"
	ModePlayback Mode = "playback"
)

// Metadata describes the experiment a plan belongs to.
type Metadata struct {
	Name         string `yaml:"name" json:"name"`
	ExperimentID string `yaml:"experiment_id" json:"experiment_id"`
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`

	// AllowClientOverride lets a request carrying X-Agent-Chaos-Type skip
	// classification. Gated by control-plane auth.
	AllowClientOverride bool `yaml:"allow_client_override,omitempty" json:"allow_client_override,omitempty"`
}

// Target is a named pattern describing which flows a strategy applies to.
type Target struct {
	Name        string     `yaml:"name" json:"name"`
	Type        TargetType `yaml:"type" json:"type"`
	Pattern     string     `yaml:"pattern" json:"pattern"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`

	re *regexp.Regexp
}

// Match tests the compiled pattern against s.
func (t *Target) Match(s string) bool {
	if t.re == nil {
		return false
	}
	return t.re.MatchString(s)
}

// Scenario is one configured strategy instance.
type Scenario struct {
	Name          string         `yaml:"name" json:"name"`
	Type          string         `yaml:"type" json:"type"`
	TargetRef     string         `yaml:"target_ref" json:"target_ref"`
	Enabled       *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Probability   *float64       `yaml:"probability,omitempty" json:"probability,omitempty"`
	TargetSubtype string         `yaml:"target_subtype,omitempty" json:"target_subtype,omitempty"`
	Params        map[string]any `yaml:"params,omitempty" json:"params,omitempty"`

	// targetIdx indexes into Plan.Targets after validation; references are
	// resolved by index, never by name lookup per flow.
	targetIdx int
}

// IsEnabled reports the scenario's enabled flag, defaulting to true.
func (s *Scenario) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// EffectiveProbability returns the trigger probability, defaulting to 1.
func (s *Scenario) EffectiveProbability() float64 {
	if s.Probability == nil {
		return 1.0
	}
	return *s.Probability
}

// ClassifierRules is one category's URL pattern list.
type ClassifierRules struct {
	AgentPatterns []string `yaml:"agent_patterns,omitempty" json:"agent_patterns,omitempty"`
	LLMPatterns   []string `yaml:"llm_patterns,omitempty" json:"llm_patterns,omitempty"`
	ToolPatterns  []string `yaml:"tool_patterns,omitempty" json:"tool_patterns,omitempty"`
}

// ClassifierRulePack is a named, shareable rule set. Packs are merged in
// plan order at load time.
type ClassifierRulePack struct {
	Name  string          `yaml:"name" json:"name"`
	Rules ClassifierRules `yaml:"rules" json:"rules"`
}

// ReplayConfig tunes fingerprint normalization for record/replay.
type ReplayConfig struct {
	// IgnorePaths are JSONPath expressions masked in JSON request bodies
	// before hashing.
	IgnorePaths []string `yaml:"ignore_paths,omitempty" json:"ignore_paths,omitempty"`

	// IgnoreParams are query parameter names dropped from the normalized URL.
	IgnoreParams []string `yaml:"ignore_params,omitempty" json:"ignore_params,omitempty"`
}

// Plan is the immutable, validated chaos plan snapshot.
type Plan struct {
	Version  string   `yaml:"version" json:"version"`
	Revision int64    `yaml:"revision" json:"revision"`
	Metadata Metadata `yaml:"metadata" json:"metadata"`

	Targets   []Target   `yaml:"targets" json:"targets"`
	Scenarios []Scenario `yaml:"scenarios" json:"scenarios"`

	ClassifierRules     *ClassifierRules     `yaml:"classifier_rules,omitempty" json:"classifier_rules,omitempty"`
	ClassifierRulePacks []ClassifierRulePack `yaml:"classifier_rule_packs,omitempty" json:"classifier_rule_packs,omitempty"`

	ReplayConfig ReplayConfig `yaml:"replay_config,omitempty" json:"replay_config,omitempty"`
}

// TargetFor returns the resolved target of a validated scenario.
func (p *Plan) TargetFor(s *Scenario) *Target {
	if s.targetIdx < 0 || s.targetIdx >= len(p.Targets) {
		return nil
	}
	return &p.Targets[s.targetIdx]
}

// MergedClassifierRules flattens the inline override plus every rule pack,
// preserving plan order so longest-pattern ties break deterministically.
func (p *Plan) MergedClassifierRules() ClassifierRules {
	var merged ClassifierRules
	if p.ClassifierRules != nil {
		merged.AgentPatterns = append(merged.AgentPatterns, p.ClassifierRules.AgentPatterns...)
		merged.LLMPatterns = append(merged.LLMPatterns, p.ClassifierRules.LLMPatterns...)
		merged.ToolPatterns = append(merged.ToolPatterns, p.ClassifierRules.ToolPatterns...)
	}
	for _, pack := range p.ClassifierRulePacks {
		merged.AgentPatterns = append(merged.AgentPatterns, pack.Rules.AgentPatterns...)
		merged.LLMPatterns = append(merged.LLMPatterns, pack.Rules.LLMPatterns...)
		merged.ToolPatterns = append(merged.ToolPatterns, pack.Rules.ToolPatterns...)
	}
	return merged
}

// HasRulePacks reports whether any classifier rule pack is configured.
func (p *Plan) HasRulePacks() bool {
	return len(p.ClassifierRulePacks) > 0
}
