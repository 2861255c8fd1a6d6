package chaosplan

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/agentchaos/chaosproxy/pkg/chaoserrors"
)

// LoadOptions tunes validation behavior.
type LoadOptions struct {
	// StrictClassifier requires at least one classifier rule pack
	// (CHAOS_CLASSIFIER_STRICT).
	StrictClassifier bool
}

// LoadPlan reads and validates a plan file. Every validation failure is
// collected before returning; callers get the full list in one error.
func LoadPlan(path string, opts LoadOptions) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &chaoserrors.PlanLoadError{
			Path:     path,
			Messages: []string{fmt.Sprintf("read: %v", err)},
		}
	}
	plan, err := parseAndValidate(data, path, opts)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// ValidatePlan checks plan bytes without installing anything. Returns nil
// when the plan is loadable.
func ValidatePlan(data []byte, opts LoadOptions) error {
	_, err := parseAndValidate(data, "<inline>", opts)
	return err
}

// ParsePlan parses and validates plan bytes; used by the control plane's
// POST /plan and by tests.
func ParsePlan(data []byte, opts LoadOptions) (*Plan, error) {
	return parseAndValidate(data, "<inline>", opts)
}

func parseAndValidate(data []byte, path string, opts LoadOptions) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, &chaoserrors.PlanLoadError{
			Path:     path,
			Messages: []string{fmt.Sprintf("yaml: %v", err)},
		}
	}

	var msgs []string
	fail := func(format string, args ...any) {
		msgs = append(msgs, fmt.Sprintf(format, args...))
	}

	if plan.Version == "" {
		fail("version: required")
	}
	if plan.Revision < 0 {
		fail("revision: must be >= 0, got %d", plan.Revision)
	}
	if plan.Metadata.Name == "" {
		fail("metadata.name: required")
	}
	if plan.Metadata.ExperimentID == "" {
		fail("metadata.experiment_id: required")
	}

	// Targets: unique names, known types, compilable patterns.
	targetIdx := make(map[string]int, len(plan.Targets))
	for i := range plan.Targets {
		t := &plan.Targets[i]
		p := fmt.Sprintf("targets[%d]", i)
		if t.Name == "" {
			fail("%s.name: required", p)
		} else if _, dup := targetIdx[t.Name]; dup {
			fail("%s.name: duplicate %q", p, t.Name)
		} else {
			targetIdx[t.Name] = i
		}
		switch t.Type {
		case TargetHTTPEndpoint, TargetLLMInput, TargetToolCall, TargetAgentRole, TargetCustom:
		case "":
			fail("%s.type: required", p)
		default:
			fail("%s.type: unknown type %q", p, t.Type)
		}
		if t.Pattern == "" {
			fail("%s.pattern: required", p)
		} else if re, err := regexp.Compile(t.Pattern); err != nil {
			fail("%s.pattern: %v", p, err)
		} else {
			t.re = re
		}
	}

	// Scenarios: unique names, resolvable target_ref, probability range.
	seenScenarios := make(map[string]struct{}, len(plan.Scenarios))
	for i := range plan.Scenarios {
		s := &plan.Scenarios[i]
		p := fmt.Sprintf("scenarios[%d]", i)
		if s.Name == "" {
			fail("%s.name: required", p)
		} else if _, dup := seenScenarios[s.Name]; dup {
			fail("%s.name: duplicate %q", p, s.Name)
		} else {
			seenScenarios[s.Name] = struct{}{}
		}
		if s.Type == "" {
			fail("%s.type: required", p)
		}
		s.targetIdx = -1
		if s.TargetRef == "" {
			fail("%s.target_ref: required", p)
		} else if idx, ok := targetIdx[s.TargetRef]; !ok {
			fail("%s.target_ref: no target named %q", p, s.TargetRef)
		} else {
			s.targetIdx = idx
		}
		if prob := s.EffectiveProbability(); prob < 0 || prob > 1 {
			fail("%s.probability: must be in [0,1], got %g", p, prob)
		}
	}

	// Classifier rules: every pattern in every pack must compile.
	validatePatterns := func(p string, patterns []string) {
		for j, pat := range patterns {
			if _, err := regexp.Compile(pat); err != nil {
				fail("%s[%d]: %v", p, j, err)
			}
		}
	}
	if plan.ClassifierRules != nil {
		validatePatterns("classifier_rules.agent_patterns", plan.ClassifierRules.AgentPatterns)
		validatePatterns("classifier_rules.llm_patterns", plan.ClassifierRules.LLMPatterns)
		validatePatterns("classifier_rules.tool_patterns", plan.ClassifierRules.ToolPatterns)
	}
	for i, pack := range plan.ClassifierRulePacks {
		p := fmt.Sprintf("classifier_rule_packs[%d]", i)
		if pack.Name == "" {
			fail("%s.name: required", p)
		}
		validatePatterns(p+".rules.agent_patterns", pack.Rules.AgentPatterns)
		validatePatterns(p+".rules.llm_patterns", pack.Rules.LLMPatterns)
		validatePatterns(p+".rules.tool_patterns", pack.Rules.ToolPatterns)
	}
	if opts.StrictClassifier && !plan.HasRulePacks() {
		fail("classifier_rule_packs: required in strict classifier mode")
	}

	if len(msgs) > 0 {
		return nil, &chaoserrors.PlanLoadError{Path: path, Messages: msgs}
	}
	return &plan, nil
}
