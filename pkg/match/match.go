// Package match resolves which strategies apply to a classified flow. The
// draw is deterministic: the per-flow RNG is seeded from the plan's
// experiment id and the flow fingerprint, so the same request under the
// same plan triggers the same strategies in record and in playback.
package match

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"

	"github.com/agentchaos/chaosproxy/pkg/chaosplan"
	"github.com/agentchaos/chaosproxy/pkg/flow"
)

// Match is one scenario selected for a flow, in plan order. Index is the
// scenario's position in the plan, for looking up compiled artifacts.
type Match struct {
	Scenario *chaosplan.Scenario
	Target   *chaosplan.Target
	Index    int
}

// FlowRNG returns the deterministic per-flow RNG:
// seed = HMAC-SHA256(experiment_id, fingerprint), feeding a PCG source.
func FlowRNG(experimentID, fingerprintKey string) *rand.Rand {
	mac := hmac.New(sha256.New, []byte(experimentID))
	mac.Write([]byte(fingerprintKey))
	sum := mac.Sum(nil)
	seed1 := binary.BigEndian.Uint64(sum[0:8])
	seed2 := binary.BigEndian.Uint64(sum[8:16])
	return rand.New(rand.NewPCG(seed1, seed2))
}

// Strategies walks the plan's scenarios in order and returns the execution
// list for f. rng must be the flow's own RNG; the draw happens only after
// the target test passes, matching the recorded behavior on playback.
func Strategies(plan *chaosplan.Plan, f *flow.Flow, rng *rand.Rand) []Match {
	var out []Match
	for i := range plan.Scenarios {
		s := &plan.Scenarios[i]
		if !s.IsEnabled() {
			continue
		}
		target := plan.TargetFor(s)
		if target == nil {
			continue
		}
		if !targetApplies(target, f) {
			continue
		}
		if s.TargetSubtype != "" && flow.TrafficSubtype(s.TargetSubtype) != f.Metadata.TrafficSubtype {
			continue
		}
		if u := rng.Float64(); u >= s.EffectiveProbability() {
			continue
		}
		out = append(out, Match{Scenario: s, Target: target, Index: i})
	}
	return out
}

// targetApplies tests the target pattern against the flow facet its type
// selects.
func targetApplies(t *chaosplan.Target, f *flow.Flow) bool {
	switch t.Type {
	case chaosplan.TargetHTTPEndpoint:
		return t.Match(f.Request.URL)
	case chaosplan.TargetToolCall, chaosplan.TargetLLMInput:
		return t.Match(string(f.Metadata.TrafficType))
	case chaosplan.TargetAgentRole:
		return f.Metadata.AgentRole != "" && t.Match(f.Metadata.AgentRole)
	case chaosplan.TargetCustom:
		if t.Match(f.Request.URL) {
			return true
		}
		if t.Match(string(f.Metadata.TrafficType)) {
			return true
		}
		return f.Metadata.AgentRole != "" && t.Match(f.Metadata.AgentRole)
	}
	return false
}
