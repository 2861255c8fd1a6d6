// Package strategy implements the chaos mutators. Every strategy exposes
// the same capability set: intercept the request before upstream, intercept
// the response after, either may be a no-op. Strategies hold no per-flow
// state and are safe under concurrent invocation on distinct flows.
//
// A strategy that fails internally records an error code on the flow and
// leaves it otherwise untouched; the pipeline always continues.
package strategy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/agentchaos/chaosproxy/pkg/flow"
)

// Strategy is the uniform capability set of all mutators.
type Strategy interface {
	// Name is the registry tag, recorded in applied_strategies.
	Name() string

	// InterceptRequest mutates the request side. Setting a response on the
	// flow short-circuits the upstream call.
	InterceptRequest(ctx context.Context, f *flow.Flow, rng *rand.Rand) error

	// InterceptResponse mutates the response side.
	InterceptResponse(ctx context.Context, f *flow.Flow, rng *rand.Rand) error
}

// Constructor builds a strategy from its scenario params. Constructors run
// once at plan load; per-flow dispatch is a plain method call.
type Constructor func(params map[string]any) (Strategy, error)

// Registry maps strategy type tags to constructors.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns a registry with every built-in strategy registered.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register("latency", NewLatency)
	r.Register("error", NewErrorInjection)
	r.Register("data_corruption", NewDataCorruption)
	r.Register("mcp_fuzzing", NewMCPFuzzing)
	r.Register("hallucination", NewHallucination)
	r.Register("context_overflow", NewContextOverflow)
	r.Register("rag_poisoning", NewRAGPoisoning)
	r.Register("swarm_disruption", NewSwarmDisruption)
	r.Register("group_failure", NewGroupFailure)
	return r
}

// Register adds or replaces a constructor for a type tag.
func (r *Registry) Register(tag string, c Constructor) {
	r.constructors[tag] = c
}

// Build constructs a strategy instance for a scenario type.
func (r *Registry) Build(tag string, params map[string]any) (Strategy, error) {
	c, ok := r.constructors[tag]
	if !ok {
		return nil, fmt.Errorf("unknown strategy type %q", tag)
	}
	return c(params)
}

// Tags returns the registered type tags, sorted.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.constructors))
	for t := range r.constructors {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// baseStrategy provides the shared no-op halves.
type baseStrategy struct{ name string }

func (b baseStrategy) Name() string { return b.name }

func (baseStrategy) InterceptRequest(context.Context, *flow.Flow, *rand.Rand) error  { return nil }
func (baseStrategy) InterceptResponse(context.Context, *flow.Flow, *rand.Rand) error { return nil }
