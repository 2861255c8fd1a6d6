// Package event defines the per-flow trace record and the bounded bus
// that fans it out to the log sink, the dashboard, and the scorecard.
package event

import (
	"time"

	"github.com/agentchaos/chaosproxy/pkg/flow"
)

// Phase marks where in the flow lifecycle an event was emitted.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
	PhaseChaos    Phase = "chaos"
	PhaseError    Phase = "error"
)

// Event is one structured trace record. URL and role fields are already
// PII-redacted by the emitter; consumers never see raw values.
type Event struct {
	T                 time.Time           `json:"t"`
	Seq               uint64              `json:"seq"`
	Phase             Phase               `json:"phase"`
	TrafficType       flow.TrafficType    `json:"traffic_type"`
	TrafficSubtype    flow.TrafficSubtype `json:"traffic_subtype"`
	AgentRole         string              `json:"agent_role,omitempty"`
	URLRedacted       string              `json:"url_redacted"`
	Method            string              `json:"method"`
	Status            int                 `json:"status,omitempty"`
	AppliedStrategies []string            `json:"applied_strategies"`
	ChaosApplied      bool                `json:"chaos_applied"`
	LatencyMS         float64             `json:"latency_ms"`
	ErrorCode         string              `json:"error_code,omitempty"`
}

// IsError reports whether the event must survive backpressure drops.
func (e *Event) IsError() bool { return e.Phase == PhaseError || e.ErrorCode != "" }
