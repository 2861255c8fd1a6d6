// Package scorecard aggregates per-run resilience counters from the event
// stream. The aggregator is fed by the bus's single pump goroutine
// (single-writer); reads take a snapshot under a short lock.
package scorecard

import (
	"context"
	"strings"
	"sync"

	"github.com/agentchaos/chaosproxy/pkg/event"
	"github.com/agentchaos/chaosproxy/pkg/flow"
	"github.com/agentchaos/chaosproxy/pkg/pii"
)

// Summary is the externally visible counter set.
type Summary struct {
	TotalRequests            uint64            `json:"total_requests"`
	ChaosInjections          uint64            `json:"chaos_injections"`
	SwarmCommunicationErrors map[string]uint64 `json:"swarm_communication_errors"`
	AgentToAgentDisruptions  uint64            `json:"agent_to_agent_disruptions"`
	ConsensusDelays          uint64            `json:"consensus_delays"`
	MessageMutations         uint64            `json:"message_mutations"`
	AgentIsolations          uint64            `json:"agent_isolations"`
	Hallucinations           uint64            `json:"hallucinations"`
	HallucinationRate        float64           `json:"hallucination_rate"`
	PIILeakageIncidents      uint64            `json:"pii_leakage_incidents"`
	ProtocolAttacks          uint64            `json:"protocol_attacks"`
	RaceConditionCandidates  uint64            `json:"race_condition_candidates"`
	ClassifierErrors         uint64            `json:"classifier_errors"`
	ChaosErrorCodesTotal     map[string]uint64 `json:"chaos_error_codes_total"`
	EventDrops               uint64            `json:"event_drops"`
}

// Aggregator consumes events and maintains the counters. Implements
// event.Consumer.
type Aggregator struct {
	mu sync.Mutex

	totalRequests   uint64
	chaosInjections uint64

	swarmErrors     map[string]uint64
	a2aDisruptions  uint64
	consensusDelays uint64
	msgMutations    uint64
	isolations      uint64

	hallucinations uint64
	piiIncidents   uint64
	protocolAtk    uint64

	classifierErrors uint64
	errorCodes       map[string]uint64

	races *raceDetector

	metrics *Metrics
}

// NewAggregator returns an empty aggregator. metrics may be nil when
// Prometheus export is not wired.
func NewAggregator(metrics *Metrics) *Aggregator {
	return &Aggregator{
		swarmErrors: make(map[string]uint64),
		errorCodes:  make(map[string]uint64),
		races:       newRaceDetector(),
		metrics:     metrics,
	}
}

// OnEvent folds one event into the counters. Request-phase events feed the
// race heuristic; terminal events feed everything else.
func (a *Aggregator) OnEvent(_ context.Context, ev event.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Phase {
	case event.PhaseRequest:
		a.races.onRequest(ev)
		return
	case event.PhaseError:
		if ev.ErrorCode != "" {
			a.errorCodes[ev.ErrorCode]++
			if strings.HasPrefix(ev.ErrorCode, "classifier") {
				a.classifierErrors++
			}
		}
	}

	a.totalRequests++
	a.races.onResponse(ev)
	if ev.ChaosApplied {
		a.chaosInjections++
	}
	if ev.ErrorCode != "" && ev.Phase != event.PhaseError {
		a.errorCodes[ev.ErrorCode]++
	}

	for _, s := range ev.AppliedStrategies {
		switch s {
		case "hallucination":
			a.hallucinations++
		case "mcp_fuzzing":
			a.protocolAtk++
		case "swarm_disruption":
			a.a2aDisruptions++
			switch ev.TrafficSubtype {
			case flow.SubtypeConsensusVote:
				a.consensusDelays++
				a.swarmErrors["consensus_delay"]++
			default:
				if ev.Status == 503 {
					a.isolations++
					a.swarmErrors["agent_isolation"]++
				} else {
					a.msgMutations++
					a.swarmErrors["message_mutation"]++
				}
			}
		case "group_failure":
			a.swarmErrors["group_failure"]++
		}
	}

	if strings.Contains(ev.URLRedacted, pii.RedactedEmail) ||
		strings.Contains(ev.URLRedacted, pii.RedactedCC) ||
		strings.Contains(ev.URLRedacted, pii.RedactedSecret) {
		a.piiIncidents++
	}

	if a.metrics != nil {
		a.metrics.observe(ev)
	}
}

func (a *Aggregator) snapshotLocked(drops uint64) Summary {
	s := Summary{
		TotalRequests:            a.totalRequests,
		ChaosInjections:          a.chaosInjections,
		SwarmCommunicationErrors: make(map[string]uint64, len(a.swarmErrors)),
		AgentToAgentDisruptions:  a.a2aDisruptions,
		ConsensusDelays:          a.consensusDelays,
		MessageMutations:         a.msgMutations,
		AgentIsolations:          a.isolations,
		Hallucinations:           a.hallucinations,
		PIILeakageIncidents:      a.piiIncidents,
		ProtocolAttacks:          a.protocolAtk,
		RaceConditionCandidates:  a.races.candidates,
		ClassifierErrors:         a.classifierErrors,
		ChaosErrorCodesTotal:     make(map[string]uint64, len(a.errorCodes)),
		EventDrops:               drops,
	}
	for k, v := range a.swarmErrors {
		s.SwarmCommunicationErrors[k] = v
	}
	for k, v := range a.errorCodes {
		s.ChaosErrorCodesTotal[k] = v
	}
	if a.totalRequests > 0 {
		s.HallucinationRate = float64(a.hallucinations) / float64(a.totalRequests)
	}
	return s
}

// Summary returns the current counters. drops is the bus's drop count.
func (a *Aggregator) Summary(drops uint64) Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked(drops)
}
