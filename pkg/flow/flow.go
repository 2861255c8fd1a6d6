// Package flow defines the per-request state that moves through the chaos
// pipeline. A Flow is created by the interception adapter when a request
// arrives, mutated in place by classification and strategies, and released
// when the response has been written back to the agent.
package flow

import (
	"net/http"
	"time"
)

// TrafficType classifies the purpose of a flow.
type TrafficType string

const (
	TrafficToolCall     TrafficType = "TOOL_CALL"
	TrafficLLMAPI       TrafficType = "LLM_API"
	TrafficAgentToAgent TrafficType = "AGENT_TO_AGENT"
	TrafficUnknown      TrafficType = "UNKNOWN"
)

// TrafficSubtype refines AGENT_TO_AGENT flows.
type TrafficSubtype string

const (
	SubtypeSupervisorToWorker  TrafficSubtype = "supervisor_to_worker"
	SubtypeConsensusVote       TrafficSubtype = "consensus_vote"
	SubtypeWorkerCommunication TrafficSubtype = "worker_communication"
	SubtypeAutogenMessage      TrafficSubtype = "autogen_message"
	SubtypeSwarmMessage        TrafficSubtype = "swarm_message"
	SubtypeNone                TrafficSubtype = "none"
)

// Request is the mutable request half of a flow.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Response is the mutable response half of a flow. Nil until the upstream
// answers or a strategy short-circuits.
type Response struct {
	Status  int
	Reason  string
	Headers http.Header
	Body    []byte
}

// Metadata is the chaos bookkeeping attached to a flow. TrafficType and
// TrafficSubtype are immutable once the classifier has written them.
type Metadata struct {
	TrafficType       TrafficType
	TrafficSubtype    TrafficSubtype
	AgentRole         string
	AppliedStrategies []string
	ChaosApplied      bool
	Fingerprint       string
	Sequence          uint64

	// ErrorCode carries the first strategy/classifier failure observed on
	// this flow, for the event record. Empty when the flow was clean.
	ErrorCode string

	// Cancelled is set when a suspension (latency, consensus delay) was
	// aborted by the interceptor before its deadline.
	Cancelled bool
}

// Flow is one request/response exchange owned by the interception adapter
// for its lifetime. Strategies mutate Request/Response in place; a strategy
// that sets Response before the upstream call short-circuits the flow.
type Flow struct {
	Request  Request
	Response *Response
	Metadata Metadata

	// Start is when the adapter accepted the request; used for latency_ms.
	Start time.Time

	// ShortCircuit marks the flow as terminal before upstream: the adapter
	// must write Response without forwarding.
	ShortCircuit bool
}

// RecordStrategy appends a strategy name to the applied list and marks the
// flow as chaos-touched. Duplicate names are kept; order is plan order.
func (f *Flow) RecordStrategy(name string) {
	f.Metadata.AppliedStrategies = append(f.Metadata.AppliedStrategies, name)
	f.Metadata.ChaosApplied = true
}

// RecordError stores the first error code seen on this flow.
func (f *Flow) RecordError(code string) {
	if f.Metadata.ErrorCode == "" {
		f.Metadata.ErrorCode = code
	}
}

// SetResponse installs a synthesized response and short-circuits the flow.
func (f *Flow) SetResponse(status int, headers http.Header, body []byte) {
	if headers == nil {
		headers = make(http.Header)
	}
	f.Response = &Response{
		Status:  status,
		Reason:  http.StatusText(status),
		Headers: headers,
		Body:    body,
	}
	f.ShortCircuit = true
}

// Header returns the first value of a request header, "" when absent.
func (f *Flow) Header(key string) string {
	if f.Request.Headers == nil {
		return ""
	}
	return f.Request.Headers.Get(key)
}
