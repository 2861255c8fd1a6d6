// Package tape implements the record/replay store. A Recorder owns the
// tape for the lifetime of a RECORD run and flushes one JSON document at
// graceful shutdown; a Player loads and indexes every entry at PLAYBACK
// start and serves responses without any upstream traffic.
package tape

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/agentchaos/chaosproxy/pkg/chaoserrors"
	"github.com/agentchaos/chaosproxy/pkg/fingerprint"
	"github.com/agentchaos/chaosproxy/pkg/flow"
	"github.com/agentchaos/chaosproxy/pkg/jsonpath"
	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
)

// Version is the tape format version.
const Version = "1"

// maskSentinel replaces ignored JSON body paths before hashing.
const maskSentinel = "__chaos_masked__"

// ResponseSnapshot is the stored response; body bytes are hex-encoded in
// the JSON form so tapes stay valid UTF-8 documents.
type ResponseSnapshot struct {
	Status          int                 `json:"status"`
	Reason          string              `json:"reason"`
	Headers         map[string][]string `json:"headers"`
	BodyHex         string              `json:"body_bytes"`
	ContentEncoding string              `json:"content_encoding,omitempty"`
}

// Body decodes the hex-encoded body bytes.
func (s *ResponseSnapshot) Body() []byte {
	b, err := hex.DecodeString(s.BodyHex)
	if err != nil {
		return nil
	}
	return b
}

// ChaosContext is the chaos metadata captured with a response, restored
// onto the flow at playback.
type ChaosContext struct {
	AppliedStrategies []string            `json:"applied_strategies"`
	ChaosApplied      bool                `json:"chaos_applied"`
	TrafficType       flow.TrafficType    `json:"traffic_type"`
	TrafficSubtype    flow.TrafficSubtype `json:"traffic_subtype"`
	AgentRole         string              `json:"agent_role,omitempty"`
}

// Entry is one recorded exchange.
type Entry struct {
	Fingerprint  fingerprint.Fingerprint `json:"fingerprint"`
	Response     ResponseSnapshot        `json:"response_snapshot"`
	ChaosContext ChaosContext            `json:"chaos_context"`
	Timestamp    time.Time               `json:"timestamp"`
	Sequence     uint64                  `json:"sequence"`
}

// Metadata describes the recording run.
type Metadata struct {
	CreatedAt       time.Time `json:"created_at"`
	RecorderVersion string    `json:"recorder_version"`
}

// Tape is the stored document: one JSON object per file.
type Tape struct {
	Version  string   `json:"version"`
	Metadata Metadata `json:"metadata"`
	Entries  []Entry  `json:"entries"`
}

// FingerprintOptions carries the plan's replay_config plus the strict
// JSONPath flag (CHAOS_REPLAY_STRICT).
type FingerprintOptions struct {
	IgnoreParams []string
	IgnorePaths  []string
	Strict       bool
}

// FlowFingerprint computes a flow's fingerprint with record-time
// normalization: ignored query params are dropped and ignored JSON body
// paths are masked to a sentinel before hashing. In strict replay mode an
// unsupported JSONPath expression is a fatal error, never a fallback.
func FlowFingerprint(f *flow.Flow, opts FingerprintOptions) (fingerprint.Fingerprint, error) {
	body := f.Request.Body
	if len(opts.IgnorePaths) > 0 {
		masked, err := maskBody(body, opts.IgnorePaths, opts.Strict)
		if err != nil {
			return fingerprint.Fingerprint{}, err
		}
		body = masked
	}
	return fingerprint.Compute(f.Request.Method, f.Request.URL, f.Request.Headers, body,
		fingerprint.Options{IgnoreParams: opts.IgnoreParams}), nil
}

// maskBody masks matched paths in a JSON request body. Non-JSON bodies
// pass through unchanged; the mask never fires on them.
func maskBody(body []byte, paths []string, strict bool) ([]byte, error) {
	doc, ok := jsonutil.Document(body)
	if !ok {
		return body, nil
	}
	masked := false
	for _, expr := range paths {
		p, err := jsonpath.Parse(expr)
		if err != nil {
			if strict {
				return nil, &chaoserrors.TapeIOError{Op: "mask", Path: expr, Err: err}
			}
			continue
		}
		if p.Apply(doc, func(any) any { return maskSentinel }) > 0 {
			masked = true
		}
	}
	if !masked {
		return body, nil
	}
	out, err := jsonutil.Marshal(doc)
	if err != nil {
		return body, nil
	}
	return out, nil
}

// snapshotResponse captures a flow's response for storage.
func snapshotResponse(f *flow.Flow) ResponseSnapshot {
	resp := f.Response
	headers := make(map[string][]string, len(resp.Headers))
	for k, vs := range resp.Headers {
		headers[k] = append([]string(nil), vs...)
	}
	return ResponseSnapshot{
		Status:          resp.Status,
		Reason:          resp.Reason,
		Headers:         headers,
		BodyHex:         hex.EncodeToString(resp.Body),
		ContentEncoding: resp.Headers.Get("Content-Encoding"),
	}
}

// restoreResponse installs a snapshot on a flow without marking it as a
// strategy short-circuit.
func restoreResponse(f *flow.Flow, s *ResponseSnapshot) {
	h := make(http.Header, len(s.Headers))
	for k, vs := range s.Headers {
		h[k] = append([]string(nil), vs...)
	}
	f.Response = &flow.Response{
		Status:  s.Status,
		Reason:  s.Reason,
		Headers: h,
		Body:    s.Body(),
	}
}
