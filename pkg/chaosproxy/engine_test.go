package chaosproxy

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentchaos/chaosproxy/pkg/chaosplan"
	"github.com/agentchaos/chaosproxy/pkg/event"
	"github.com/agentchaos/chaosproxy/pkg/flow"
)

type eventCapture struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *eventCapture) OnEvent(_ context.Context, ev event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCapture) snapshot() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Event(nil), c.events...)
}

func parsePlan(t *testing.T, yamlPlan string) *chaosplan.Plan {
	t.Helper()
	plan, err := chaosplan.ParsePlan([]byte(yamlPlan), chaosplan.LoadOptions{})
	require.NoError(t, err)
	return plan
}

func newTestEngine(t *testing.T, yamlPlan string) (*Engine, *eventCapture) {
	t.Helper()
	capture := &eventCapture{}
	bus := event.NewBus(event.Config{Capacity: 256})
	bus.Register(capture)
	bus.Start(context.Background())
	t.Cleanup(bus.Close)

	engine, err := NewEngine(parsePlan(t, yamlPlan), Options{
		Config: Config{PIIRedaction: true},
		Bus:    bus,
	})
	require.NoError(t, err)
	return engine, capture
}

func newRequestFlow(method, url, body string, headers map[string]string) *flow.Flow {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &flow.Flow{
		Request: flow.Request{Method: method, URL: url, Headers: h, Body: []byte(body)},
		Start:   time.Now(),
	}
}

// drain lets the bus pump deliver everything published so far.
func drain(t *testing.T, capture *eventCapture, want int) []event.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		events := capture.snapshot()
		if len(events) >= want {
			return events
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, have %d", want, len(capture.snapshot()))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

const latencyPlan = `
version: "1"
revision: 1
metadata:
  name: latency-test
  experiment_id: exp-latency
targets:
  - name: all-x
    type: http_endpoint
    pattern: "http://x/.*"
scenarios:
  - name: slow
    type: latency
    target_ref: all-x
    probability: 1.0
    params:
      delay: 0.5
`

func TestLatencyScenario(t *testing.T) {
	engine, capture := newTestEngine(t, latencyPlan)
	f := newRequestFlow("GET", "http://x/a", "", nil)

	start := time.Now()
	session := engine.OnRequest(context.Background(), f)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond, "response delayed >= 500ms")
	assert.False(t, f.ShortCircuit)

	f.Response = &flow.Response{Status: 200, Headers: http.Header{}, Body: []byte("ok")}
	session.OnResponse(context.Background())

	events := drain(t, capture, 2)
	terminal := events[len(events)-1]
	assert.Equal(t, []string{"latency"}, terminal.AppliedStrategies)
	assert.True(t, terminal.ChaosApplied)
	assert.Equal(t, event.PhaseChaos, terminal.Phase)
	assert.GreaterOrEqual(t, terminal.LatencyMS, 500.0)
}

const errorPlan = `
version: "1"
revision: 1
metadata:
  name: error-test
  experiment_id: exp-error
targets:
  - name: pay
    type: http_endpoint
    pattern: ".*/pay"
scenarios:
  - name: pay-down
    type: error
    target_ref: pay
    probability: 1.0
    params:
      status: 503
      body: down
`

func TestErrorShortCircuitScenario(t *testing.T) {
	engine, capture := newTestEngine(t, errorPlan)
	f := newRequestFlow("POST", "http://api/pay", `{"amount":10}`, nil)

	session := engine.OnRequest(context.Background(), f)
	// Short-circuited before upstream: the adapter must not forward.
	require.True(t, f.ShortCircuit)
	require.NotNil(t, f.Response)
	assert.Equal(t, 503, f.Response.Status)
	assert.Equal(t, "down", string(f.Response.Body))

	session.OnResponse(context.Background())
	events := drain(t, capture, 2)
	terminal := events[len(events)-1]
	assert.True(t, terminal.ChaosApplied)
	assert.Equal(t, 503, terminal.Status)
}

const swarmPlan = `
version: "1"
revision: 1
metadata:
  name: swarm-test
  experiment_id: exp-swarm
targets:
  - name: a2a
    type: tool_call
    pattern: "AGENT_TO_AGENT"
scenarios:
  - name: isolate-7
    type: swarm_disruption
    target_ref: a2a
    probability: 1.0
    params:
      attack_type: agent_isolation
      isolated_agents: [agent-7]
`

func TestSwarmIsolationScenario(t *testing.T) {
	engine, capture := newTestEngine(t, swarmPlan)
	f := newRequestFlow("POST", "http://hub/msg", `{"sender_agent":"agent-7","recipient_agent":"agent-2"}`,
		map[string]string{"X-Agent-To-Agent": "true"})

	session := engine.OnRequest(context.Background(), f)
	require.True(t, f.ShortCircuit)
	assert.Equal(t, http.StatusServiceUnavailable, f.Response.Status)

	session.OnResponse(context.Background())
	events := drain(t, capture, 2)
	terminal := events[len(events)-1]
	assert.Equal(t, flow.TrafficAgentToAgent, terminal.TrafficType)
	assert.Equal(t, []string{"swarm_disruption"}, terminal.AppliedStrategies)
}

const recordPlan = `
version: "1"
revision: 1
metadata:
  name: record-test
  experiment_id: exp-record
targets:
  - name: all-svc
    type: http_endpoint
    pattern: "http://svc/.*"
scenarios:
  - name: poison
    type: rag_poisoning
    target_ref: all-svc
    probability: 1.0
    params:
      target_json_path: "$.results[*].text"
      mode: overwrite
      misinformation: [X, Y]
`

// runFlow simulates the interceptor: request hook, fake upstream if not
// short-circuited, response hook.
func runFlow(t *testing.T, engine *Engine, f *flow.Flow, upstream func(*flow.Flow)) {
	t.Helper()
	session := engine.OnRequest(context.Background(), f)
	if !f.ShortCircuit && upstream != nil {
		upstream(f)
	}
	session.OnResponse(context.Background())
}

func TestRecordReplayIdempotence(t *testing.T) {
	tapePath := filepath.Join(t.TempDir(), "run.tape.json")
	engine, _ := newTestEngine(t, recordPlan)
	require.NoError(t, engine.SetMode(chaosplan.ModeRecord, tapePath))

	upstream := func(f *flow.Flow) {
		f.Response = &flow.Response{
			Status:  200,
			Reason:  "OK",
			Headers: http.Header{"Content-Type": []string{"application/json"}},
			Body:    []byte(`{"results":[{"text":"A"},{"text":"B"}]}`),
		}
	}

	urls := []string{"http://svc/a", "http://svc/b", "http://svc/a"}
	var recorded [][]byte
	var recordedStrategies [][]string
	for _, u := range urls {
		f := newRequestFlow("GET", u, "", nil)
		runFlow(t, engine, f, upstream)
		require.NotNil(t, f.Response)
		recorded = append(recorded, append([]byte(nil), f.Response.Body...))
		recordedStrategies = append(recordedStrategies, append([]string(nil), f.Metadata.AppliedStrategies...))
	}

	// Chaos applied at record time: the tape stores mutated payloads.
	assert.JSONEq(t, `{"results":[{"text":"X"},{"text":"Y"}]}`, string(recorded[0]))

	// Switch to playback (flushes the tape) and reissue the same requests.
	require.NoError(t, engine.SetMode(chaosplan.ModePlayback, tapePath))
	for i, u := range urls {
		f := newRequestFlow("GET", u, "", nil)
		runFlow(t, engine, f, func(*flow.Flow) {
			t.Fatal("playback must not reach upstream")
		})
		require.NotNil(t, f.Response, "request %d", i)
		assert.Equal(t, recorded[i], f.Response.Body, "byte-identical payload for request %d", i)
		assert.Equal(t, recordedStrategies[i], f.Metadata.AppliedStrategies, "applied_strategies for request %d", i)
	}
}

func TestPlaybackMissSynthesizes404(t *testing.T) {
	tapePath := filepath.Join(t.TempDir(), "empty.tape.json")
	engine, _ := newTestEngine(t, recordPlan)
	require.NoError(t, engine.SetMode(chaosplan.ModeRecord, tapePath))
	require.NoError(t, engine.SetMode(chaosplan.ModePlayback, tapePath))

	f := newRequestFlow("GET", "http://svc/never-recorded", "", nil)
	runFlow(t, engine, f, func(*flow.Flow) { t.Fatal("no upstream in playback") })
	require.NotNil(t, f.Response)
	assert.Equal(t, http.StatusNotFound, f.Response.Status)
}

const badIgnorePathPlan = `
version: "1"
revision: 1
metadata:
  name: strict-replay-test
  experiment_id: exp-strict
targets:
  - name: all-svc
    type: http_endpoint
    pattern: "http://svc/.*"
scenarios:
  - name: slow
    type: latency
    target_ref: all-svc
    probability: 1.0
    params:
      delay: 0.01
replay_config:
  ignore_paths: ["$..recursive"]
`

func TestStrictReplayFingerprintFailureIsFatal(t *testing.T) {
	capture := &eventCapture{}
	bus := event.NewBus(event.Config{Capacity: 256})
	bus.Register(capture)
	bus.Start(context.Background())
	t.Cleanup(bus.Close)

	engine, err := NewEngine(parsePlan(t, badIgnorePathPlan), Options{
		Config: Config{PIIRedaction: true, StrictReplay: true},
		Bus:    bus,
	})
	require.NoError(t, err)

	f := newRequestFlow("POST", "http://svc/a", `{"q":1}`, nil)
	runFlow(t, engine, f, func(*flow.Flow) {
		t.Fatal("a strict-mode fingerprint failure must never reach upstream")
	})

	// Terminal for the flow: synthesized error, no strategies applied, no
	// unmasked-fingerprint fallback.
	require.True(t, f.ShortCircuit)
	require.NotNil(t, f.Response)
	assert.Equal(t, http.StatusInternalServerError, f.Response.Status)
	assert.Empty(t, f.Metadata.AppliedStrategies)
	assert.Empty(t, f.Metadata.Fingerprint)
	assert.Equal(t, "tape_io", f.Metadata.ErrorCode)

	events := drain(t, capture, 2)
	assert.Equal(t, event.PhaseError, events[len(events)-1].Phase)
}

func TestNonStrictReplaySkipsBadIgnorePath(t *testing.T) {
	engine, _ := newTestEngine(t, badIgnorePathPlan)
	f := newRequestFlow("POST", "http://svc/a", `{"q":1}`, nil)
	runFlow(t, engine, f, func(f *flow.Flow) {
		f.Response = &flow.Response{Status: 200, Headers: http.Header{}}
	})
	// Without strict mode the bad expression is skipped, not fatal.
	assert.Equal(t, 200, f.Response.Status)
	assert.NotEmpty(t, f.Metadata.Fingerprint)
	assert.Equal(t, []string{"latency"}, f.Metadata.AppliedStrategies)
}

func TestEventSeqMonotonicWithinFlow(t *testing.T) {
	engine, capture := newTestEngine(t, latencyPlan)
	f := newRequestFlow("GET", "http://other/no-match", "", nil)
	runFlow(t, engine, f, func(f *flow.Flow) {
		f.Response = &flow.Response{Status: 200, Headers: http.Header{}}
	})

	events := drain(t, capture, 2)
	require.Len(t, events, 2)
	assert.Equal(t, event.PhaseRequest, events[0].Phase)
	assert.Greater(t, events[1].Seq, events[0].Seq)
}

func TestInstallPlanRejectsBadScenarioAndKeepsOld(t *testing.T) {
	engine, _ := newTestEngine(t, latencyPlan)
	oldRevision := engine.Plan().Revision

	bad := parsePlan(t, `
version: "1"
revision: 2
metadata:
  name: bad
  experiment_id: exp
targets:
  - name: t1
    type: http_endpoint
    pattern: ".*"
scenarios:
  - name: unknown-type
    type: does_not_exist
    target_ref: t1
`)
	err := engine.InstallPlan(bad)
	require.Error(t, err)
	assert.Equal(t, oldRevision, engine.Plan().Revision)

	good := parsePlan(t, `
version: "1"
revision: 2
metadata:
  name: good
  experiment_id: exp
targets:
  - name: t1
    type: http_endpoint
    pattern: ".*"
scenarios: []
`)
	require.NoError(t, engine.InstallPlan(good))
	assert.EqualValues(t, 2, engine.Plan().Revision)
}

func TestPIIRedactedInEvents(t *testing.T) {
	engine, capture := newTestEngine(t, latencyPlan)
	f := newRequestFlow("GET", "http://other/lookup?email=alice@example.com", "", nil)
	runFlow(t, engine, f, func(f *flow.Flow) {
		f.Response = &flow.Response{Status: 200, Headers: http.Header{}}
	})

	events := drain(t, capture, 2)
	for _, ev := range events {
		assert.NotContains(t, ev.URLRedacted, "alice@example.com")
		assert.Contains(t, ev.URLRedacted, "<email>")
	}
}

func TestProbabilityZeroNeverTriggers(t *testing.T) {
	plan := `
version: "1"
revision: 1
metadata:
  name: p0
  experiment_id: exp
targets:
  - name: all
    type: http_endpoint
    pattern: ".*"
scenarios:
  - name: never
    type: error
    target_ref: all
    probability: 0.0
    params: {status: 500}
`
	engine, _ := newTestEngine(t, plan)
	for i := 0; i < 50; i++ {
		f := newRequestFlow("GET", "http://x/a", "", nil)
		runFlow(t, engine, f, func(f *flow.Flow) {
			f.Response = &flow.Response{Status: 200, Headers: http.Header{}}
		})
		assert.Equal(t, 200, f.Response.Status)
		assert.Empty(t, f.Metadata.AppliedStrategies)
	}
}
