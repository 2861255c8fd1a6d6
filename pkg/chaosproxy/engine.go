// Package chaosproxy ties the pipeline together: classify, fingerprint,
// match, mutate, record or replay, emit. The engine exposes the
// on_request/on_response hook pair the interception adapter calls; it owns
// no sockets itself.
package chaosproxy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/agentchaos/chaosproxy/pkg/chaoserrors"
	"github.com/agentchaos/chaosproxy/pkg/chaosplan"
	"github.com/agentchaos/chaosproxy/pkg/classifier"
	"github.com/agentchaos/chaosproxy/pkg/event"
	"github.com/agentchaos/chaosproxy/pkg/fingerprint"
	"github.com/agentchaos/chaosproxy/pkg/flow"
	"github.com/agentchaos/chaosproxy/pkg/match"
	"github.com/agentchaos/chaosproxy/pkg/pii"
	"github.com/agentchaos/chaosproxy/pkg/strategy"
	"github.com/agentchaos/chaosproxy/pkg/tape"
)

// compiledPlan pairs a plan snapshot with its classifier and constructed
// strategy instances, one per scenario. Built once per install; flows only
// read it.
type compiledPlan struct {
	plan       *chaosplan.Plan
	classifier *classifier.Classifier
	strategies []strategy.Strategy
}

// Engine is the chaos data path. Safe for concurrent flows.
type Engine struct {
	cfg      Config
	store    *chaosplan.Store
	registry *strategy.Registry
	bus      *event.Bus
	redactor *pii.Redactor
	logger   *slog.Logger
	tracer   trace.Tracer

	compiled atomic.Pointer[compiledPlan]
	seq      atomic.Uint64
	eventSeq atomic.Uint64
	start    time.Time

	modeMu   sync.RWMutex
	mode     chaosplan.Mode
	recorder *tape.Recorder
	player   *tape.Player
}

// Options configures engine construction.
type Options struct {
	Config   Config
	Bus      *event.Bus
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Registry *strategy.Registry
}

// NewEngine compiles the initial plan and returns a live-mode engine.
func NewEngine(plan *chaosplan.Plan, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("chaosproxy")
	}
	registry := opts.Registry
	if registry == nil {
		registry = strategy.NewRegistry()
	}
	e := &Engine{
		cfg:      opts.Config,
		registry: registry,
		bus:      opts.Bus,
		redactor: pii.New(opts.Config.PIIRedaction),
		logger:   logger,
		tracer:   tracer,
		start:    time.Now(),
		mode:     chaosplan.ModeLive,
	}
	compiled, err := e.compile(plan)
	if err != nil {
		return nil, err
	}
	e.store = chaosplan.NewStore(plan)
	e.compiled.Store(compiled)
	return e, nil
}

// compile builds the classifier and one strategy instance per scenario.
// Constructor failures are collected into a PlanLoadError so a reload with
// a bad scenario never half-installs.
func (e *Engine) compile(plan *chaosplan.Plan) (*compiledPlan, error) {
	strategies := make([]strategy.Strategy, len(plan.Scenarios))
	var msgs []string
	for i := range plan.Scenarios {
		s := &plan.Scenarios[i]
		built, err := e.registry.Build(s.Type, s.Params)
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("scenarios[%d] (%s): %v", i, s.Name, err))
			continue
		}
		strategies[i] = built
	}
	if len(msgs) > 0 {
		return nil, &chaoserrors.PlanLoadError{Path: "<compile>", Messages: msgs}
	}
	return &compiledPlan{
		plan:       plan,
		classifier: classifier.New(plan, classifier.Options{Strict: e.cfg.StrictClassifier}),
		strategies: strategies,
	}, nil
}

// InstallPlan validates, compiles, and atomically swaps the plan snapshot.
// On failure the running plan is untouched.
func (e *Engine) InstallPlan(plan *chaosplan.Plan) error {
	compiled, err := e.compile(plan)
	if err != nil {
		return err
	}
	if err := e.store.InstallPlan(plan); err != nil {
		return err
	}
	e.compiled.Store(compiled)
	e.logger.Info("plan installed", "revision", plan.Revision, "name", plan.Metadata.Name)
	return nil
}

// Plan returns the active plan snapshot.
func (e *Engine) Plan() *chaosplan.Plan { return e.store.Current() }

// Mode returns the current operating mode.
func (e *Engine) Mode() chaosplan.Mode {
	e.modeMu.RLock()
	defer e.modeMu.RUnlock()
	return e.mode
}

// Uptime reports seconds since engine start.
func (e *Engine) Uptime() float64 { return time.Since(e.start).Seconds() }

// SetMode switches live/record/playback. Record mode opens a recorder on
// tapePath; playback loads and indexes the tape; leaving record mode
// flushes the open recorder first.
func (e *Engine) SetMode(mode chaosplan.Mode, tapePath string) error {
	e.modeMu.Lock()
	defer e.modeMu.Unlock()

	if e.recorder != nil && mode != chaosplan.ModeRecord {
		if err := e.recorder.Flush(); err != nil {
			return err
		}
		e.recorder = nil
	}

	switch mode {
	case chaosplan.ModeLive:
		e.player = nil
	case chaosplan.ModeRecord:
		if tapePath == "" {
			return fmt.Errorf("record mode requires a tape path")
		}
		if e.recorder == nil {
			e.recorder = tape.NewRecorder(tapePath, Version, tape.ParseKey(e.cfg.TapeKey))
		}
		e.player = nil
	case chaosplan.ModePlayback:
		if tapePath == "" {
			return fmt.Errorf("playback mode requires a tape path")
		}
		player, err := tape.LoadPlayer(tapePath, tape.ParseKey(e.cfg.TapeKey))
		if err != nil {
			return err
		}
		e.player = player
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	e.mode = mode
	e.logger.Info("mode switched", "mode", mode, "tape", tapePath)
	return nil
}

// Shutdown flushes the recorder if one is open. Flush failures are fatal
// for RECORD runs; callers map them to the tape I/O exit code.
func (e *Engine) Shutdown() error {
	e.modeMu.Lock()
	defer e.modeMu.Unlock()
	if e.recorder != nil {
		if err := e.recorder.Flush(); err != nil {
			return err
		}
		e.recorder = nil
	}
	return nil
}

// Session is the engine's per-flow state, created by OnRequest and closed
// by OnResponse. The interceptor owns the flow; the session only borrows
// it for the hook pair.
type Session struct {
	engine   *Engine
	flow     *flow.Flow
	compiled *compiledPlan
	matches  []match.Match
	rng      *rand.Rand
	fp       fingerprint.Fingerprint
	span     trace.Span
	playback bool

	// failed marks a flow terminated by the engine itself (strict replay
	// fingerprint failure); no strategies run and nothing is recorded.
	failed bool
}

// OnRequest runs the request half of the pipeline: classify, fingerprint,
// playback or match, request-side strategies in plan order. The returned
// session must be passed to OnResponse exactly once.
func (e *Engine) OnRequest(ctx context.Context, f *flow.Flow) *Session {
	if f.Start.IsZero() {
		f.Start = time.Now()
	}
	f.Metadata.Sequence = e.seq.Add(1)

	compiled := e.compiled.Load()
	s := &Session{engine: e, flow: f, compiled: compiled}

	ctx, s.span = e.tracer.Start(ctx, "chaos.flow",
		trace.WithAttributes(
			attribute.String("http.method", f.Request.Method),
			attribute.Int64("chaos.sequence", int64(f.Metadata.Sequence)),
		))

	// Classify. The result is immutable for the remainder of the flow.
	res := compiled.classifier.Classify(f, e.overrideAuthorized(f))
	if res.Err != nil {
		f.RecordError(string(chaoserrors.CodeClassifier))
	}
	s.span.SetAttributes(attribute.String("chaos.traffic_type", string(f.Metadata.TrafficType)))

	// Fingerprint with the plan's replay normalization.
	fp, err := tape.FlowFingerprint(f, tape.FingerprintOptions{
		IgnoreParams: compiled.plan.ReplayConfig.IgnoreParams,
		IgnorePaths:  compiled.plan.ReplayConfig.IgnorePaths,
		Strict:       e.cfg.StrictReplay,
	})
	if err != nil {
		// Strict replay: an unsupported ignore path is fatal for the flow.
		// Matching it against an unmasked fingerprint would be the silent
		// fallback strict mode exists to rule out.
		e.logger.Error("strict replay fingerprint failed", "url", f.Request.URL, "err", err)
		f.RecordError(string(chaoserrors.CodeTapeIO))
		h := http.Header{}
		h.Set("Content-Type", "application/json")
		f.SetResponse(http.StatusInternalServerError, h,
			[]byte(`{"error":"replay fingerprint failed","code":"tape_io"}`))
		s.failed = true
		e.emit(f, event.PhaseRequest)
		return s
	}
	s.fp = fp
	f.Metadata.Fingerprint = fp.Key()

	e.emit(f, event.PhaseRequest)

	// Playback serves the tape and never matches or mutates.
	e.modeMu.RLock()
	player := e.player
	playback := e.mode == chaosplan.ModePlayback
	e.modeMu.RUnlock()
	if playback && player != nil {
		s.playback = true
		player.Serve(f, fp)
		return s
	}

	// Match and run request-side strategies in plan order.
	s.rng = match.FlowRNG(compiled.plan.Metadata.ExperimentID, fp.Key())
	s.matches = match.Strategies(compiled.plan, f, s.rng)
	for _, m := range s.matches {
		if f.ShortCircuit {
			break
		}
		s.runStrategy(ctx, m, func(st strategy.Strategy) error {
			return st.InterceptRequest(ctx, f, s.rng)
		})
	}
	return s
}

// OnResponse runs the response half: response-side strategies in plan
// order, tape recording, terminal event, span end.
func (s *Session) OnResponse(ctx context.Context) {
	f := s.flow
	e := s.engine
	defer s.span.End()

	if !s.playback && !s.failed {
		for _, m := range s.matches {
			s.runStrategy(ctx, m, func(st strategy.Strategy) error {
				return st.InterceptResponse(ctx, f, s.rng)
			})
		}

		e.modeMu.RLock()
		recorder := e.recorder
		recording := e.mode == chaosplan.ModeRecord
		e.modeMu.RUnlock()
		if recording && recorder != nil && f.Response != nil {
			recorder.Record(f, s.fp)
		}
	}

	phase := event.PhaseResponse
	switch {
	case f.Metadata.ErrorCode != "":
		phase = event.PhaseError
	case f.Metadata.ChaosApplied:
		phase = event.PhaseChaos
	}
	if f.Response != nil {
		s.span.SetAttributes(attribute.Int("http.status_code", f.Response.Status))
	}
	s.span.SetAttributes(
		attribute.StringSlice("chaos.applied", f.Metadata.AppliedStrategies),
		attribute.Bool("chaos.applied_any", f.Metadata.ChaosApplied),
	)
	e.emit(f, phase)
}

// runStrategy applies one mutator half under a child span. Strategy
// failures are recorded and skipped; the pipeline continues.
func (s *Session) runStrategy(ctx context.Context, m match.Match, apply func(strategy.Strategy) error) {
	if m.Index < 0 || m.Index >= len(s.compiled.strategies) || s.compiled.strategies[m.Index] == nil {
		return
	}
	st := s.compiled.strategies[m.Index]
	_, span := s.engine.tracer.Start(ctx, "chaos.strategy",
		trace.WithAttributes(attribute.String("chaos.strategy", st.Name())))
	defer span.End()

	if err := apply(st); err != nil {
		serr := &chaoserrors.StrategyError{Strategy: st.Name(), Err: err}
		s.engine.logger.Warn("strategy failed, skipping",
			"strategy", st.Name(), "scenario", m.Scenario.Name, "err", serr)
		s.flow.RecordError(string(chaoserrors.CodeStrategy))
		span.RecordError(serr)
	}
}

// overrideAuthorized gates the X-Agent-Chaos-Type escape hatch on the
// control token.
func (e *Engine) overrideAuthorized(f *flow.Flow) bool {
	if e.cfg.ControlToken == "" {
		return false
	}
	return subtleEqual(f.Header("X-Chaos-Token"), e.cfg.ControlToken)
}

// emit publishes one redacted event for the flow.
func (e *Engine) emit(f *flow.Flow, phase event.Phase) {
	if e.bus == nil {
		return
	}
	// Events carry their own sequence from a single atomic counter, so
	// the two events of one flow are strictly ordered.
	ev := event.Event{
		T:                 time.Now().UTC(),
		Seq:               e.eventSeq.Add(1),
		Phase:             phase,
		TrafficType:       f.Metadata.TrafficType,
		TrafficSubtype:    f.Metadata.TrafficSubtype,
		AgentRole:         e.redactor.Redact(f.Metadata.AgentRole),
		URLRedacted:       e.redactor.RedactURL(f.Request.URL),
		Method:            f.Request.Method,
		AppliedStrategies: append([]string(nil), f.Metadata.AppliedStrategies...),
		ChaosApplied:      f.Metadata.ChaosApplied,
		LatencyMS:         float64(time.Since(f.Start).Microseconds()) / 1000,
		ErrorCode:         f.Metadata.ErrorCode,
	}
	if phase != event.PhaseRequest && f.Response != nil {
		ev.Status = f.Response.Status
	}
	e.bus.Publish(ev)
}
