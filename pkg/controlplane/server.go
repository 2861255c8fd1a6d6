// Package controlplane exposes the token-guarded operations: health, plan
// reload, mode switch, scorecard, metrics, and the dashboard event stream.
// It listens on its own port, separate from the proxy data path.
package controlplane

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/agentchaos/chaosproxy/pkg/chaoserrors"
	"github.com/agentchaos/chaosproxy/pkg/chaosplan"
	"github.com/agentchaos/chaosproxy/pkg/chaosproxy"
	"github.com/agentchaos/chaosproxy/pkg/dashboard"
	"github.com/agentchaos/chaosproxy/pkg/duration"
	"github.com/agentchaos/chaosproxy/pkg/event"
	"github.com/agentchaos/chaosproxy/pkg/iohelper"
	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
	"github.com/agentchaos/chaosproxy/pkg/pii"
	"github.com/agentchaos/chaosproxy/pkg/scorecard"
)

// Server is the control-plane HTTP surface.
type Server struct {
	engine     *chaosproxy.Engine
	aggregator *scorecard.Aggregator
	bus        *event.Bus
	fanout     *dashboard.Fanout
	metrics    *scorecard.Metrics
	auth       *Auth
	audit      *auditLog
	logger     *slog.Logger

	planOpts chaosplan.LoadOptions

	authFailures atomic.Uint64
	httpServer   *http.Server
}

// Options wires the server's collaborators.
type Options struct {
	Engine     *chaosproxy.Engine
	Aggregator *scorecard.Aggregator
	Bus        *event.Bus
	Fanout     *dashboard.Fanout
	Metrics    *scorecard.Metrics
	Auth       *Auth
	PlanOpts   chaosplan.LoadOptions
	Redactor   *pii.Redactor
	AuditPath  string
	Logger     *slog.Logger
}

// New builds the control-plane server.
func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redactor := opts.Redactor
	if redactor == nil {
		redactor = pii.New(true)
	}
	audit, err := openAuditLog(opts.AuditPath, redactor, logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		engine:     opts.Engine,
		aggregator: opts.Aggregator,
		bus:        opts.Bus,
		fanout:     opts.Fanout,
		metrics:    opts.Metrics,
		auth:       opts.Auth,
		audit:      audit,
		logger:     logger,
		planOpts:   opts.PlanOpts,
	}, nil
}

// Handler returns the routed control-plane handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /plan", s.guard(ScopeAdmin, "plan_install", s.handlePlan))
	mux.HandleFunc("POST /mode", s.guard(ScopeAdmin, "mode_switch", s.handleMode))
	mux.HandleFunc("GET /scorecard", s.guard(ScopeRead, "scorecard_read", s.handleScorecard))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.fanout != nil {
		mux.Handle("GET /events", http.HandlerFunc(s.guard(ScopeRead, "events_stream", s.fanout.ServeHTTP)))
	}
	return mux
}

// ListenAndServe binds addr and serves until ctx is cancelled. A bind
// failure is returned immediately; callers map it to the port-bind exit
// code.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: duration.HTTPHeaderRead,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), duration.Shutdown)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		_ = s.audit.close()
		return nil
	}
}

// AuthFailures reports rejected control-plane requests.
func (s *Server) AuthFailures() uint64 { return s.authFailures.Load() }

// guard enforces the required scope and audits the operation.
func (s *Server) guard(required Scope, action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := s.auth.Scope(r)
		if scope < required {
			s.authFailures.Add(1)
			s.audit.record(action, r.RemoteAddr, scope, "", false)
			writeError(w, http.StatusUnauthorized, string(chaoserrors.CodeControlPlaneAuth), "missing or invalid token")
			return
		}
		s.audit.record(action, r.RemoteAddr, scope, r.URL.RawQuery, true)
		next(w, r)
	}
}

type healthResponse struct {
	Mode         chaosplan.Mode `json:"mode"`
	PlanRevision int64          `json:"plan_revision"`
	UptimeS      float64        `json:"uptime_s"`
	Version      string         `json:"version"`
}

// handleHealthz always answers 200; it carries no secrets and needs no
// token.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Mode:         s.engine.Mode(),
		PlanRevision: s.engine.Plan().Revision,
		UptimeS:      s.engine.Uptime(),
		Version:      chaosproxy.Version,
	})
}

// handlePlan validates the posted YAML and installs it. Validation
// failures come back 422 with every offending path; the running plan is
// untouched.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	body, err := iohelper.ReadBody(r.Body, iohelper.PlanMaxBodySize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read", err.Error())
		return
	}
	plan, err := chaosplan.ParsePlan(body, s.planOpts)
	if err != nil {
		writePlanError(w, err)
		return
	}
	if err := s.engine.InstallPlan(plan); err != nil {
		writePlanError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"installed": true,
		"revision":  plan.Revision,
	})
}

type modeRequest struct {
	Mode chaosplan.Mode `json:"mode"`
	Tape string         `json:"tape,omitempty"`
}

// handleMode switches live/record/playback. Playback and record require a
// tape path.
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	body, err := iohelper.ReadBodySmall(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read", err.Error())
		return
	}
	var req modeRequest
	if err := jsonutil.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "decode", err.Error())
		return
	}
	if err := s.engine.SetMode(req.Mode, req.Tape); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, chaoserrors.ErrTapeIO) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, "mode", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": req.Mode})
}

// handleScorecard returns the current counters.
func (s *Server) handleScorecard(w http.ResponseWriter, _ *http.Request) {
	var drops uint64
	if s.bus != nil {
		drops = s.bus.Drops()
	}
	writeJSON(w, http.StatusOK, s.aggregator.Summary(drops))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonutil.MarshalWrite(w, v)
	_, _ = io.WriteString(w, "\n")
}

type errorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Details []string `json:"details,omitempty"`
	T       string   `json:"t"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error: msg,
		Code:  code,
		T:     time.Now().UTC().Format(time.RFC3339),
	})
}

func writePlanError(w http.ResponseWriter, err error) {
	var ple *chaoserrors.PlanLoadError
	if errors.As(err, &ple) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   "plan rejected",
			Code:    string(chaoserrors.CodePlanLoad),
			Details: ple.Messages,
			T:       time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	writeError(w, http.StatusUnprocessableEntity, string(chaoserrors.CodePlanLoad), err.Error())
}
