// Package interceptor adapts real sockets to the engine's
// on_request/on_response hook pair. It is a collaborator, not part of the
// core pipeline: the only place in the repo that dials upstreams.
//
// The adapter accepts both proxy-style requests (absolute-form URL) and
// reverse-proxy requests routed to a configured upstream base.
package interceptor

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentchaos/chaosproxy/pkg/chaoserrors"
	"github.com/agentchaos/chaosproxy/pkg/chaosproxy"
	"github.com/agentchaos/chaosproxy/pkg/duration"
	"github.com/agentchaos/chaosproxy/pkg/flow"
	"github.com/agentchaos/chaosproxy/pkg/iohelper"
)

// Proxy is the interception adapter. Implements http.Handler; each request
// becomes one flow pinned to its serving goroutine.
type Proxy struct {
	engine   *chaosproxy.Engine
	upstream *url.URL
	client   *http.Client
	logger   *slog.Logger
}

// Options configures the adapter.
type Options struct {
	// Engine is the chaos data path. Required.
	Engine *chaosproxy.Engine

	// Upstream is the base URL for reverse-proxy style requests. Optional;
	// proxy-style requests carry their own absolute URL.
	Upstream string

	// Client overrides the upstream HTTP client.
	Client *http.Client

	Logger *slog.Logger
}

// New builds the adapter.
func New(opts Options) (*Proxy, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var upstream *url.URL
	if opts.Upstream != "" {
		u, err := url.Parse(opts.Upstream)
		if err != nil {
			return nil, err
		}
		upstream = u
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: duration.FlowDefault,
			Transport: &http.Transport{
				ResponseHeaderTimeout: duration.UpstreamResponse,
				IdleConnTimeout:       duration.HTTPIdle,
			},
			// The proxy forwards redirects to the agent untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Proxy{engine: opts.Engine, upstream: upstream, client: client, logger: logger}, nil
}

// ServeHTTP runs the full flow lifecycle: build flow, request hook,
// upstream (unless short-circuited), response hook, write back.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Every suspension downstream honors this deadline; flows without one
	// of their own get the plan-wide default.
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration.FlowDefault)
		defer cancel()
	}

	body, err := iohelper.ReadBodyDefault(r.Body)
	if err != nil {
		http.Error(w, "request body too large or unreadable", http.StatusBadRequest)
		return
	}

	f := &flow.Flow{
		Request: flow.Request{
			Method:  r.Method,
			URL:     p.targetURL(r),
			Headers: r.Header.Clone(),
			Body:    body,
		},
		Start: time.Now(),
	}

	session := p.engine.OnRequest(ctx, f)
	if !f.ShortCircuit {
		p.forward(ctx, f)
	}
	session.OnResponse(ctx)

	if f.Response == nil {
		// A flow can only end responseless when the upstream failed and
		// synthesis failed too; keep the agent contract and answer 502.
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	writeResponse(w, f.Response)
}

// targetURL resolves where the flow is headed: absolute-form proxy
// requests win, otherwise the configured upstream base.
func (p *Proxy) targetURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	if p.upstream != nil {
		u := *p.upstream
		u.Path = strings.TrimSuffix(u.Path, "/") + r.URL.Path
		u.RawQuery = r.URL.RawQuery
		return u.String()
	}
	// Fall back to reconstructing from the Host header.
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// forward performs the upstream exchange and installs the response on the
// flow. Upstream failures surface to the agent as 502 and are recorded on
// the flow like any interceptor would.
func (p *Proxy) forward(ctx context.Context, f *flow.Flow) {
	req, err := http.NewRequestWithContext(ctx, f.Request.Method, f.Request.URL,
		strings.NewReader(string(f.Request.Body)))
	if err != nil {
		p.upstreamError(f, err)
		return
	}
	req.Header = f.Request.Headers.Clone()
	req.Header.Del("Proxy-Connection")
	if len(f.Request.Body) > 0 {
		req.ContentLength = int64(len(f.Request.Body))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.upstreamError(f, err)
		return
	}
	defer iohelper.DrainAndClose(resp.Body)

	respBody, err := iohelper.ReadBodyDefault(resp.Body)
	if err != nil {
		p.upstreamError(f, err)
		return
	}
	f.Response = &flow.Response{
		Status:  resp.StatusCode,
		Reason:  strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))),
		Headers: resp.Header.Clone(),
		Body:    respBody,
	}
}

func (p *Proxy) upstreamError(f *flow.Flow, err error) {
	p.logger.Warn("upstream exchange failed", "url", f.Request.URL, "err", err)
	f.RecordError(string(chaoserrors.CodeUpstream))
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	f.Response = &flow.Response{
		Status:  http.StatusBadGateway,
		Reason:  http.StatusText(http.StatusBadGateway),
		Headers: h,
		Body:    []byte(`{"error":"upstream unavailable"}`),
	}
}

func writeResponse(w http.ResponseWriter, resp *flow.Response) {
	header := w.Header()
	for k, vs := range resp.Headers {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		header[k] = vs
	}
	header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// ListenAndServe serves the data path until ctx is cancelled.
func (p *Proxy) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           p,
		ReadHeaderTimeout: duration.HTTPHeaderRead,
		IdleTimeout:       duration.HTTPIdle,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), duration.Shutdown)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
