// Package duration provides canonical time constants for the entire
// codebase. This is the single source of truth for all time-based
// configuration.
//
// Usage:
//
//	ctx, cancel := context.WithTimeout(ctx, duration.FlowDefault)
//	ReadHeaderTimeout: duration.HTTPHeaderRead,
//
// Do not hardcode time.Duration values like `30 * time.Second` elsewhere;
// reference the appropriate constant from this package.
package duration

import "time"

// HTTP server timeouts.
const (
	// HTTPHeaderRead bounds request header parsing on the control plane
	// and the proxy listener (5s).
	HTTPHeaderRead = 5 * time.Second

	// HTTPIdle closes idle keep-alive connections (90s).
	HTTPIdle = 90 * time.Second

	// Shutdown is the graceful-shutdown grace period (10s).
	Shutdown = 10 * time.Second
)

// Flow and strategy timeouts.
const (
	// FlowDefault bounds one proxied exchange end to end, injected delay
	// included, when the flow carries no deadline of its own (2min).
	FlowDefault = 2 * time.Minute

	// UpstreamDial bounds the TCP connect to the upstream (10s).
	UpstreamDial = 10 * time.Second

	// UpstreamResponse bounds the wait for upstream response headers (30s).
	UpstreamResponse = 30 * time.Second

	// SuspendMax caps any single strategy suspension regardless of plan
	// configuration (60s).
	SuspendMax = 60 * time.Second
)

// Event pipeline intervals.
const (
	// DropWarnInterval throttles queue-saturation warnings (1s).
	DropWarnInterval = 1 * time.Second

	// DashboardHeartbeat keeps idle SSE connections alive (15s).
	DashboardHeartbeat = 15 * time.Second
)
