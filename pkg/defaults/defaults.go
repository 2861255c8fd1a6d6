// Package defaults provides canonical default values for the entire
// codebase. This is the single source of truth for runtime configuration
// defaults.
//
// Usage:
//
//	cfg.ListenAddr = defaults.ProxyListenAddr
//	req.Header.Set("Content-Type", defaults.ContentTypeJSON)
//
// Do not hardcode values like `:8080` elsewhere; reference the
// appropriate constant from this package.
package defaults

// ToolName identifies the proxy in logs, traces, and User-Agent strings.
const ToolName = "chaosproxy"

// Network defaults.
const (
	// ProxyListenAddr is the data-path listener.
	ProxyListenAddr = ":8080"

	// ControlListenAddr is the control-plane listener, always a separate
	// port from the data path.
	ControlListenAddr = ":9900"

	// MetricsPath is the Prometheus scrape path on the control plane.
	MetricsPath = "/metrics"
)

// Event pipeline defaults.
const (
	// EventQueueCapacity bounds the event bus.
	EventQueueCapacity = 1024

	// DashboardSubscriberBuffer is the per-subscriber event buffer; a
	// subscriber that falls this far behind is dropped.
	DashboardSubscriberBuffer = 256
)

// Content types.
const (
	ContentTypeJSON = "application/json"
	ContentTypeYAML = "application/yaml"
	ContentTypeText = "text/plain; charset=utf-8"
)

// Tape defaults.
const (
	// TapeFileMode restricts tape files to the recording user.
	TapeFileMode = 0o600

	// TapeExtension is the conventional tape file suffix.
	TapeExtension = ".tape.json"
)
