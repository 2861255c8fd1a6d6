package controlplane

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
	"github.com/agentchaos/chaosproxy/pkg/pii"
)

// auditRecord is one control-plane operation, NDJSON-encoded.
type auditRecord struct {
	T      time.Time `json:"t"`
	Action string    `json:"action"`
	Remote string    `json:"remote"`
	Scope  string    `json:"scope"`
	Detail string    `json:"detail,omitempty"`
	OK     bool      `json:"ok"`
}

// auditLog appends redacted control-plane operations to a file. A nil
// auditLog drops records silently (no CHAOS_AUDIT_LOG configured).
type auditLog struct {
	mu       sync.Mutex
	file     *os.File
	redactor *pii.Redactor
	logger   *slog.Logger
}

func openAuditLog(path string, redactor *pii.Redactor, logger *slog.Logger) (*auditLog, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &auditLog{file: f, redactor: redactor, logger: logger}, nil
}

func (a *auditLog) record(action, remote string, scope Scope, detail string, ok bool) {
	if a == nil {
		return
	}
	rec := auditRecord{
		T:      time.Now().UTC(),
		Action: action,
		Remote: remote,
		Scope:  scopeName(scope),
		Detail: a.redactor.Redact(detail),
		OK:     ok,
	}
	line, err := jsonutil.Marshal(rec)
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.file.Write(append(line, '\n')); err != nil {
		a.logger.Warn("audit log write failed", "err", err)
	}
}

func (a *auditLog) close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

func scopeName(s Scope) string {
	switch s {
	case ScopeAdmin:
		return "admin"
	case ScopeRead:
		return "read"
	default:
		return "none"
	}
}
