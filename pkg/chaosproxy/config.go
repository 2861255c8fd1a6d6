package chaosproxy

import (
	"os"
	"strconv"
	"strings"
)

// Config is the process environment contract. Every knob is optional; the
// zero value runs live mode with redaction on and no strict checks.
type Config struct {
	// StrictClassifier requires classifier rule packs in the plan
	// (CHAOS_CLASSIFIER_STRICT, default true).
	StrictClassifier bool

	// StrictReplay makes unsupported JSONPath expressions fatal instead of
	// silently skipped (CHAOS_REPLAY_STRICT).
	StrictReplay bool

	// JWTStrict requires JWT bearer validation on the control plane
	// (CHAOS_JWT_STRICT); JWTSecret is the HS256 key (CHAOS_JWT_SECRET).
	JWTStrict bool
	JWTSecret string

	// TapeKey enables at-rest tape encryption (CHAOS_TAPE_KEY).
	TapeKey string

	// PIIRedaction defaults to true; PII_REDACTION_ENABLED=false disables.
	PIIRedaction bool

	// AuditLogPath is the control-plane audit sink (CHAOS_AUDIT_LOG).
	AuditLogPath string

	// ControlToken guards the control plane (CHAOS_TOKEN). ReadKeys and
	// AdminKeys add scoped access (CHAOS_READ_KEYS / CHAOS_ADMIN_KEYS,
	// comma-separated).
	ControlToken string
	ReadKeys     []string
	AdminKeys    []string

	// OTLPEndpoint enables the OTLP trace exporter (CHAOS_OTLP_ENDPOINT);
	// empty uses the stdout exporter when tracing is on.
	OTLPEndpoint string
}

// FromEnv reads the environment contract.
func FromEnv() Config {
	return Config{
		StrictClassifier: envBool("CHAOS_CLASSIFIER_STRICT", true),
		StrictReplay:     envBool("CHAOS_REPLAY_STRICT", false),
		JWTStrict:        envBool("CHAOS_JWT_STRICT", false),
		JWTSecret:        os.Getenv("CHAOS_JWT_SECRET"),
		TapeKey:          os.Getenv("CHAOS_TAPE_KEY"),
		PIIRedaction:     envBool("PII_REDACTION_ENABLED", true),
		AuditLogPath:     os.Getenv("CHAOS_AUDIT_LOG"),
		ControlToken:     os.Getenv("CHAOS_TOKEN"),
		ReadKeys:         envList("CHAOS_READ_KEYS"),
		AdminKeys:        envList("CHAOS_ADMIN_KEYS"),
		OTLPEndpoint:     os.Getenv("CHAOS_OTLP_ENDPOINT"),
	}
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
