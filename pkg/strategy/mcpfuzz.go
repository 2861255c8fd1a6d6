package strategy

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentchaos/chaosproxy/pkg/flow"
	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
)

// fieldKind is the inferred type of a JSON field for fuzzing purposes.
type fieldKind int

const (
	kindUnknown fieldKind = iota
	kindDate
	kindNumeric
	kindString
)

// Well-known attack payloads used by the sql_injection and xss fuzz types.
var (
	sqlInjectionPayloads = []string{
		`' OR '1'='1`,
		`'; DROP TABLE users; --`,
		`' UNION SELECT * FROM users --`,
		`1' OR '1'='1`,
		`admin'--`,
	}
	xssPayloads = []string{
		`<script>alert(1)</script>`,
		`"><img src=x onerror=alert(1)>`,
		`javascript:alert(1)`,
		`<svg/onload=alert(1)>`,
	}
	invalidDates = []string{
		"2025-13-40",
		"yesterday",
		"2025-02-30",
		"13/40/2025",
		"not-a-date",
	}
)

// MCPFuzzing rewrites JSON request bodies of tool calls with type-targeted
// faults, causing logic errors downstream rather than transport errors.
// When an MCP tool schema is attached, its property types drive detection;
// otherwise field names are matched against known patterns.
type MCPFuzzing struct {
	baseStrategy
	fuzzType  string
	fieldProb float64

	// schemaKinds maps property name -> kind, extracted from an mcp.Tool
	// input schema when one was registered for the matched endpoint.
	schemaKinds map[string]fieldKind
}

// NewMCPFuzzing builds a fuzzing strategy from scenario params:
// fuzz_type ("schema_violation" default, "null_injection", "boundary",
// "sql_injection", "xss"), field_prob (default 1.0 — every typed field).
func NewMCPFuzzing(params map[string]any) (Strategy, error) {
	fuzzType, err := stringParam(params, "fuzz_type", "schema_violation")
	if err != nil {
		return nil, err
	}
	switch fuzzType {
	case "schema_violation", "null_injection", "boundary", "sql_injection", "xss":
	default:
		return nil, fmt.Errorf("param \"fuzz_type\": unknown fuzz type %q", fuzzType)
	}
	fieldProb, err := floatParam(params, "field_prob", 1.0)
	if err != nil {
		return nil, err
	}
	return &MCPFuzzing{
		baseStrategy: baseStrategy{name: "mcp_fuzzing"},
		fuzzType:     fuzzType,
		fieldProb:    fieldProb,
	}, nil
}

// AttachToolSchema registers an MCP tool's input schema for schema-aware
// detection. The schema is the JSON-Schema-shaped map the MCP SDK carries
// in Tool.InputSchema.
func (m *MCPFuzzing) AttachToolSchema(tool *mcp.Tool) {
	if tool == nil {
		return
	}
	schema, ok := tool.InputSchema.(map[string]any)
	if !ok {
		return
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return
	}
	kinds := make(map[string]fieldKind, len(props))
	for name, p := range props {
		prop, ok := p.(map[string]any)
		if !ok {
			continue
		}
		typ, _ := prop["type"].(string)
		format, _ := prop["format"].(string)
		switch {
		case format == "date" || format == "date-time":
			kinds[name] = kindDate
		case typ == "number" || typ == "integer":
			kinds[name] = kindNumeric
		case typ == "string":
			kinds[name] = kindString
		}
	}
	m.schemaKinds = kinds
}

func (m *MCPFuzzing) InterceptRequest(_ context.Context, f *flow.Flow, rng *rand.Rand) error {
	doc, ok := jsonutil.Document(f.Request.Body)
	if !ok {
		return nil
	}
	mutated := false
	walkLeaves(doc, func(leaf Leaf) {
		kind := m.detectKind(leaf)
		if kind == kindUnknown {
			return
		}
		if m.fieldProb < 1 && rng.Float64() >= m.fieldProb {
			return
		}
		leaf.Set(m.fuzzValue(kind, leaf.Val, rng))
		mutated = true
	})
	if !mutated {
		return nil
	}
	body, err := jsonutil.Marshal(doc)
	if err != nil {
		return fmt.Errorf("re-encode fuzzed body: %w", err)
	}
	f.Request.Body = body
	f.Request.Headers.Del("Content-Length")
	f.RecordStrategy(m.name)
	return nil
}

// detectKind prefers the attached schema; the name heuristic is the
// fallback.
func (m *MCPFuzzing) detectKind(leaf Leaf) fieldKind {
	if leaf.Key == "" {
		return kindUnknown
	}
	if kind, ok := m.schemaKinds[leaf.Key]; ok {
		return kind
	}
	name := strings.ToLower(leaf.Key)
	switch {
	case name == "date" || strings.HasSuffix(name, "_date") || strings.HasSuffix(name, "_at") ||
		strings.Contains(name, "date") || strings.Contains(name, "time"):
		return kindDate
	case name == "count" || name == "quantity" || name == "price" ||
		strings.HasSuffix(name, "_id") || name == "id" || name == "amount" || name == "seats":
		return kindNumeric
	case name == "query" || name == "text" || strings.HasSuffix(name, "_name") || name == "name" ||
		name == "message" || name == "content":
		return kindString
	}
	return kindUnknown
}

func (m *MCPFuzzing) fuzzValue(kind fieldKind, original any, rng *rand.Rand) any {
	switch m.fuzzType {
	case "null_injection":
		return nil
	case "sql_injection":
		return sqlInjectionPayloads[rng.IntN(len(sqlInjectionPayloads))]
	case "xss":
		return xssPayloads[rng.IntN(len(xssPayloads))]
	case "boundary":
		switch kind {
		case kindNumeric:
			if rng.IntN(2) == 0 {
				return math.MaxInt64
			}
			return math.MinInt64
		case kindDate:
			if rng.IntN(2) == 0 {
				return "0001-01-01"
			}
			return "9999-12-31"
		default:
			return strings.Repeat("A", 65536)
		}
	default: // schema_violation: type mismatch
		switch kind {
		case kindDate:
			return invalidDates[rng.IntN(len(invalidDates))]
		case kindNumeric:
			return "not-a-number"
		default:
			if _, isString := original.(string); isString {
				return rng.IntN(1 << 30)
			}
			return "type-mismatch"
		}
	}
}
