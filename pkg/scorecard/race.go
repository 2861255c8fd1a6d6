package scorecard

import (
	"net/url"
	"strings"

	"github.com/agentchaos/chaosproxy/pkg/event"
)

// raceDetector flags commit-before-search orderings per agent role: a
// book_/commit_/finalize_ endpoint firing while an earlier search_/query_/
// prepare_ request from the same role is still awaiting its response.
// Detection only — the flow is never blocked.
type raceDetector struct {
	// pending holds in-flight prepare-like requests per agent role, FIFO
	// by sequence.
	pending map[string][]pendingOp

	candidates uint64
}

type pendingOp struct {
	seq      uint64
	endpoint string
}

func newRaceDetector() *raceDetector {
	return &raceDetector{pending: make(map[string][]pendingOp)}
}

var (
	preparePrefixes = []string{"search_", "query_", "prepare_"}
	commitPrefixes  = []string{"book_", "commit_", "finalize_"}
)

func endpointOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	path := strings.Trim(u.Path, "/")
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// onRequest records prepare-like requests and checks commit-like requests
// against still-pending earlier prepares for the same role.
func (r *raceDetector) onRequest(ev event.Event) {
	if ev.AgentRole == "" {
		return
	}
	endpoint := endpointOf(ev.URLRedacted)
	switch {
	case hasAnyPrefix(endpoint, preparePrefixes):
		r.pending[ev.AgentRole] = append(r.pending[ev.AgentRole], pendingOp{seq: ev.Seq, endpoint: endpoint})
	case hasAnyPrefix(endpoint, commitPrefixes):
		for _, op := range r.pending[ev.AgentRole] {
			if op.seq < ev.Seq {
				r.candidates++
				break
			}
		}
	}
}

// onResponse clears the matching pending prepare once its response
// arrived. Candidates are counted on the request side.
func (r *raceDetector) onResponse(ev event.Event) {
	if ev.AgentRole == "" {
		return
	}
	endpoint := endpointOf(ev.URLRedacted)
	if !hasAnyPrefix(endpoint, preparePrefixes) {
		return
	}
	q := r.pending[ev.AgentRole]
	for i, op := range q {
		if op.endpoint == endpoint {
			r.pending[ev.AgentRole] = append(q[:i:i], q[i+1:]...)
			break
		}
	}
}
