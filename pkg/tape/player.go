package tape

import (
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/agentchaos/chaosproxy/pkg/chaoserrors"
	"github.com/agentchaos/chaosproxy/pkg/fingerprint"
	"github.com/agentchaos/chaosproxy/pkg/flow"
	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
)

// Player serves recorded responses during PLAYBACK. Entries are loaded and
// indexed once; per-fingerprint FIFO consumption is guarded by a short
// lock so duplicate fingerprints replay in recording order.
type Player struct {
	tape Tape

	mu        sync.Mutex
	byFP      map[string][]*Entry
	byPartial map[string][]*Entry

	misses uint64
}

// LoadPlayer reads, decrypts, and indexes a tape file.
func LoadPlayer(path string, key []byte) (*Player, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &chaoserrors.TapeIOError{Op: "read", Path: path, Err: err}
	}
	plaintext, err := decrypt(key, data)
	if err != nil {
		return nil, err
	}
	var t Tape
	if err := jsonutil.Unmarshal(plaintext, &t); err != nil {
		return nil, &chaoserrors.TapeIOError{Op: "decode", Path: path, Err: err}
	}
	p := &Player{
		tape:      t,
		byFP:      make(map[string][]*Entry),
		byPartial: make(map[string][]*Entry),
	}
	for i := range t.Entries {
		e := &t.Entries[i]
		p.byFP[e.Fingerprint.Key()] = append(p.byFP[e.Fingerprint.Key()], e)
		p.byPartial[e.Fingerprint.PartialKey()] = append(p.byPartial[e.Fingerprint.PartialKey()], e)
	}
	return p, nil
}

// Len reports the number of loaded entries.
func (p *Player) Len() int { return len(p.tape.Entries) }

// Misses reports how many requests fell through to the synthesized 404.
func (p *Player) Misses() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.misses
}

// Serve installs the recorded response for f's fingerprint on the flow and
// restores the recorded chaos context. Exact fingerprint matches are
// consumed FIFO; the (method, normalized_url) partial index is the
// fallback. With no match the flow gets a synthesized 404 documenting the
// missing fingerprint — a terminal state for the flow.
//
// Serve reports whether a recorded entry was found.
func (p *Player) Serve(f *flow.Flow, fp fingerprint.Fingerprint) bool {
	entry := p.pop(fp)
	if entry == nil {
		p.serveMiss(f, fp)
		return false
	}
	restoreResponse(f, &entry.Response)
	f.Metadata.TrafficType = entry.ChaosContext.TrafficType
	f.Metadata.TrafficSubtype = entry.ChaosContext.TrafficSubtype
	f.Metadata.AgentRole = entry.ChaosContext.AgentRole
	f.Metadata.AppliedStrategies = append([]string(nil), entry.ChaosContext.AppliedStrategies...)
	f.Metadata.ChaosApplied = entry.ChaosContext.ChaosApplied
	f.ShortCircuit = true
	return true
}

// pop takes the next matching entry, exact index first, partial second. A
// consumed entry is removed from both indexes.
func (p *Player) pop(fp fingerprint.Fingerprint) *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	if q := p.byFP[fp.Key()]; len(q) > 0 {
		e := q[0]
		p.byFP[fp.Key()] = q[1:]
		p.removePartial(e)
		return e
	}
	if q := p.byPartial[fp.PartialKey()]; len(q) > 0 {
		e := q[0]
		p.byPartial[fp.PartialKey()] = q[1:]
		p.removeExact(e)
		return e
	}
	p.misses++
	return nil
}

func (p *Player) removePartial(e *Entry) {
	key := e.Fingerprint.PartialKey()
	q := p.byPartial[key]
	for i, cand := range q {
		if cand == e {
			p.byPartial[key] = append(q[:i:i], q[i+1:]...)
			return
		}
	}
}

func (p *Player) removeExact(e *Entry) {
	key := e.Fingerprint.Key()
	q := p.byFP[key]
	for i, cand := range q {
		if cand == e {
			p.byFP[key] = append(q[:i:i], q[i+1:]...)
			return
		}
	}
}

// tapeMissBody documents a playback miss for the agent.
type tapeMissBody struct {
	Error       string                  `json:"error"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Hint        string                  `json:"hint"`
}

func (p *Player) serveMiss(f *flow.Flow, fp fingerprint.Fingerprint) {
	body, err := jsonutil.Marshal(tapeMissBody{
		Error:       "no recorded response for request",
		Fingerprint: fp,
		Hint:        "re-record the session or check replay_config ignore rules",
	})
	if err != nil {
		body = []byte(fmt.Sprintf(`{"error":"no recorded response for request","fingerprint":%q}`, fp.Key()))
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("X-Chaos-Tape-Miss", "true")
	f.SetResponse(http.StatusNotFound, h, body)
	f.RecordError(string(chaoserrors.CodeTapeMiss))
}
