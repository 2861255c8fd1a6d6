package tape

import (
	"os"
	"sync"
	"time"

	"github.com/agentchaos/chaosproxy/pkg/chaoserrors"
	"github.com/agentchaos/chaosproxy/pkg/defaults"
	"github.com/agentchaos/chaosproxy/pkg/fingerprint"
	"github.com/agentchaos/chaosproxy/pkg/flow"
	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
)

// Recorder accumulates entries in memory during a RECORD run and writes
// the tape file once at graceful shutdown. Concurrent appends are
// serialized on the recorder's lock; reads happen only after shutdown.
type Recorder struct {
	path    string
	key     []byte
	version string

	mu      sync.Mutex
	entries []Entry
	byFP    map[string][]int
	seq     uint64
	closed  bool
}

// NewRecorder opens a recorder targeting path. key enables at-rest
// encryption when non-nil; version is stamped into the tape metadata.
func NewRecorder(path, version string, key []byte) *Recorder {
	return &Recorder{
		path:    path,
		key:     key,
		version: version,
		byFP:    make(map[string][]int),
	}
}

// Record captures the flow's response and chaos context. The sequence is
// assigned under the lock, strictly increasing per recorder.
func (r *Recorder) Record(f *flow.Flow, fp fingerprint.Fingerprint) {
	if f.Response == nil {
		return
	}
	snapshot := snapshotResponse(f)
	ctx := ChaosContext{
		AppliedStrategies: append([]string(nil), f.Metadata.AppliedStrategies...),
		ChaosApplied:      f.Metadata.ChaosApplied,
		TrafficType:       f.Metadata.TrafficType,
		TrafficSubtype:    f.Metadata.TrafficSubtype,
		AgentRole:         f.Metadata.AgentRole,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.seq++
	r.entries = append(r.entries, Entry{
		Fingerprint:  fp,
		Response:     snapshot,
		ChaosContext: ctx,
		Timestamp:    time.Now().UTC(),
		Sequence:     r.seq,
	})
	r.byFP[fp.Key()] = append(r.byFP[fp.Key()], len(r.entries)-1)
}

// Len reports the number of recorded entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Flush writes the tape file and closes the recorder. A flush failure is
// fatal in RECORD mode; callers map it to the tape I/O exit code.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	t := Tape{
		Version: Version,
		Metadata: Metadata{
			CreatedAt:       time.Now().UTC(),
			RecorderVersion: r.version,
		},
		Entries: r.entries,
	}
	data, err := jsonutil.Marshal(t)
	if err != nil {
		return &chaoserrors.TapeIOError{Op: "encode", Path: r.path, Err: err}
	}
	if len(r.key) > 0 {
		data, err = encrypt(r.key, data)
		if err != nil {
			return &chaoserrors.TapeIOError{Op: "encrypt", Path: r.path, Err: err}
		}
	}
	if err := os.WriteFile(r.path, data, defaults.TapeFileMode); err != nil {
		return &chaoserrors.TapeIOError{Op: "write", Path: r.path, Err: err}
	}
	return nil
}
