package eventlog

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentchaos/chaosproxy/pkg/event"
	"github.com/agentchaos/chaosproxy/pkg/flow"
	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
)

func TestSinkWritesOneJSONObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(&buf, nil)

	for i := uint64(1); i <= 3; i++ {
		sink.OnEvent(context.Background(), event.Event{
			T:           time.Now().UTC(),
			Seq:         i,
			Phase:       event.PhaseResponse,
			TrafficType: flow.TrafficToolCall,
			Method:      "GET",
			URLRedacted: "http://x/a",
		})
	}
	require.NoError(t, sink.Close())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		var ev event.Event
		require.NoError(t, jsonutil.Unmarshal([]byte(line), &ev), "line must be standalone JSON: %s", line)
	}

	var first event.Event
	require.NoError(t, jsonutil.Unmarshal([]byte(lines[0]), &first))
	assert.EqualValues(t, 1, first.Seq)
}

func TestOpenAppends(t *testing.T) {
	path := t.TempDir() + "/events.ndjson"
	s1, err := Open(path, nil)
	require.NoError(t, err)
	s1.OnEvent(context.Background(), event.Event{Seq: 1, Phase: event.PhaseResponse})
	require.NoError(t, s1.Close())

	s2, err := Open(path, nil)
	require.NoError(t, err)
	s2.OnEvent(context.Background(), event.Event{Seq: 2, Phase: event.PhaseResponse})
	require.NoError(t, s2.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"), "append-only, never truncated")
}
