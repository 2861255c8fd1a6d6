package iohelper

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBodyNilReader(t *testing.T) {
	b, err := ReadBody(nil, DefaultMaxBodySize)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestReadBodyLimits(t *testing.T) {
	big := strings.Repeat("x", int(SmallMaxBodySize)+100)
	b, err := ReadBodySmall(strings.NewReader(big))
	require.NoError(t, err)
	assert.Len(t, b, int(SmallMaxBodySize))
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestDrainAndClose(t *testing.T) {
	c := &closeTracker{Reader: strings.NewReader("leftover bytes")}
	DrainAndClose(c)
	assert.True(t, c.closed)

	DrainAndClose(nil) // must not panic
}
