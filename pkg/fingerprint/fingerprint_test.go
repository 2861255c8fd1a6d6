package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
)

func TestComputeStableAcrossCalls(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	body := []byte(`{"q":"x"}`)
	a := Compute("POST", "http://api.test/search?b=2&a=1", h, body, Options{})
	b := Compute("POST", "http://api.test/search?a=1&b=2", h, body, Options{})
	assert.Equal(t, a, b, "query order must not change the fingerprint")
	assert.Equal(t, "post", a.Method)
}

func TestComputeSerializationRoundTrip(t *testing.T) {
	fp := Compute("GET", "http://x/a", nil, nil, Options{})
	data, err := jsonutil.Marshal(fp)
	require.NoError(t, err)
	var back Fingerprint
	require.NoError(t, jsonutil.Unmarshal(data, &back))
	assert.Equal(t, fp, back)
	assert.Equal(t, fp.Key(), back.Key())
}

func TestEmptyBodyHash(t *testing.T) {
	empty := sha256.Sum256(nil)
	fp := Compute("GET", "http://x/a", nil, nil, Options{})
	assert.Equal(t, hex.EncodeToString(empty[:]), fp.BodyHash)
}

func TestVolatileHeadersExcluded(t *testing.T) {
	base := http.Header{}
	base.Set("Content-Type", "application/json")

	noisy := http.Header{}
	noisy.Set("Content-Type", "application/json")
	noisy.Set("Date", "Mon, 02 Jan 2006 15:04:05 GMT")
	noisy.Set("X-Request-ID", "abc-123")
	noisy.Set("User-Agent", "agent/1.0")
	noisy.Set("Authorization", "Bearer tok")

	a := Compute("GET", "http://x/a", base, nil, Options{})
	b := Compute("GET", "http://x/a", noisy, nil, Options{})
	assert.Equal(t, a.StableHeadersHash, b.StableHeadersHash)
}

func TestStableHeaderChangesHash(t *testing.T) {
	a := http.Header{}
	a.Set("Content-Type", "application/json")
	b := http.Header{}
	b.Set("Content-Type", "text/plain")
	fa := Compute("GET", "http://x/a", a, nil, Options{})
	fb := Compute("GET", "http://x/a", b, nil, Options{})
	assert.NotEqual(t, fa.StableHeadersHash, fb.StableHeadersHash)
}

func TestIgnoreParams(t *testing.T) {
	opts := Options{IgnoreParams: []string{"session", "ts"}}
	a := Compute("GET", "http://x/a?q=1&session=s1&ts=100", nil, nil, opts)
	b := Compute("GET", "http://x/a?q=1&session=s2&ts=200", nil, nil, opts)
	assert.Equal(t, a, b)

	c := Compute("GET", "http://x/a?q=2&session=s1", nil, nil, opts)
	assert.NotEqual(t, a.NormalizedURL, c.NormalizedURL)
}

func TestPartialKeyIgnoresBodyAndHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	a := Compute("POST", "http://x/a", h, []byte(`{"n":1}`), Options{})
	b := Compute("POST", "http://x/a", nil, []byte(`{"n":2}`), Options{})
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, a.PartialKey(), b.PartialKey())
}
