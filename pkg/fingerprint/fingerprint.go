// Package fingerprint computes the deterministic request identity used to
// match recorded responses during playback. The same normalization must run
// at record time and at playback time or tapes silently stop matching.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Volatile headers are excluded from the stable-headers hash: they change
// run to run without changing request identity.
var volatileHeaders = map[string]struct{}{
	"date":              {},
	"if-modified-since": {},
	"if-none-match":     {},
	"x-request-id":      {},
	"x-correlation-id":  {},
	"user-agent":        {},
	"authorization":     {},
}

// Fingerprint is the 4-tuple identity of a request.
type Fingerprint struct {
	Method            string `json:"method"`
	NormalizedURL     string `json:"normalized_url"`
	BodyHash          string `json:"body_hash"`
	StableHeadersHash string `json:"stable_headers_hash"`
}

// Key returns the canonical string form used as a tape index key.
func (f Fingerprint) Key() string {
	return f.Method + "|" + f.NormalizedURL + "|" + f.BodyHash + "|" + f.StableHeadersHash
}

// PartialKey identifies a request by method and URL only, for the playback
// fallback index.
func (f Fingerprint) PartialKey() string {
	return f.Method + "|" + f.NormalizedURL
}

// Options tunes normalization from the plan's replay_config.
type Options struct {
	// IgnoreParams lists query parameter names removed before hashing.
	IgnoreParams []string
}

// Compute derives the fingerprint of a request. Method is lowercased; the
// URL keeps scheme+host+path plus the sorted query with ignored keys
// removed; body and stable headers are SHA-256 hex.
func Compute(method, rawURL string, headers http.Header, body []byte, opts Options) Fingerprint {
	return Fingerprint{
		Method:            strings.ToLower(method),
		NormalizedURL:     NormalizeURL(rawURL, opts.IgnoreParams),
		BodyHash:          HashBytes(body),
		StableHeadersHash: hashStableHeaders(headers),
	}
}

// NormalizeURL canonicalizes a URL for fingerprinting: scheme+host+path
// with the query sorted by key and ignored keys dropped. An unparseable
// URL is returned verbatim so the fingerprint stays total.
func NormalizeURL(rawURL string, ignoreParams []string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	ignored := make(map[string]struct{}, len(ignoreParams))
	for _, p := range ignoreParams {
		ignored[p] = struct{}{}
	}
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		if _, skip := ignored[k]; skip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(u.Scheme)
	sb.WriteString("://")
	sb.WriteString(u.Host)
	sb.WriteString(u.EscapedPath())
	sep := "?"
	for _, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for _, v := range vals {
			sb.WriteString(sep)
			sb.WriteString(url.QueryEscape(k))
			sb.WriteString("=")
			sb.WriteString(url.QueryEscape(v))
			sep = "&"
		}
	}
	return sb.String()
}

// HashBytes returns the SHA-256 hex of b; the empty body hashes as the
// empty string's digest.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hashStableHeaders(headers http.Header) string {
	type kv struct{ k, v string }
	pairs := make([]kv, 0, len(headers))
	for k, vs := range headers {
		lk := strings.ToLower(k)
		if _, skip := volatileHeaders[lk]; skip {
			continue
		}
		for _, v := range vs {
			pairs = append(pairs, kv{lk, v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	var sb strings.Builder
	for i, p := range pairs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(p.k)
		sb.WriteString(":")
		sb.WriteString(p.v)
	}
	return HashBytes([]byte(sb.String()))
}
