// Package iohelper provides helper functions for I/O operations,
// particularly for safely reading HTTP bodies with limits.
package iohelper

import "io"

// Standard body size limits.
const (
	// SmallMaxBodySize is for control-plane JSON requests (8KB)
	SmallMaxBodySize int64 = 8 * 1024

	// PlanMaxBodySize is for posted chaos plans (1MB)
	PlanMaxBodySize int64 = 1024 * 1024

	// DefaultMaxBodySize is for proxied request/response bodies (16MB)
	DefaultMaxBodySize int64 = 16 * 1024 * 1024
)

// ReadBody reads from an io.Reader with a size limit. If r is nil, returns
// an empty slice and no error. The limit prevents memory exhaustion from
// oversized bodies.
func ReadBody(r io.Reader, maxSize int64) ([]byte, error) {
	if r == nil {
		return []byte{}, nil
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// ReadBodyDefault reads with the proxied-body limit.
func ReadBodyDefault(r io.Reader) ([]byte, error) {
	return ReadBody(r, DefaultMaxBodySize)
}

// ReadBodySmall reads with the control-plane limit.
func ReadBodySmall(r io.Reader) ([]byte, error) {
	return ReadBody(r, SmallMaxBodySize)
}

// DrainAndClose discards the remainder of r and closes it so HTTP
// connections can be reused.
func DrainAndClose(r io.ReadCloser) {
	if r == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r, DefaultMaxBodySize))
	_ = r.Close()
}
