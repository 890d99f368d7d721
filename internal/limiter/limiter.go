// Package limiter throttles repeated failed vault unlocks.
package limiter

import (
	"context"
	"crypto/sha256"
	"net"
	"time"
)

// Key identifies who is attempting an unlock. IPs are stored hashed.
type Key struct {
	Subject string
	IPHash  []byte
}

// KeyFor builds a key from a subject and a remote address ("host:port" or bare host).
func KeyFor(subject, remote string) Key {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	return Key{Subject: subject, IPHash: HashIP(host)}
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

// Limiter tracks failed attempts and temporary blocks.
type Limiter interface {
	// Check returns a positive retry-after while k is blocked, zero otherwise.
	Check(ctx context.Context, k Key) (time.Duration, error)
	// Fail records a failed attempt and returns the block duration if this attempt triggered one.
	Fail(ctx context.Context, k Key) (time.Duration, error)
	// Reset clears counters after a successful unlock.
	Reset(ctx context.Context, k Key) error
}

// Nop never blocks.
type Nop struct{}

func (Nop) Check(context.Context, Key) (time.Duration, error) { return 0, nil }
func (Nop) Fail(context.Context, Key) (time.Duration, error)  { return 0, nil }
func (Nop) Reset(context.Context, Key) error                  { return nil }
