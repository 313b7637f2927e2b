// Package expiry resolves how long a freshly-posted record should live,
// based on the requesting client's User-Agent, Origin and Host.
package expiry

import (
	"time"

	"github.com/lucko/bytebin/internal/content"
)

// OverrideKind names which request attribute an override map keys on.
type OverrideKind int

const (
	// UserAgent overrides match on the exact User-Agent header value.
	UserAgent OverrideKind = iota
	// Origin overrides match on the exact Origin header value.
	Origin
	// Host overrides match on the exact Host header value.
	Host
)

// precedence is first-match-wins, per spec: user-agent, then origin, then host.
var precedence = []OverrideKind{UserAgent, Origin, Host}

// Policy configures the default record lifetime and any per-client
// overrides. A zero or negative Default means "never expire" unless
// overridden.
type Policy struct {
	Default   time.Duration
	Overrides map[OverrideKind]map[string]time.Duration
}

// Resolve computes the expiry for a record created by a client presenting
// the given User-Agent, Origin and Host. The first override map (in
// user-agent, origin, host order) containing an exact match for the
// corresponding value wins; otherwise Default applies. A resolved duration
// of zero or less means the record never expires.
func (p Policy) Resolve(userAgent, origin, host string) content.Expiry {
	values := map[OverrideKind]string{UserAgent: userAgent, Origin: origin, Host: host}

	duration := p.Default
	for _, kind := range precedence {
		m, ok := p.Overrides[kind]
		if !ok {
			continue
		}
		if d, ok := m[values[kind]]; ok {
			duration = d
			break
		}
	}

	if duration <= 0 {
		return content.Never
	}
	return content.At(time.Now().Add(duration))
}
