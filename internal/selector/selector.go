// Package selector implements bytebin's backend-routing chain of
// responsibility: on save, the first rule matching a record's metadata
// picks the backend that should hold it.
package selector

import "github.com/lucko/bytebin/internal/content"

// Rule decides whether it applies to rec; if so it returns the backend ID
// to route to. Rules are evaluated in chain order and the first match
// wins — no rule ever reads after routing is fixed at write time.
type Rule interface {
	Select(rec *content.Record) (backendID string, matched bool)
}

// Chain wraps the head of a Rule linked list (each predicate rule holds
// its own Next). A well-formed chain always terminates in a Static rule so
// selection never falls off the end; Chain.Select panics if it does, since
// that indicates a misconfigured chain rather than a runtime condition.
type Chain struct {
	head Rule
}

// NewChain builds a chain rooted at head, e.g.
// NewChain(IfSizeGt{..., Next: IfExpiryGt{..., Next: Static{...}}}).
func NewChain(head Rule) Chain {
	return Chain{head: head}
}

// Select runs the chain against rec and returns the chosen backend ID.
func (c Chain) Select(rec *content.Record) string {
	id, ok := c.head.Select(rec)
	if !ok {
		panic("selector: chain did not terminate in a match; did you forget a Static rule?")
	}
	return id
}

// Static always matches, naming a fixed backend. It terminates a chain.
type Static struct {
	BackendID string
}

func (s Static) Select(*content.Record) (string, bool) { return s.BackendID, true }

// IfSizeGt routes to BackendID when the record's content length exceeds
// ThresholdBytes, falling through to Next otherwise.
type IfSizeGt struct {
	ThresholdBytes int64
	BackendID      string
	Next           Rule
}

func (r IfSizeGt) Select(rec *content.Record) (string, bool) {
	if rec.ContentLength > r.ThresholdBytes {
		return r.BackendID, true
	}
	if r.Next == nil {
		return "", false
	}
	return r.Next.Select(rec)
}

// IfExpiryGt routes to BackendID when the record's expiry is further away
// than ThresholdMinutes, treating Never as exceeding any threshold.
// Falls through to Next otherwise.
type IfExpiryGt struct {
	ThresholdMinutes int
	BackendID        string
	Next             Rule
}

func (r IfExpiryGt) Select(rec *content.Record) (string, bool) {
	if rec.Expiry.IsNever() {
		return r.BackendID, true
	}
	minutesLeft := int(rec.Expiry.Time().Sub(rec.LastModified).Minutes())
	if minutesLeft > r.ThresholdMinutes {
		return r.BackendID, true
	}
	if r.Next == nil {
		return "", false
	}
	return r.Next.Select(rec)
}
