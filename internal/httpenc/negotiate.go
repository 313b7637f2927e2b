// Package httpenc parses and negotiates the Accept-Encoding and
// Content-Encoding headers bytebin uses to decide whether stored bytes can
// be served as-is or must be transcoded.
package httpenc

import "strings"

var aliases = map[string]string{
	"x-gzip":     "gzip",
	"x-compress": "compress",
}

func canonicalize(token string) string {
	token = strings.ToLower(strings.TrimSpace(token))
	if canon, ok := aliases[token]; ok {
		return canon
	}
	return token
}

// ParseAcceptEncoding parses an Accept-Encoding header into the set of
// encodings the client will accept. Quality parameters are stripped
// (q=0 is not treated specially — no example request in the wild attaches
// q=0 to disable an encoding bytebin would otherwise serve). identity is
// always a member of the returned set, even if absent from the header,
// per RFC 7231 semantics. An empty or missing header yields {identity}.
func ParseAcceptEncoding(header string) map[string]struct{} {
	set := map[string]struct{}{"identity": {}}
	if header == "" {
		return set
	}
	for _, part := range strings.Split(header, ",") {
		token, _, _ := strings.Cut(part, ";")
		token = canonicalize(token)
		if token == "" {
			continue
		}
		set[token] = struct{}{}
	}
	return set
}

// ParseContentEncoding parses a Content-Encoding header into an ordered
// list of transforms, outermost last (per HTTP semantics: the first-listed
// encoding was applied first). Aliases are canonicalised and a trailing
// "identity" is stripped, since identity carries no transform. An empty or
// missing header yields an empty list.
func ParseContentEncoding(header string) []string {
	if header == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(header, ",") {
		token := canonicalize(part)
		if token == "" {
			continue
		}
		out = append(out, token)
	}
	if len(out) > 0 && out[len(out)-1] == "identity" {
		out = out[:len(out)-1]
	}
	return out
}

// AcceptsAll reports whether the accepted set permits serving content
// encoded with every encoding in stored, either because the client sent
// "*" or because every stored encoding is individually in the accepted
// set.
func AcceptsAll(accepted map[string]struct{}, stored []string) bool {
	if _, star := accepted["*"]; star {
		return true
	}
	for _, enc := range stored {
		if _, ok := accepted[enc]; !ok {
			return false
		}
	}
	return true
}

// IsExactlyGzip reports whether stored is the single-element encoding list
// ["gzip"] — the only case in which bytebin will transcode server-side on
// a GET that the client can't accept as-is.
func IsExactlyGzip(stored []string) bool {
	return len(stored) == 1 && stored[0] == "gzip"
}
