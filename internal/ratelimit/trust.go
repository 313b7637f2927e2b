package ratelimit

import "errors"

// ErrUnauthorizedAPIKey is returned by Classify when an API key is
// presented but not in the configured allowlist.
var ErrUnauthorizedAPIKey = errors.New("ratelimit: unauthorized api key")

// Classify implements bytebin's trusted-proxy contract: if an
// API key is presented it must be in allowlist, and when present and
// valid, forwardedIP replaces remoteIP for rate-limiting purposes. A
// caller is a "real user" — and therefore subject to metrics and verbose
// logging — iff no API key was presented, or one was presented together
// with a forwarded IP. A trusted server reporting only itself (API key,
// no forwarded IP) is never a real user.
func Classify(apiKey, forwardedIP, remoteIP string, allowlist map[string]struct{}) (effectiveIP string, realUser bool, err error) {
	if apiKey == "" {
		return remoteIP, true, nil
	}
	if _, ok := allowlist[apiKey]; !ok {
		return "", false, ErrUnauthorizedAPIKey
	}
	if forwardedIP != "" {
		return forwardedIP, true, nil
	}
	return remoteIP, false, nil
}
