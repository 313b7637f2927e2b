package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowsUpToMax(t *testing.T) {
	l := New(time.Minute, 2)

	if l.IncrementAndCheck("1.2.3.4") {
		t.Fatal("1st action should not exceed limit")
	}
	if l.IncrementAndCheck("1.2.3.4") {
		t.Fatal("2nd action should not exceed limit")
	}
	if !l.IncrementAndCheck("1.2.3.4") {
		t.Fatal("3rd action should exceed limit")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := New(time.Minute, 1)

	if l.IncrementAndCheck("a") {
		t.Fatal("first action for key a should be allowed")
	}
	if l.IncrementAndCheck("b") {
		t.Fatal("first action for key b should be allowed, independent of a")
	}
}

func TestLimiterWindowExpires(t *testing.T) {
	l := New(50*time.Millisecond, 1)

	if l.IncrementAndCheck("k") {
		t.Fatal("first action should be allowed")
	}
	if !l.IncrementAndCheck("k") {
		t.Fatal("second action within window should exceed limit")
	}

	time.Sleep(100 * time.Millisecond)

	if l.IncrementAndCheck("k") {
		t.Fatal("action after window expiry should be allowed again")
	}
}

func TestClassifyNoAPIKeyIsRealUser(t *testing.T) {
	ip, real, err := Classify("", "", "10.0.0.1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ip != "10.0.0.1" || !real {
		t.Fatalf("got ip=%s real=%v", ip, real)
	}
}

func TestClassifyUnknownAPIKeyRejected(t *testing.T) {
	_, _, err := Classify("bad-key", "", "10.0.0.1", map[string]struct{}{"good-key": {}})
	if err != ErrUnauthorizedAPIKey {
		t.Fatalf("expected ErrUnauthorizedAPIKey, got %v", err)
	}
}

func TestClassifyTrustedProxyWithForwardedIPIsRealUser(t *testing.T) {
	allow := map[string]struct{}{"good-key": {}}
	ip, real, err := Classify("good-key", "203.0.113.5", "10.0.0.1", allow)
	if err != nil {
		t.Fatal(err)
	}
	if ip != "203.0.113.5" || !real {
		t.Fatalf("got ip=%s real=%v", ip, real)
	}
}

func TestClassifyTrustedProxyReportingOnlyItselfIsNotRealUser(t *testing.T) {
	allow := map[string]struct{}{"good-key": {}}
	ip, real, err := Classify("good-key", "", "10.0.0.1", allow)
	if err != nil {
		t.Fatal(err)
	}
	if ip != "10.0.0.1" || real {
		t.Fatalf("got ip=%s real=%v, expected trusted server to not be a real user", ip, real)
	}
}

func TestNotFoundLimiterBackoffDoubles(t *testing.T) {
	l := NewNotFoundLimiter(20*time.Millisecond, time.Second)

	if l.Blocked("k") {
		t.Fatal("should not be blocked before any miss")
	}

	l.RecordMiss("k")
	if !l.Blocked("k") {
		t.Fatal("should be blocked immediately after a miss")
	}

	time.Sleep(30 * time.Millisecond)
	if l.Blocked("k") {
		t.Fatal("initial backoff should have expired")
	}

	l.RecordMiss("k")
	l.RecordMiss("k") // doubles to ~40ms
	time.Sleep(30 * time.Millisecond)
	if !l.Blocked("k") {
		t.Fatal("doubled backoff should still be active")
	}
}
