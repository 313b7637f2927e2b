package token

import (
	"regexp"
	"testing"
)

func TestGenerateLength(t *testing.T) {
	g := NewGenerator(7)
	k, err := g.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if len(k) != 7 {
		t.Fatalf("expected length 7, got %d (%q)", len(k), k)
	}
	if !regexp.MustCompile(`^[a-zA-Z0-9]{7}$`).MatchString(k) {
		t.Fatalf("key %q does not match expected shape", k)
	}
}

func TestGenerateDefaultsNonPositiveLength(t *testing.T) {
	g := NewGenerator(0)
	k, err := g.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if len(k) != 7 {
		t.Fatalf("expected default length 7, got %d", len(k))
	}
}

func TestModificationKeyIs32Chars(t *testing.T) {
	g := NewGenerator(7)
	k, err := g.ModificationKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(k) != 32 {
		t.Fatalf("expected 32-char modification key, got %d", len(k))
	}
}

func TestGenerateUniqueness(t *testing.T) {
	g := NewGenerator(10)
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		k, err := g.Generate()
		if err != nil {
			t.Fatal(err)
		}
		if _, dup := seen[k]; dup {
			t.Fatalf("generated duplicate key %q", k)
		}
		seen[k] = struct{}{}
	}
}

func TestValid(t *testing.T) {
	cases := map[string]bool{
		"abc123":  true,
		"ABC":     true,
		"":        false,
		"abc-123": false,
		"abc 123": false,
		"日本語":     false,
	}
	for in, want := range cases {
		if got := Valid(in); got != want {
			t.Errorf("Valid(%q) = %v, want %v", in, got, want)
		}
	}
}
