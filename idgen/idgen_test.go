package idgen

import (
	"strings"
	"testing"
)

func TestNanoID_LengthAndAlphabet(t *testing.T) {
	for _, length := range []int{8, 12, 24} {
		id := NanoID(length)()
		if len(id) != length {
			t.Fatalf("NanoID(%d): got length %d", length, len(id))
		}
		for _, c := range id {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
				t.Fatalf("NanoID: unexpected character %q in %q", c, id)
			}
		}
	}
}

func TestUUIDv7_Uniqueness(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]struct{}, 200)
	for i := 0; i < 200; i++ {
		id := gen()
		if len(id) != 36 || strings.Count(id, "-") != 4 {
			t.Fatalf("UUIDv7: malformed %q", id)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("UUIDv7: duplicate at iteration %d", i)
		}
		seen[id] = struct{}{}
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("stg_", NanoID(6))()
	if !strings.HasPrefix(id, "stg_") || len(id) != 10 {
		t.Fatalf("Prefixed: got %q", id)
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("t")
	if a, b := gen(), gen(); a != "t1" || b != "t2" {
		t.Fatalf("Sequence: got %q, %q", a, b)
	}
}

func TestValid(t *testing.T) {
	// WHAT: Generated IDs are valid path elements, traversal-like ones are not.
	// WHY: Staging directories are named after IDs.
	good := []string{New(), Prefixed("stg_", NanoID(10))(), "t1"}
	for _, id := range good {
		if err := Valid(id); err != nil {
			t.Errorf("Valid(%q): %v", id, err)
		}
	}
	bad := []string{"", "..", "a/b", "a.b", strings.Repeat("x", 129)}
	for _, id := range bad {
		if Valid(id) == nil {
			t.Errorf("Valid(%q): expected error", id)
		}
	}
}
