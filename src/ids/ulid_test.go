package ids

import (
	"testing"
	"time"
)

func TestNewULIDLength(t *testing.T) {
	id := NewULID()
	if len(id) != 26 {
		t.Fatalf("expected 26-character ULID, got %d: %q", len(id), id)
	}
}

func TestNewULIDMonotonicWithinMillisecond(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := newULIDAt(at)
	b := newULIDAt(at)
	if a >= b {
		t.Fatalf("expected strictly increasing ids for same millisecond, got %q then %q", a, b)
	}
}

func TestNewULIDOrdersByTime(t *testing.T) {
	earlier := newULIDAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	later := newULIDAt(time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC))
	if earlier >= later {
		t.Fatalf("expected earlier timestamp to sort first, got %q then %q", earlier, later)
	}
}

func TestEncodeUsesCrockfordAlphabet(t *testing.T) {
	id := NewULID()
	for _, c := range id {
		found := false
		for _, a := range crockford {
			if a == c {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("character %q not in crockford alphabet", c)
		}
	}
}
