package ids

import "testing"

func TestProfileHashStableForSameInputs(t *testing.T) {
	a := ProfileHash("alice", "Al", "https://example.com/a.png")
	b := ProfileHash("alice", "Al", "https://example.com/a.png")
	if a != b {
		t.Fatalf("expected identical hash for identical inputs, got %q and %q", a, b)
	}
}

func TestProfileHashChangesOnNicknameChange(t *testing.T) {
	a := ProfileHash("alice", "Al", "https://example.com/a.png")
	b := ProfileHash("alice", "Alice", "https://example.com/a.png")
	if a == b {
		t.Fatal("expected different hash when nickname changes")
	}
}

func TestProfileHashDoesNotConfusePFieldBoundaries(t *testing.T) {
	// "ab" + "c" should not hash the same as "a" + "bc": the null-byte
	// separator in hashParts exists precisely to prevent this.
	a := ProfileHash("ab", "c", "")
	b := ProfileHash("a", "bc", "")
	if a == b {
		t.Fatal("expected field-boundary-sensitive hashing, got a collision")
	}
}

func TestMessageContentHashChangesOnAttachmentChange(t *testing.T) {
	a := MessageContentHash("hello", nil)
	b := MessageContentHash("hello", []string{"https://example.com/f.png"})
	if a == b {
		t.Fatal("expected different hash when an attachment is added")
	}
}

func TestSidebarHashOrderSensitive(t *testing.T) {
	a := SidebarHash([]string{"general", "random"})
	b := SidebarHash([]string{"random", "general"})
	if a == b {
		t.Fatal("expected room ordering to affect the sidebar hash")
	}
}
