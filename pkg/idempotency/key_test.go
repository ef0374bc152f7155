package idempotency

import (
	"strings"
	"testing"
)

func TestMessageKeyStable(t *testing.T) {
	a := MessageKey("Tenant-A", "inst-1", "WAMID-abc", 2)
	b := MessageKey("tenant-a", "INST-1", "wamid-ABC", 2)
	if a != b {
		t.Fatalf("keys must be case-insensitive: %q != %q", a, b)
	}
}

func TestMessageKeyIndexDistinguishes(t *testing.T) {
	a := MessageKey("t", "i", "m", 0)
	b := MessageKey("t", "i", "m", 1)
	if a == b {
		t.Fatalf("different indexes must yield different keys")
	}
}

func TestMessageKeyPlaceholders(t *testing.T) {
	key := MessageKey("", "  ", "msg-1", 0)
	if !strings.Contains(key, "unknown") {
		t.Fatalf("empty fields must become the unknown placeholder, got %q", key)
	}
}

func TestSeparatorCannotCollide(t *testing.T) {
	// "ab" + "c" and "a" + "bc" must not produce the same key.
	a := MessageKey("ab", "c", "m", 0)
	b := MessageKey("a", "bc", "m", 0)
	if a == b {
		t.Fatalf("field boundaries must be unambiguous")
	}
}

func TestAckKeyDistinctFromMessageKey(t *testing.T) {
	if AckKey("t", "i", "m") == MessageKey("t", "i", "m", 0) {
		t.Fatalf("ACK keys must not collide with message keys")
	}
}

func TestAllocationKeyPerCampaign(t *testing.T) {
	a := AllocationKey("t", "camp-1", "lead-1", "m")
	b := AllocationKey("t", "camp-2", "lead-1", "m")
	if a == b {
		t.Fatalf("allocations for different campaigns must not collide")
	}
}
