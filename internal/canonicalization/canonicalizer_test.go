package canonicalization

import "testing"

// ==============================================================================
// Unit Tests: Session Idempotency Key Generation
// ==============================================================================

func TestGenerateSessionIdempotencyKey_ReturnsHexSHA256(t *testing.T) {
	key := GenerateSessionIdempotencyKey("SN123", "STATION-1", "proj-a", "final-test", "2026-07-30T10:00:00.000000000Z")

	if len(key) != 64 {
		t.Errorf("GenerateSessionIdempotencyKey() returned %d chars, expected 64", len(key))
	}

	for _, r := range key {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			t.Errorf("GenerateSessionIdempotencyKey() = %q, expected lowercase hex", key)
			break
		}
	}
}

func TestGenerateSessionIdempotencyKey_Deterministic(t *testing.T) {
	key1 := GenerateSessionIdempotencyKey("SN123", "STATION-1", "proj-a", "final-test", "2026-07-30T10:00:00.000000000Z")
	key2 := GenerateSessionIdempotencyKey("SN123", "STATION-1", "proj-a", "final-test", "2026-07-30T10:00:00.000000000Z")
	key3 := GenerateSessionIdempotencyKey("SN123", "STATION-1", "proj-a", "final-test", "2026-07-30T10:00:00.000000000Z")

	if key1 != key2 || key2 != key3 {
		t.Error("GenerateSessionIdempotencyKey() is not deterministic")
	}
}

func TestGenerateSessionIdempotencyKey_DifferentSerialNumber(t *testing.T) {
	key1 := GenerateSessionIdempotencyKey("SN123", "STATION-1", "proj-a", "final-test", "2026-07-30T10:00:00.000000000Z")
	key2 := GenerateSessionIdempotencyKey("SN456", "STATION-1", "proj-a", "final-test", "2026-07-30T10:00:00.000000000Z")

	if key1 == key2 {
		t.Error("GenerateSessionIdempotencyKey() returned same key for different serial numbers")
	}
}

func TestGenerateSessionIdempotencyKey_DifferentStation(t *testing.T) {
	key1 := GenerateSessionIdempotencyKey("SN123", "STATION-1", "proj-a", "final-test", "2026-07-30T10:00:00.000000000Z")
	key2 := GenerateSessionIdempotencyKey("SN123", "STATION-2", "proj-a", "final-test", "2026-07-30T10:00:00.000000000Z")

	if key1 == key2 {
		t.Error("GenerateSessionIdempotencyKey() returned same key for different stations")
	}
}

func TestGenerateSessionIdempotencyKey_DifferentProject(t *testing.T) {
	key1 := GenerateSessionIdempotencyKey("SN123", "STATION-1", "proj-a", "final-test", "2026-07-30T10:00:00.000000000Z")
	key2 := GenerateSessionIdempotencyKey("SN123", "STATION-1", "proj-b", "final-test", "2026-07-30T10:00:00.000000000Z")

	if key1 == key2 {
		t.Error("GenerateSessionIdempotencyKey() returned same key for different projects")
	}
}

func TestGenerateSessionIdempotencyKey_DifferentPlan(t *testing.T) {
	key1 := GenerateSessionIdempotencyKey("SN123", "STATION-1", "proj-a", "final-test", "2026-07-30T10:00:00.000000000Z")
	key2 := GenerateSessionIdempotencyKey("SN123", "STATION-1", "proj-a", "burn-in", "2026-07-30T10:00:00.000000000Z")

	if key1 == key2 {
		t.Error("GenerateSessionIdempotencyKey() returned same key for different plan names")
	}
}

func TestGenerateSessionIdempotencyKey_DifferentRequestedAt(t *testing.T) {
	key1 := GenerateSessionIdempotencyKey("SN123", "STATION-1", "proj-a", "final-test", "2026-07-30T10:00:00.000000000Z")
	key2 := GenerateSessionIdempotencyKey("SN123", "STATION-1", "proj-a", "final-test", "2026-07-30T10:00:01.000000000Z")

	if key1 == key2 {
		t.Error("GenerateSessionIdempotencyKey() returned same key for different requestedAt timestamps")
	}
}

func TestGenerateSessionIdempotencyKey_RetriedRequestCollapses(t *testing.T) {
	// A retried StartSession request for the same DUT, station, plan, and
	// requestedAt must collapse to the same key regardless of call order.
	key1 := GenerateSessionIdempotencyKey("SN999", "STATION-9", "proj-z", "burn-in", "2026-07-30T09:00:00.000000000Z")
	key2 := GenerateSessionIdempotencyKey("SN999", "STATION-9", "proj-z", "burn-in", "2026-07-30T09:00:00.000000000Z")

	if key1 != key2 {
		t.Error("retried StartSession request should produce the same idempotency key")
	}
}

func TestGenerateSessionIdempotencyKey_EmptyFieldsStillHash(t *testing.T) {
	key := GenerateSessionIdempotencyKey("", "", "", "", "")

	if len(key) != 64 {
		t.Errorf("GenerateSessionIdempotencyKey() should return 64-char hash even for empty fields, got %d chars", len(key))
	}
}
