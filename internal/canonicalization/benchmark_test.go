package canonicalization

import "testing"

// ==============================================================================
// Benchmarks: Normalization Performance
// ==============================================================================

func Benchmark_NormalizeInstrumentID(b *testing.B) {
	if !testing.Short() {
		b.Skip("skipping benchmark in non-short mode")
	}

	ids := []string{
		"PSU1",
		"  psu1  ",
		"Keithley-2015",
		"daq_2",
		"scope-A",
		"multimeter_03",
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		for _, id := range ids {
			_ = NormalizeInstrumentID(id)
		}
	}
}

func Benchmark_GenerateSessionIdempotencyKey(b *testing.B) {
	if !testing.Short() {
		b.Skip("skipping benchmark in non-short mode")
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = GenerateSessionIdempotencyKey("SN123", "STATION-1", "proj-a", "final-test", "2026-07-30T10:00:00.000000000Z")
	}
}
