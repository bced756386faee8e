// Package canonicalization provides canonical identifier normalization for
// the test orchestrator: instrument IDs referenced inconsistently across a
// test plan, instrument_configs rows, and operator input must resolve to
// the same pool.Factory/driver.Registry entry, and repeated StartSession
// calls from a flaky station controller must collapse to one session
// (spec.md §9, SPEC_FULL.md §0).
package canonicalization

import "strings"

// NormalizeInstrumentID lowercases and trims an instrument_id so that
// "PSU1", " psu1 ", and "Psu1" all resolve to the same driver.Registry and
// pool.Pool entry (spec.md §3.1 InstrumentConfig.ID; SPEC_FULL.md §0).
//
// Test plans are authored by station engineers across shifts and tools;
// without this normalization a casing mismatch between a test plan's
// params["instrument"] and instrument_configs.id silently produces a "no
// driver registered" error instead of running the test.
func NormalizeInstrumentID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
