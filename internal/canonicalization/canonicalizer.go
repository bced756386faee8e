package canonicalization

import (
	"crypto/sha256"
	"encoding/hex"
)

// GenerateSessionIdempotencyKey computes a deterministic key identifying one
// StartSession request, so session.Registry can collapse a retried request
// (a station controller re-submitting after a network blip, or an operator
// double-clicking "Start") into the session already created for it, instead
// of opening a second run against the same DUT.
//
// Formula: SHA256(serialNumber + stationID + projectID + planName +
// requestedAt), where requestedAt is the RFC3339Nano timestamp the caller
// attached to the request (not wall-clock time read here, so the key stays
// a pure function of its inputs).
//
// Returns a 64-character lowercase hex string.
func GenerateSessionIdempotencyKey(serialNumber, stationID, projectID, planName, requestedAt string) string {
	input := serialNumber + stationID + projectID + planName + requestedAt
	hash := sha256.Sum256([]byte(input))

	return hex.EncodeToString(hash[:])
}
