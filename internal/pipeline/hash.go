package pipeline

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalHash returns the sha256 hex digest of v's canonical JSON form.
// The value is round-tripped through generic JSON so that maps re-marshal
// with sorted keys: identical data hashes identically regardless of
// insertion order.
func CanonicalHash(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling for hash: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("canonicalizing for hash: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("remarshaling for hash: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// DeriveSeed is a pure function of (date, runID): re-deriving from the
// same pair is byte-identical, which is what lets an audit replay the
// stochastic selection of any historical run.
func DeriveSeed(date, runID string) int64 {
	sum := sha256.Sum256([]byte(date + "|" + runID))
	seed := int64(binary.BigEndian.Uint64(sum[:8]) &^ (1 << 63))
	return seed
}
