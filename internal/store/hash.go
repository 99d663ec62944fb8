package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// SpecHash returns the sha256 of the spec's canonical JSON form. Map keys are
// sorted by encoding/json, so equal specs always hash equally.
func SpecHash(spec *schema.Spec) (string, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return "", err
	}
	return HashSnapshot(data), nil
}

// HashSnapshot hashes an already-serialized spec.
func HashSnapshot(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Drifted reports whether the stored hash differs from the current spec's.
// Drift is advisory: callers warn and continue.
func Drifted(state *schema.SessionState, currentHash string) bool {
	return state.Metadata.SpecHash != "" && state.Metadata.SpecHash != currentHash
}
