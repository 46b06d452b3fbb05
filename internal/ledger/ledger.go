// Package ledger implements the tamper-evident hash chain over audit log
// entries. Every entry commits to its predecessor's hash; the first entry
// links to the genesis sentinel. Hashing and verification are pure so they
// can run against any storage backend.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/greenchain/esg-approvals/internal/apperr"
)

// GenesisHash is the previous-hash sentinel carried by the first entry ever
// written.
const GenesisHash = "0"

// Payload is the hashed portion of an audit entry. Fields are fixed-order
// struct members (maps marshal with sorted keys) so json.Marshal is
// deterministic and hashes are reproducible from stored data.
type Payload struct {
	Action   string         `json:"action"`
	UserID   string         `json:"user_id"`
	Category string         `json:"category"`
	Details  string         `json:"details"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Entry is the storage-independent view of one chain link, holding the fields
// a verifier needs and nothing more.
type Entry struct {
	ID           string
	Payload      Payload
	PreviousHash string
	Hash         string
	CreatedAt    time.Time
}

// ComputeHash digests the entry payload, the predecessor hash and the entry's
// creation timestamp. The timestamp keeps two otherwise identical entries
// from hashing equal.
func ComputeHash(p Payload, previousHash string, createdAt time.Time) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeInternal, "failed to marshal audit payload for hashing")
	}

	h := sha256.New()
	h.Write(body)
	h.Write([]byte(previousHash))
	h.Write([]byte(createdAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify walks entries (oldest first) from genesis and fails on the first
// link whose stored hash cannot be reproduced or whose previous-hash pointer
// does not match its predecessor. The returned error names the offending
// entry.
func Verify(entries []Entry) error {
	prevHash := GenesisHash
	for i, e := range entries {
		if e.PreviousHash != prevHash {
			return apperr.Newf(apperr.CodeChainIntegrity,
				"audit chain broken at entry %s (index %d): previous_hash %q does not match predecessor hash %q",
				e.ID, i, e.PreviousHash, prevHash)
		}
		want, err := ComputeHash(e.Payload, e.PreviousHash, e.CreatedAt)
		if err != nil {
			return err
		}
		if e.Hash != want {
			return apperr.Newf(apperr.CodeChainIntegrity,
				"audit chain broken at entry %s (index %d): stored hash does not match recomputation",
				e.ID, i)
		}
		prevHash = e.Hash
	}
	return nil
}
