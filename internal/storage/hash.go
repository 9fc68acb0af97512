package storage

import (
	"crypto/sha256"
	"encoding/binary"
)

// lockKeySpace bounds advisory lock keys to 2^31 so they stay positive
// and well inside PostgreSQL's signed 64-bit key range.
const lockKeySpace = int64(1) << 31

// LockKey derives a stable advisory-lock key from a lock name: SHA-256
// of the name, low 8 bytes as an unsigned integer, modulo 2^31. Distinct
// names may collide, which for advisory locking only costs a spurious
// IngestionInProgress, never a correctness violation.
func LockKey(name string) int64 {
	sum := sha256.Sum256([]byte(name))

	low := binary.BigEndian.Uint64(sum[len(sum)-8:])

	return int64(low % uint64(lockKeySpace))
}
