package verification

import (
	"hash/fnv"
	"sync"

	"biogate/pkg/domain"

	"github.com/google/uuid"
)

// lockShards bounds memory for the per-identity lock table. Two identities
// sharing a shard serialize against each other, which is harmless; two
// requests for the same identity always share one.
const lockShards = 128

// keyedLocks serializes all state mutations for one identity: the lockout
// read-modify-write and the paired audit append must be mutually exclusive,
// or concurrent failures could race past the lockout threshold.
type keyedLocks struct {
	shards [lockShards]sync.Mutex
}

func (l *keyedLocks) forIdentity(id domain.IdentityID) *sync.Mutex {
	h := fnv.New32a()
	raw := uuid.UUID(id)
	h.Write(raw[:])
	return &l.shards[h.Sum32()%lockShards]
}
