package sync

import (
	"hash/fnv"
	stdsync "sync"
)

const lockShards = 64

// noteLocks serializes the read-classify-write step per note id. Sharding
// keeps the table fixed-size: two notes sharing a shard contend a little,
// two requests touching the same note are fully serialized, which is the
// invariant that prevents lost updates.
type noteLocks struct {
	shards [lockShards]stdsync.Mutex
}

func newNoteLocks() *noteLocks {
	return &noteLocks{}
}

func (l *noteLocks) shard(noteID string) *stdsync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(noteID))
	return &l.shards[h.Sum32()%lockShards]
}

// Lock acquires the exclusive lock covering noteID.
func (l *noteLocks) Lock(noteID string) {
	l.shard(noteID).Lock()
}

// Unlock releases the lock covering noteID.
func (l *noteLocks) Unlock(noteID string) {
	l.shard(noteID).Unlock()
}

// ownerGates hands out one RWMutex per owner, created on first use.
//
// Mutation applies hold the owner's gate in read mode for the duration of
// one note's apply step; delta capture takes it in write mode. Capture
// therefore waits out every apply whose stamp predates the new cursor, so
// the cursor never claims to cover a change that wasn't yet visible to the
// delta query.
type ownerGates struct {
	mu    stdsync.Mutex
	gates map[string]*stdsync.RWMutex
}

func newOwnerGates() *ownerGates {
	return &ownerGates{gates: make(map[string]*stdsync.RWMutex)}
}

func (g *ownerGates) gate(owner string) *stdsync.RWMutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	gate, ok := g.gates[owner]
	if !ok {
		gate = &stdsync.RWMutex{}
		g.gates[owner] = gate
	}
	return gate
}
