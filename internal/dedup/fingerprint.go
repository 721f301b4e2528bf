// Package dedup implements the message-dedup / anti-loop / per-contact
// serialization core that guards the webhook-to-send pipeline: a TTL-bounded
// fingerprint store for duplicate and echo detection, a per-contact lock
// table serializing outbound sends, and the echo filter built on top of the
// store.
//
// Design goals:
//   - No logging in the library (callers decide how/what to log)
//   - Fine-grained synchronization: unrelated contacts never contend on a
//     shared mutex
//   - Explicit lifecycle: stores are injectable values created once per
//     process, so tests instantiate isolated instances per case
//   - Injectable clock for deterministic TTL tests
package dedup

import (
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
)

// fingerprintShards bounds lock contention; fingerprints for one contact
// always land in the same shard.
const fingerprintShards = 32

// fingerprintShard is one bucket of the store: a map of fingerprint key to
// expiry instant, guarded by its own mutex.
type fingerprintShard struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// FingerprintStore answers "has this exact (contact, normalized text) pair
// been exchanged within the dedup window?". Entries are created on accepted
// inbound events and on successful outbound sends, and are evicted lazily on
// lookup or explicitly via Sweep.
//
// The store is safe for concurrent use. Recording the same fingerprint from
// concurrent inbound and outbound flows is last-writer-wins on the expiry,
// which is acceptable: both writers assert the same fact.
type FingerprintStore struct {
	shards [fingerprintShards]fingerprintShard

	// now is the clock used for expiry decisions; replaced in tests.
	now func() time.Time
}

// NewFingerprintStore returns an empty store using the wall clock.
func NewFingerprintStore() *FingerprintStore {
	s := &FingerprintStore{now: time.Now}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]time.Time)
	}
	return s
}

// Record stores (or refreshes) the fingerprint for (contactID, text) with
// expiry now+ttl. Recording an existing fingerprint merely pushes its expiry
// forward.
func (s *FingerprintStore) Record(contactID, text string, ttl time.Duration) {
	key := fingerprintKey(contactID, text)
	sh := s.shard(contactID)

	sh.mu.Lock()
	sh.entries[key] = s.now().Add(ttl)
	sh.mu.Unlock()
}

// Seen reports whether a non-expired fingerprint exists for the exact
// (contactID, normalized text) pair. An expired entry is treated as absent
// and evicted on the spot.
func (s *FingerprintStore) Seen(contactID, text string) bool {
	key := fingerprintKey(contactID, text)
	sh := s.shard(contactID)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	exp, ok := sh.entries[key]
	if !ok {
		return false
	}
	if !s.now().Before(exp) {
		delete(sh.entries, key)
		return false
	}
	return true
}

// Sweep evicts all expired entries and returns how many were removed.
// Intended to run on a timer from the host process; Seen already evicts
// opportunistically, so Sweep only bounds memory for fingerprints that are
// never looked up again.
func (s *FingerprintStore) Sweep() int {
	now := s.now()
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, exp := range sh.entries {
			if !now.Before(exp) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of stored fingerprints, expired or not.
func (s *FingerprintStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

func (s *FingerprintStore) shard(contactID string) *fingerprintShard {
	h := fnv.New32a()
	h.Write([]byte(contactID))
	return &s.shards[h.Sum32()%fingerprintShards]
}

// fingerprintKey builds the map key: contact id plus the FNV-64a hash of the
// normalized text. The contact id stays in the clear so one contact's
// fingerprints can never collide into another's, whatever the hash does.
func fingerprintKey(contactID, text string) string {
	h := fnv.New64a()
	h.Write([]byte(normalizeText(text)))
	return contactID + ":" + strconv.FormatUint(h.Sum64(), 16)
}

// normalizeText trims, collapses internal whitespace runs to single spaces,
// and Unicode case-folds, so that two messages differing only by casing or
// spacing produce the same fingerprint.
func normalizeText(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	return cases.Fold().String(collapsed)
}
