package dedup

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLockTimeout is returned by LockTable.Acquire when another holder kept
// the contact's lock for the entire acquisition window. A stuck lock means a
// concurrent send for that contact is already in progress; the documented
// caller policy is drop and log, not retry.
var ErrLockTimeout = errors.New("contact lock acquisition timed out")

// lockEntry is the per-contact mutual-exclusion slot.
//
// holder is the current token, empty when free. expires caps how long one
// holder may keep the slot: a holder past its expiry is displaceable by the
// next acquirer, so a crashed or wedged send cannot permanently block its
// contact. freed is closed (and replaced) on release so waiters wake without
// polling.
type lockEntry struct {
	mu      sync.Mutex
	holder  string
	expires time.Time
	freed   chan struct{}
}

// LockTable serializes outbound sends per contact: at most one live holder
// token per contact id at any instant. Acquisition across different contacts
// never blocks; the table mutex guards only the map, never a held lock.
type LockTable struct {
	mu       sync.Mutex
	contacts map[string]*lockEntry

	holdTTL time.Duration

	// test seams
	now      func() time.Time
	newToken func() string
}

// NewLockTable constructs a table whose holders expire holdTTL after
// acquisition. holdTTL must exceed the longest legitimate send (lock
// acquisition wait + external call timeouts), otherwise a live holder could
// be displaced mid-send.
func NewLockTable(holdTTL time.Duration) *LockTable {
	return &LockTable{
		contacts: make(map[string]*lockEntry),
		holdTTL:  holdTTL,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// Acquire obtains the lock for contactID, blocking up to timeout while
// another holder owns it. On success it returns the holder token that must
// be passed to Release. On timeout it returns ErrLockTimeout.
//
// A holder whose hold TTL has elapsed is treated as gone and displaced; its
// stale token can no longer release the lock (see Release).
func (t *LockTable) Acquire(contactID string, timeout time.Duration) (string, error) {
	e := t.entry(contactID)

	// The acquisition deadline runs on the wall clock, independent of the
	// now seam, so a waiter always unblocks even when tests freeze time.
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		e.mu.Lock()
		now := t.now()
		if e.holder == "" || !now.Before(e.expires) {
			token := t.newToken()
			e.holder = token
			e.expires = now.Add(t.holdTTL)
			e.mu.Unlock()
			return token, nil
		}
		freed := e.freed
		holderExpiry := e.expires
		e.mu.Unlock()

		// Sleep until the current holder releases, until its hold TTL runs
		// out, or until our own deadline passes, whichever is soonest;
		// then re-check.
		wait := holderExpiry.Sub(t.now())
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		retry := time.NewTimer(wait)
		select {
		case <-deadline.C:
			retry.Stop()
			return "", ErrLockTimeout
		case <-freed:
			retry.Stop()
		case <-retry.C:
		}
	}
}

// Release frees the lock for contactID if token still identifies the current
// holder. A stale or mismatched token is a no-op, not an error: a straggler
// releasing after its hold expired must never unlock a newer holder.
func (t *LockTable) Release(contactID, token string) {
	t.mu.Lock()
	e, ok := t.contacts[contactID]
	t.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.holder != token {
		e.mu.Unlock()
		return
	}
	e.holder = ""
	e.expires = time.Time{}
	close(e.freed)
	e.freed = make(chan struct{})
	e.mu.Unlock()
}

// entry returns the slot for contactID, creating it on first use. The table
// mutex is held only for the map lookup.
func (t *LockTable) entry(contactID string) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.contacts[contactID]
	if !ok {
		e = &lockEntry{freed: make(chan struct{})}
		t.contacts[contactID] = e
	}
	return e
}
