package form

import (
	"sync"
	"time"
)

type pendingEntry struct {
	request   *Request
	sessionID string
	expiresAt time.Time
}

// PendingTable holds outstanding external-step requests, keyed by request id.
// Process-scoped; a restart forgets every pending form.
type PendingTable struct {
	mu         sync.Mutex
	entries    map[string]pendingEntry
	defaultTTL time.Duration
}

func NewPendingTable(defaultTTL time.Duration) *PendingTable {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &PendingTable{
		entries:    make(map[string]pendingEntry),
		defaultTTL: defaultTTL,
	}
}

// Put registers a request for the session.
func (t *PendingTable) Put(req *Request, sessionID string) {
	ttl := t.defaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	} else {
		req.TTLSeconds = int(ttl.Seconds())
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[req.ID] = pendingEntry{
		request:   req,
		sessionID: sessionID,
		expiresAt: time.Now().UTC().Add(ttl),
	}
}

// Get returns the live entry, or ok=false when missing or expired. Expired
// entries are removed on the way out.
func (t *PendingTable) Get(requestID string) (*Request, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[requestID]
	if !ok {
		return nil, "", false
	}
	if time.Now().UTC().After(entry.expiresAt) {
		delete(t.entries, requestID)
		return nil, "", false
	}
	return entry.request, entry.sessionID, true
}

// Remove drops the entry.
func (t *PendingTable) Remove(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, requestID)
}

// Sweep drops every expired entry and reports how many were removed.
func (t *PendingTable) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for id, entry := range t.entries {
		if now.After(entry.expiresAt) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
