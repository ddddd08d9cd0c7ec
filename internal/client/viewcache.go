package client

import (
	"sync"

	"github.com/tallyhq/tally/internal/models"
)

// DocState tracks where a cached document sits relative to server truth.
type DocState int

const (
	// StateConfirmed means the document matches the last server response.
	StateConfirmed DocState = iota
	// StateOptimistic means a local edit has been applied but not yet
	// acknowledged by the server.
	StateOptimistic
	// StateReconciling means an invalidation arrived and an authoritative
	// re-fetch is in flight.
	StateReconciling
)

func (s DocState) String() string {
	switch s {
	case StateConfirmed:
		return "confirmed"
	case StateOptimistic:
		return "optimistic"
	case StateReconciling:
		return "reconciling"
	default:
		return "unknown"
	}
}

// ViewCache holds the last known full document per group so the UI can
// render instantly before reconciliation. Each document moves through an
// explicit state machine driven by discrete events: local edit, write
// success, write failure, invalidation received, authoritative fetch.
type ViewCache struct {
	mu   sync.Mutex
	docs map[string]*cacheEntry
}

type cacheEntry struct {
	doc      *models.Group
	snapshot *models.Group // pre-mutation copy, kept while optimistic
	state    DocState
}

// NewViewCache creates an empty cache.
func NewViewCache() *ViewCache {
	return &ViewCache{docs: make(map[string]*cacheEntry)}
}

// Get returns a copy of the cached document and its state.
func (v *ViewCache) Get(code string) (*models.Group, DocState, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.docs[code]
	if !ok {
		return nil, StateConfirmed, false
	}
	return e.doc.Clone(), e.state, true
}

// ApplyOptimistic applies a local edit to a deep copy of the cached document
// and keeps the pre-mutation snapshot for rollback. Returns false when no
// document is cached (nothing to edit against). The first optimistic edit's
// snapshot is preserved across stacked edits so a later revert restores the
// last confirmed state.
func (v *ViewCache) ApplyOptimistic(code string, mutate func(*models.Group)) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.docs[code]
	if !ok {
		return false
	}
	next := e.doc.Clone()
	mutate(next)
	if e.state != StateOptimistic {
		e.snapshot = e.doc
	}
	e.doc = next
	e.state = StateOptimistic
	return true
}

// ConfirmWrite marks the optimistic document as acknowledged and drops the
// rollback snapshot.
func (v *ViewCache) ConfirmWrite(code string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if e, ok := v.docs[code]; ok {
		e.snapshot = nil
		e.state = StateConfirmed
	}
}

// RevertWrite restores the pre-mutation snapshot after a definitive write
// failure. A no-op when nothing is optimistic.
func (v *ViewCache) RevertWrite(code string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.docs[code]
	if !ok || e.snapshot == nil {
		return
	}
	e.doc = e.snapshot
	e.snapshot = nil
	e.state = StateConfirmed
}

// MarkReconciling records that an invalidation arrived and a re-fetch is
// pending. The current document stays renderable meanwhile.
func (v *ViewCache) MarkReconciling(code string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if e, ok := v.docs[code]; ok {
		e.state = StateReconciling
	}
}

// StoreAuthoritative replaces the cached document with a server response.
// Server state is the single source of truth: it overwrites any optimistic
// state unconditionally and discards pending snapshots.
func (v *ViewCache) StoreAuthoritative(code string, doc *models.Group) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.docs[code] = &cacheEntry{doc: doc.Clone(), state: StateConfirmed}
}

// Drop removes a document, e.g. after its group was deleted.
func (v *ViewCache) Drop(code string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.docs, code)
}
