package service

import (
	"sync"

	"wagate/internal/models"
	sockettypes "wagate/pkg/wasocket/types"
)

// SessionHandle is one live session entry. Handles are immutable once
// published; a state change replaces the handle rather than mutating it, so
// readers never observe a half-updated session.
type SessionHandle struct {
	Session *models.Session
	Socket  sockettypes.Socket
	Cancel  func()
}

// Registry is the authoritative in-memory index of live sessions, keyed by
// phone number. The database holds the durable record; the registry holds
// what is actually running in this process.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*SessionHandle
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*SessionHandle)}
}

func (r *Registry) Get(phoneNumber string) (*SessionHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.entries[phoneNumber]
	return handle, ok
}

// Put publishes a handle, returning the handle it replaced, if any.
func (r *Registry) Put(phoneNumber string, handle *SessionHandle) *SessionHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.entries[phoneNumber]
	r.entries[phoneNumber] = handle
	return previous
}

// Remove drops the entry only when it still holds the given handle. A
// replace that raced ahead wins; the stale remove is a no-op.
func (r *Registry) Remove(phoneNumber string, handle *SessionHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.entries[phoneNumber]
	if !ok || current != handle {
		return false
	}
	delete(r.entries, phoneNumber)
	return true
}

func (r *Registry) List() []*SessionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]*SessionHandle, 0, len(r.entries))
	for _, handle := range r.entries {
		handles = append(handles, handle)
	}
	return handles
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
