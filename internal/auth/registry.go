// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "sync"

// IdentityRegistry holds authenticated identities for the session layer.
//
// Identities live in one ordered slice; the key and username maps are indexes
// into it. Keys (source and id) are unique. Usernames are not: the username
// index keeps the first identity added under a name.
//
// IdentityRegistry is safe for concurrent use.
type IdentityRegistry struct {
	mu         sync.RWMutex
	identities []*Identity
	byKey      map[IdentityKey]int
	byUsername map[string]int
}

// NewIdentityRegistry creates an empty registry.
func NewIdentityRegistry() *IdentityRegistry {
	return &IdentityRegistry{
		byKey:      make(map[IdentityKey]int),
		byUsername: make(map[string]int),
	}
}

// Add registers identity. It returns false if an identity with the same
// source and id is already registered or identity is nil.
func (r *IdentityRegistry) Add(identity *Identity) bool {
	if identity == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := identity.Key()
	if _, exists := r.byKey[key]; exists {
		return false
	}
	r.identities = append(r.identities, identity)
	idx := len(r.identities) - 1
	r.byKey[key] = idx
	if _, exists := r.byUsername[identity.Username]; !exists {
		r.byUsername[identity.Username] = idx
	}
	return true
}

// GetByUsername returns the identity registered under username.
func (r *IdentityRegistry) GetByUsername(username string) (*Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byUsername[username]
	if !ok {
		return nil, false
	}
	return r.identities[idx], true
}

// GetByID returns the identity source registered under id.
func (r *IdentityRegistry) GetByID(source string, id int64) (*Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byKey[IdentityKey{Source: source, ID: id}]
	if !ok {
		return nil, false
	}
	return r.identities[idx], true
}

// Remove unregisters the identity source registered under id. It returns
// false if no such identity exists.
func (r *IdentityRegistry) Remove(source string, id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byKey[IdentityKey{Source: source, ID: id}]
	if !ok {
		return false
	}
	r.identities = append(r.identities[:idx], r.identities[idx+1:]...)
	r.reindex()
	return true
}

// Len returns the number of registered identities.
func (r *IdentityRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}

// reindex rebuilds both indexes from the backing slice. Callers hold mu.
func (r *IdentityRegistry) reindex() {
	r.byKey = make(map[IdentityKey]int, len(r.identities))
	r.byUsername = make(map[string]int, len(r.identities))
	for i, identity := range r.identities {
		r.byKey[identity.Key()] = i
		if _, exists := r.byUsername[identity.Username]; !exists {
			r.byUsername[identity.Username] = i
		}
	}
}
