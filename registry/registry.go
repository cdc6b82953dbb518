// Package registry holds the in-memory map from user to their currently-owned
// ephemeral voice channel. It is a best-effort cache over the settings store;
// when the two disagree the store wins.
package registry

import "sync"

// Memberships maps owner user ids to their live ephemeral channel id.
// Safe for concurrent use; gateway events are dispatched on separate goroutines.
type Memberships struct {
	mu sync.RWMutex
	m  map[string]string
}

func New() *Memberships {
	return &Memberships{m: make(map[string]string)}
}

// Set records the channel currently owned by the user.
func (r *Memberships) Set(userID, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[userID] = channelID
}

// Get returns the channel owned by the user, or empty string.
func (r *Memberships) Get(userID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.m[userID]
}

// Remove clears the user's entry.
func (r *Memberships) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, userID)
}

// RemoveChannel clears every entry pointing at the channel and returns the
// owners that were cleared.
func (r *Memberships) RemoveChannel(channelID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var owners []string
	for user, ch := range r.m {
		if ch == channelID {
			owners = append(owners, user)
			delete(r.m, user)
		}
	}
	return owners
}

// OwnerOf returns the user recorded as owning the channel, or empty string.
func (r *Memberships) OwnerOf(channelID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for user, ch := range r.m {
		if ch == channelID {
			return user
		}
	}
	return ""
}

// Len returns the number of live entries.
func (r *Memberships) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
