package client

import (
	"sort"

	"github.com/samber/lo"
)

// PresenceRoster holds the set of usernames currently online. The server
// always sends the full membership, so every update is a wholesale
// replacement; there is no incremental add/remove path.
//
// PresenceRoster is not safe for concurrent use; the event router
// serializes all access.
type PresenceRoster struct {
	users map[string]struct{}
}

// NewPresenceRoster creates an empty roster.
func NewPresenceRoster() *PresenceRoster {
	return &PresenceRoster{users: make(map[string]struct{})}
}

// Replace overwrites the roster with the given snapshot. Replaying the same
// snapshot is a no-op in effect.
func (r *PresenceRoster) Replace(snapshot []string) {
	users := make(map[string]struct{}, len(snapshot))
	for _, name := range snapshot {
		users[name] = struct{}{}
	}
	r.users = users
}

// Users returns the roster members sorted by name. The slice is a copy.
func (r *PresenceRoster) Users() []string {
	names := lo.Keys(r.users)
	sort.Strings(names)
	return names
}

// Count returns the number of online users.
func (r *PresenceRoster) Count() int {
	return len(r.users)
}

// Contains reports whether the user is currently online.
func (r *PresenceRoster) Contains(name string) bool {
	_, ok := r.users[name]
	return ok
}
