// Package presence tracks which users are currently connected to each
// conversation. Membership here is transient liveness state, never
// persisted.
package presence

import (
	"sort"
	"sync"
)

type Tracker struct {
	mu     sync.RWMutex
	online map[string]map[string]struct{} // conversationID -> set of usernames
}

func NewTracker() *Tracker {
	return &Tracker{
		online: make(map[string]map[string]struct{}),
	}
}

// Join marks username online in the conversation. Joining twice is a
// no-op: the user is simply still present.
func (t *Tracker) Join(conversationID, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.online[conversationID]
	if !ok {
		set = make(map[string]struct{})
		t.online[conversationID] = set
	}
	set[username] = struct{}{}
}

// Leave removes username from the conversation's online set. Leaving a
// conversation the user never joined is a no-op, so cleanup after an
// abnormal disconnect or process restart is always safe.
func (t *Tracker) Leave(conversationID, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.online[conversationID]
	if !ok {
		return
	}
	delete(set, username)
	if len(set) == 0 {
		delete(t.online, conversationID)
	}
}

// Online returns the usernames currently connected to the conversation,
// sorted for deterministic output.
func (t *Tracker) Online(conversationID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.online[conversationID]
	users := make([]string, 0, len(set))
	for u := range set {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}
