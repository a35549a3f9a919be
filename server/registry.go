package server

import (
	"sort"
	"sync"

	"privchat/protocol"
)

// Registry is the directory of currently-reachable usernames. It is the
// only process-wide mutable state with concurrent writers; every
// operation, including a full presence broadcast, runs as one critical
// section so a login's verify-then-put can never interleave with a
// concurrent disconnect's remove.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Put installs or replaces the session for login and returns the
// displaced prior session, if any. The caller decides what to do with
// the displaced one (the dispatcher force-closes it).
func (r *Registry) Put(login string, sess *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.sessions[login]
	r.sessions[login] = sess
	if prev == sess {
		return nil
	}
	return prev
}

// Remove deletes the mapping for login if present. Idempotent.
func (r *Registry) Remove(login string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, login)
}

// RemoveIf deletes the mapping only if it still points at sess, so a
// disconnecting connection cannot evict the session that superseded it.
func (r *Registry) RemoveIf(login string, sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[login] != sess {
		return false
	}
	delete(r.sessions, login)
	return true
}

func (r *Registry) Lookup(login string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[login]
	return sess, ok
}

// Snapshot returns the sorted set of usernames currently registered.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []string {
	users := make([]string, 0, len(r.sessions))
	for login := range r.sessions {
		users = append(users, login)
	}
	sort.Strings(users)
	return users
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// BroadcastPresence pushes the current snapshot to every registered
// session as an update_users notification. Sessions whose send fails
// are closed and removed, and the pass repeats, so every surviving
// session ends up having seen a snapshot without the dead entries.
// Terminates because each repeat removes at least one session.
func (r *Registry) BroadcastPresence() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		update := protocol.NewPresenceUpdate(r.snapshotLocked())

		var dead []string
		for login, sess := range r.sessions {
			if err := sess.Send(update); err != nil {
				dead = append(dead, login)
			}
		}

		if len(dead) == 0 {
			return
		}

		for _, login := range dead {
			if sess, ok := r.sessions[login]; ok {
				sess.Close()
				delete(r.sessions, login)
			}
		}
	}
}

// Drain closes and removes every session. Used on shutdown.
func (r *Registry) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for login, sess := range r.sessions {
		sess.Close()
		delete(r.sessions, login)
	}
}
