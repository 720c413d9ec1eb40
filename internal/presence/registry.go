// Package presence tracks which users have at least one live connection on
// this node.
package presence

import (
	"sort"
	"sync"
)

type Registry struct {
	mu     sync.Mutex
	byUser map[string]map[string]struct{}
	byConn map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]struct{}),
		byConn: make(map[string]string),
	}
}

// Register binds connID to userID and reports whether the user just came
// online. A connection id is bound at most once; re-registering it is a no-op.
func (r *Registry) Register(userID, connID string) (becameOnline bool) {
	if userID == "" || connID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byConn[connID]; ok {
		return false
	}

	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]struct{}, 1)
		r.byUser[userID] = conns
	}
	conns[connID] = struct{}{}
	r.byConn[connID] = userID
	return len(conns) == 1
}

// Unregister drops connID. ok is false for unknown ids; becameOffline is true
// when this was the user's last connection.
func (r *Registry) Unregister(connID string) (userID string, becameOffline bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.byConn[connID]
	if !ok {
		return "", false, false
	}
	delete(r.byConn, connID)

	conns := r.byUser[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return userID, true, true
	}
	return userID, false, true
}

// ConnectionsOf returns a snapshot of the user's connection ids.
func (r *Registry) ConnectionsOf(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.byUser[userID]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUsers returns the users with at least one connection, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.byUser))
	for uid := range r.byUser {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}
