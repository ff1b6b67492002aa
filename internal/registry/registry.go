package registry

import (
	"sync"

	"github.com/hostcloudpe/notihub/pkg/interfaces/transport"
)

// Registry tracks which live connections belong to which named channels.
// State is volatile: it is rebuilt from scratch as clients reconnect.
//
// All mutations are serialized by a single mutex so a broadcast started
// after a disconnect never observes the departed connection.
type Registry struct {
	mu sync.RWMutex

	// channel name -> connection id -> connection
	channels map[string]map[string]transport.Connection
	// connection id -> channel names it joined
	memberships map[string][]string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		channels:    make(map[string]map[string]transport.Connection),
		memberships: make(map[string][]string),
	}
}

// Register adds the connection to the channel's membership set. Registering
// the same pair twice is a no-op.
func (r *Registry) Register(conn transport.Connection, channel string) {
	if conn == nil || channel == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]transport.Connection)
		r.channels[channel] = members
	}
	if _, exists := members[conn.ID()]; exists {
		return
	}
	members[conn.ID()] = conn
	r.memberships[conn.ID()] = append(r.memberships[conn.ID()], channel)
}

// UnregisterAll removes the connection from every channel it belonged to.
// Called once on disconnect; runs in O(memberships).
func (r *Registry) UnregisterAll(conn transport.Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, channel := range r.memberships[conn.ID()] {
		members := r.channels[channel]
		delete(members, conn.ID())
		if len(members) == 0 {
			delete(r.channels, channel)
		}
	}
	delete(r.memberships, conn.ID())
}

// MembersOf returns a snapshot of the channel's current connection set.
// The slice is safe to iterate while the registry keeps mutating.
func (r *Registry) MembersOf(channel string) []transport.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.channels[channel]
	out := make([]transport.Connection, 0, len(members))
	for _, conn := range members {
		out = append(out, conn)
	}
	return out
}

// Channels returns the channel names the connection currently belongs to.
func (r *Registry) Channels(conn transport.Connection) []string {
	if conn == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.memberships[conn.ID()]...)
}
