package server

import (
	"sync"

	"go.uber.org/zap"
)

// OnlineUsersGroup is the global presence channel every observer
// session subscribes to.
const OnlineUsersGroup = "online_users"

// RoomGroup names the broadcast group for a room.
func RoomGroup(externalId string) string {
	return "room_" + externalId
}

// group is one independently locked delivery set. Per-group locking
// keeps one room's membership churn from stalling another room's
// broadcasts.
type group struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func (g *group) add(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[c] = struct{}{}
}

func (g *group) discard(c *Client) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.clients, c)
	return len(g.clients)
}

func (g *group) snapshot() []*Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	clients := make([]*Client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	return clients
}

// GroupRegistry maps group names to live sessions. It is created once
// at process start and torn down on shutdown.
type GroupRegistry struct {
	mu     sync.RWMutex
	groups map[string]*group
	log    *zap.Logger
}

func NewGroupRegistry(log *zap.Logger) *GroupRegistry {
	return &GroupRegistry{
		groups: make(map[string]*group),
		log:    log,
	}
}

func (r *GroupRegistry) Add(name string, c *Client) {
	r.mu.Lock()
	g, ok := r.groups[name]
	if !ok {
		g = &group{clients: make(map[*Client]struct{})}
		r.groups[name] = g
	}
	// Membership must land before the registry lock is released, or a
	// concurrent empty-group reap could delete the entry out from under
	// this session.
	g.add(c)
	r.mu.Unlock()

	c.trackGroup(name)
}

func (r *GroupRegistry) Discard(name string, c *Client) {
	r.mu.Lock()
	g, ok := r.groups[name]
	r.mu.Unlock()
	if !ok {
		return
	}

	remaining := g.discard(c)
	c.untrackGroup(name)

	if remaining == 0 {
		r.mu.Lock()
		// Re-check under the write lock; another session may have joined
		// between the discard and here.
		if g, ok := r.groups[name]; ok {
			g.mu.RLock()
			empty := len(g.clients) == 0
			g.mu.RUnlock()
			if empty {
				delete(r.groups, name)
			}
		}
		r.mu.Unlock()
	}
}

// RemoveAll discards the session from every group it joined.
func (r *GroupRegistry) RemoveAll(c *Client) {
	for _, name := range c.groupNames() {
		r.Discard(name, c)
	}
}

// Send delivers the event to every session in the group. Delivery is
// best-effort, at most once per session: a receiver with a full send
// buffer is skipped rather than stalling the fan-out.
func (r *GroupRegistry) Send(name string, ev *ServerEvent) {
	r.mu.RLock()
	g, ok := r.groups[name]
	r.mu.RUnlock()
	if !ok {
		return
	}

	for _, c := range g.snapshot() {
		if !c.queueEvent(ev) {
			r.log.Warn("dropped event for slow session",
				zap.String("group", name),
				zap.String("session_id", c.sessionId),
				zap.Int64("user_id", c.user.Id))
		}
	}
}

// Len reports the current number of sessions in a group.
func (r *GroupRegistry) Len(name string) int {
	r.mu.RLock()
	g, ok := r.groups[name]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Close releases all group memberships.
func (r *GroupRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = make(map[string]*group)
}
