package chat

import (
	"sort"
	"strings"
	"sync"
)

// Presence tracks which usernames are in which room. Names compare
// case-insensitively; the first-joined spelling is kept for display.
type Presence struct {
	mu    sync.Mutex
	rooms map[string]map[string]string // room id -> lower(username) -> display name
}

func NewPresence() *Presence {
	return &Presence{rooms: make(map[string]map[string]string)}
}

func presenceKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// TryAdd adds username to room unless an equal name (ignoring case) is
// already present. It reports whether the name was added.
func (p *Presence) TryAdd(roomID, username string) bool {
	key := presenceKey(username)

	p.mu.Lock()
	defer p.mu.Unlock()

	members, ok := p.rooms[roomID]
	if !ok {
		members = make(map[string]string)
		p.rooms[roomID] = members
	}
	if _, taken := members[key]; taken {
		return false
	}
	members[key] = strings.TrimSpace(username)
	return true
}

func (p *Presence) Remove(roomID, username string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if members, ok := p.rooms[roomID]; ok {
		delete(members, presenceKey(username))
	}
}

// Members returns the display names in room, sorted.
func (p *Presence) Members(roomID string) []string {
	p.mu.Lock()
	members := make([]string, 0, len(p.rooms[roomID]))
	for _, name := range p.rooms[roomID] {
		members = append(members, name)
	}
	p.mu.Unlock()

	sort.Strings(members)
	return members
}

// Clear forgets the room entirely.
func (p *Presence) Clear(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms, roomID)
}
