// Package replay rejects capture sessions that were already used to
// authenticate.
package replay

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultMaxSize is the number of session ids remembered by default.
const DefaultMaxSize = 50000

// Guard records session ids to ensure each capture authenticates at most once.
type Guard interface {
	// SeenAndRecord atomically checks whether key was seen and records it if
	// not. It returns true when key is a replay.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key so the same capture may be submitted again. Used
	// when the attempt failed before a decision was made.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// Key scopes a session id to its user and biometric type.
func Key(userID, biometricType, sessionID string) string {
	return userID + "/" + biometricType + "/" + sessionID
}

// memoryGuard remembers the most recent keys in a ring. When full, the oldest
// key is forgotten. maxSize <= 0 means unbounded.
type memoryGuard struct {
	mu      sync.Mutex
	seen    map[string]int // key -> ring slot, -1 in unbounded mode
	ring    []string
	next    int
	maxSize int
	size    atomic.Int64
}

// NewMemoryGuard creates an in-memory guard.
func NewMemoryGuard(opts ...Option) Guard {
	g := &memoryGuard{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(g)
	}
	g.seen = make(map[string]int)
	if g.maxSize > 0 {
		g.ring = make([]string, g.maxSize)
	}
	return g
}

func (g *memoryGuard) SeenAndRecord(_ context.Context, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[key]; ok {
		return true
	}
	if g.maxSize <= 0 {
		g.seen[key] = -1
		g.size.Add(1)
		return false
	}

	if old := g.ring[g.next]; old != "" {
		delete(g.seen, old)
		g.size.Add(-1)
	}
	g.ring[g.next] = key
	g.seen[key] = g.next
	g.next = (g.next + 1) % g.maxSize
	g.size.Add(1)
	return false
}

func (g *memoryGuard) Unrecord(_ context.Context, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	slot, ok := g.seen[key]
	if !ok {
		return
	}
	delete(g.seen, key)
	if slot >= 0 {
		g.ring[slot] = ""
	}
	g.size.Add(-1)
}

func (g *memoryGuard) Size() int64 {
	return g.size.Load()
}
