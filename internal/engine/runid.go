package engine

import (
	"sync"

	"github.com/google/uuid"
)

// UUIDv7Generator issues time-ordered run ids, so sync_runs sorts by id the
// same way it sorts by started_at.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// RunIDFunc adapts a plain function to RunIDGenerator.
type RunIDFunc func() string

// Generate calls f.
func (f RunIDFunc) Generate() string {
	return f()
}

// FixedGenerator hands out a fixed list of run ids in order. It panics once
// the list is used up, which surfaces tests that start more syncs than they
// planned for.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
}

// NewFixedGenerator creates a generator over ids.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next id.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.ids) == 0 {
		panic("FixedGenerator: no run id left")
	}
	id := g.ids[0]
	g.ids = g.ids[1:]
	return id
}

// Remaining reports how many ids have not been handed out.
func (g *FixedGenerator) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids)
}
