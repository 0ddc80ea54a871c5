package testutil

import (
	"fmt"
	"sync"
)

// SequenceRunIDGenerator returns run-0001, run-0002, ... so run history
// is stable across test executions.
//
// Thread-safety: safe for concurrent use.
type SequenceRunIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceRunIDGenerator creates a generator. An empty prefix uses "run".
func NewSequenceRunIDGenerator(prefix string) *SequenceRunIDGenerator {
	if prefix == "" {
		prefix = "run"
	}
	return &SequenceRunIDGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceRunIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
